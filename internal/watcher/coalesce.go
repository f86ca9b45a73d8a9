package watcher

import (
	"context"
	"time"

	"github.com/toastate/toastpage/internal/entries"
)

// Coalesce groups events into batches. A batch is emitted once no event arrived for
// quiet. Events received while a batch waits for its reader are added to it, nothing is
// dropped. The output is closed when in is closed (after the last batch) or ctx is done.
func Coalesce(ctx context.Context, in <-chan entries.Event, quiet time.Duration) <-chan []entries.Event {
	out := make(chan []entries.Event)

	go func() {
		defer close(out)

		var (
			pending []entries.Event
			timer   *time.Timer
			timerC  <-chan time.Time
			sendC   chan<- []entries.Event
		)
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-in:
				if !ok {
					if len(pending) > 0 {
						select {
						case out <- pending:
						case <-ctx.Done():
						}
					}
					return
				}
				pending = merge(pending, ev)
				sendC = nil
				if timer == nil {
					timer = time.NewTimer(quiet)
				} else {
					timer.Reset(quiet)
				}
				timerC = timer.C
			case <-timerC:
				timerC = nil
				sendC = out
			case sendC <- pending:
				pending = nil
				sendC = nil
			}
		}
	}()

	return out
}

// merge adds ev to batch, ops of a path already in the batch are combined.
func merge(batch []entries.Event, ev entries.Event) []entries.Event {
	for i := range batch {
		if batch[i].Path == ev.Path {
			batch[i].Op |= ev.Op
			return batch
		}
	}
	return append(batch, ev)
}
