// Package watcher turns fsnotify notifications on a source tree into entries.Event
// batches for incremental rebuilds.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/toastate/toastpage/internal/entries"
	"github.com/toastate/toastpage/internal/tlogger"
)

type Options struct {
	// Keep lists base names forwarded even though they look hidden, like ".env".
	Keep []string
	// Skip lists directories never watched, like a build directory nested in the root.
	Skip []string
}

type watcher struct {
	fw   *fsnotify.Watcher
	keep map[string]struct{}
	skip []string
}

// Start watches root and every directory below it, directories created later included.
// The returned channel is closed when ctx is done.
func Start(ctx context.Context, root string, opts Options) (<-chan entries.Event, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}

	w := &watcher{
		fw:   fw,
		keep: make(map[string]struct{}, len(opts.Keep)),
	}
	for _, k := range opts.Keep {
		w.keep[k] = struct{}{}
	}
	for _, s := range opts.Skip {
		if abs, err := filepath.Abs(s); err == nil {
			w.skip = append(w.skip, abs)
		}
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		fw.Close()
		return nil, err
	}
	if err := w.addRecursive(abs, nil); err != nil {
		fw.Close()
		return nil, err
	}

	outCh := make(chan entries.Event, 100)
	go w.loop(ctx, outCh)
	return outCh, nil
}

func (w *watcher) loop(ctx context.Context, outCh chan<- entries.Event) {
	defer close(outCh)
	defer w.fw.Close()

	send := func(ev entries.Event) bool {
		select {
		case outCh <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if w.ignored(event.Name) {
				continue
			}
			op := convertOp(event.Op)
			if op == 0 {
				continue
			}

			tlogger.Debug("watcher", "event", "msg", "Detected change", "path", event.Name, "op", op)

			if op.Has(entries.Create) {
				if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
					// Files may land in the directory before it is watched
					var found []string
					_ = w.addRecursive(event.Name, &found)
					for _, p := range found {
						if !send(entries.Event{Path: p, Op: entries.Create}) {
							return
						}
					}
				}
			}

			if !send(entries.Event{Path: event.Name, Op: op}) {
				return
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			tlogger.Warn("watcher", "error", "msg", "watcher error", "err", err)
		}
	}
}

// addRecursive watches every directory under root. Files met on the way are appended to
// found when it is not nil.
func (w *watcher) addRecursive(root string, found *[]string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if d.IsDir() {
			if path != root && (w.skipped(path) || w.ignored(path)) {
				return filepath.SkipDir
			}
			if err := w.fw.Add(path); err != nil {
				tlogger.Warn("watcher", "add", "msg", "watch add failed", "dir", path, "err", err)
			}
			return nil
		}
		if found != nil && !w.ignored(path) {
			*found = append(*found, path)
		}
		return nil
	})
}

func (w *watcher) skipped(path string) bool {
	for _, s := range w.skip {
		if path == s || strings.HasPrefix(path, s+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (w *watcher) ignored(path string) bool {
	if w.skipped(path) {
		return true
	}
	if _, ok := w.keep[filepath.Base(path)]; ok {
		return false
	}
	return shouldIgnoreEvent(path)
}

// shouldIgnoreEvent reports hidden files, editor swap files and OS metadata.
func shouldIgnoreEvent(path string) bool {
	base := filepath.Base(path)

	if strings.HasPrefix(base, ".") {
		return true
	}

	if strings.HasSuffix(base, "~") ||
		strings.HasSuffix(base, ".swp") ||
		strings.HasSuffix(base, ".swx") ||
		strings.HasPrefix(base, "#") && strings.HasSuffix(base, "#") {
		return true
	}

	if base == "Thumbs.db" || base == "4913" {
		return true
	}

	return false
}

func convertOp(op fsnotify.Op) entries.Op {
	var out entries.Op
	if op.Has(fsnotify.Create) {
		out |= entries.Create
	}
	if op.Has(fsnotify.Write) {
		out |= entries.Write
	}
	if op.Has(fsnotify.Remove) {
		out |= entries.Remove
	}
	if op.Has(fsnotify.Rename) {
		out |= entries.Rename
	}
	return out
}
