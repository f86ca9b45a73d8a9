package builder

import (
	"context"
	"sync"
)

// inflight implements last-write-wins per output key. Starting a job for a key cancels
// the previous job of that key, and a job may only write while it is still the latest.
type inflight struct {
	mu    sync.Mutex
	gen   uint64
	jobs  map[string]*inflightJob
	locks map[string]*sync.Mutex
}

type inflightJob struct {
	gen    uint64
	cancel context.CancelFunc
}

func newInflight() *inflight {
	return &inflight{
		jobs:  make(map[string]*inflightJob),
		locks: make(map[string]*sync.Mutex),
	}
}

// begin registers a new job for key and cancels the one it supersedes.
func (f *inflight) begin(ctx context.Context, key string) (context.Context, uint64) {
	jctx, cancel := context.WithCancel(ctx)

	f.mu.Lock()
	defer f.mu.Unlock()

	if prev, ok := f.jobs[key]; ok {
		prev.cancel()
	}
	f.gen++
	f.jobs[key] = &inflightJob{gen: f.gen, cancel: cancel}
	if _, ok := f.locks[key]; !ok {
		f.locks[key] = &sync.Mutex{}
	}
	return jctx, f.gen
}

func (f *inflight) current(key string, gen uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[key]
	return ok && j.gen == gen
}

// commit runs write if gen is still the latest job for key. Writes of one key never
// overlap.
func (f *inflight) commit(key string, gen uint64, write func() error) (bool, error) {
	f.mu.Lock()
	lock := f.locks[key]
	f.mu.Unlock()
	if lock == nil {
		return false, nil
	}

	lock.Lock()
	defer lock.Unlock()

	if !f.current(key, gen) {
		return false, nil
	}
	return true, write()
}

// done releases the job context. The key is forgotten if no newer job started.
func (f *inflight) done(key string, gen uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[key]
	if !ok || j.gen != gen {
		return
	}
	j.cancel()
	delete(f.jobs, key)
}
