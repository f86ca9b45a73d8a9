package builder

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	berrors "github.com/toastate/toastpage/internal/errors"
)

// Report summarises one build cycle.
type Report struct {
	BuildID  string
	Started  time.Time
	Duration time.Duration

	Pages    []string // Keys written
	Removed  []string // Keys whose output was deleted
	Canceled []string // Keys superseded by a newer change
	Stages   []string // Asset stages that completed
	Errors   []error

	mu sync.Mutex
}

func newReport() *Report {
	return &Report{
		BuildID: uuid.NewString(),
		Started: time.Now(),
	}
}

func (r *Report) addError(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			if e != nil {
				r.Errors = append(r.Errors, e)
			}
		}
		return
	}
	r.Errors = append(r.Errors, err)
}

func (r *Report) addPage(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Pages = append(r.Pages, key)
}

func (r *Report) addRemoved(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Removed = append(r.Removed, key)
}

func (r *Report) addCanceled(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Canceled = append(r.Canceled, key)
}

func (r *Report) addStage(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Stages = append(r.Stages, name)
}

func (r *Report) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Duration = time.Since(r.Started)
	sort.Strings(r.Pages)
	sort.Strings(r.Removed)
	sort.Strings(r.Canceled)
}

// Failed reports whether any page or stage failed.
func (r *Report) Failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Errors) > 0
}

// Err joins every recorded error, nil when the cycle succeeded.
func (r *Report) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return errors.Join(r.Errors...)
}

func (r *Report) RenderErrors() []error {
	return r.errorsOf(berrors.KindRender)
}

func (r *Report) AssetErrors() []error {
	return r.errorsOf(berrors.KindAsset)
}

func (r *Report) errorsOf(kind berrors.Kind) []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []error
	for _, err := range r.Errors {
		if berrors.IsKind(err, kind) {
			out = append(out, err)
		}
	}
	return out
}
