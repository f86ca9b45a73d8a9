package builder

import (
	"context"
	"sync"

	"github.com/toastate/toastpage/internal/entries"
	"github.com/toastate/toastpage/internal/metrics"
	"github.com/toastate/toastpage/pkg/config"
)

type Builder struct {
	cfg *config.Configuration

	initMu      sync.Mutex
	initialized bool

	srcDir   string
	buildDir string
	pagesDir string

	tracker  *entries.Tracker
	pages    *PageStage
	stages   []AssetStage
	writer   *Writer
	minifier *Minifier
	inflight *inflight

	renderer Renderer
	recorder metrics.Recorder
	workers  int

	// Cold builds hold the write lock: the build directory is erased before any
	// writer starts. Incremental rebuilds share the read lock.
	buildMu sync.RWMutex
}

type Option func(*Builder)

// WithRecorder sets the metrics recorder, NoopRecorder by default.
func WithRecorder(r metrics.Recorder) Option {
	return func(b *Builder) {
		b.recorder = r
	}
}

// WithRenderer replaces the html/template renderer.
func WithRenderer(r Renderer) Option {
	return func(b *Builder) {
		b.renderer = r
	}
}

// WithWorkers bounds the number of pages generated concurrently.
func WithWorkers(n int) Option {
	return func(b *Builder) {
		b.workers = n
	}
}

func NewBuilder(cfg *config.Configuration, opts ...Option) *Builder {
	b := &Builder{
		cfg:      cfg,
		recorder: metrics.NoopRecorder{},
		inflight: newInflight(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Builder) BuildDir() string {
	return b.buildDir
}

func (b *Builder) SrcDir() string {
	return b.srcDir
}

func (b *Builder) Config() *config.Configuration {
	return b.cfg
}

// Entries returns the current page snapshot, nil before Init.
func (b *Builder) Entries() *entries.Set {
	b.initMu.Lock()
	defer b.initMu.Unlock()
	if b.tracker == nil {
		return nil
	}
	return b.tracker.Current()
}

// AssetStage is a fixed entry pipeline step (style, script, images).
type AssetStage interface {
	Name() string
	Init() error
	// CanHandle reports whether a change to path, relative to the source directory,
	// requires the stage to run again.
	CanHandle(path string) bool
	Process(ctx context.Context) error
}
