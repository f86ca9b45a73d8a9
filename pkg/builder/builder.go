// Package builder exposes the page builder to Go programs embedding toastpage.
package builder

import (
	"context"

	"github.com/toastate/toastpage/internal/builder"
	"github.com/toastate/toastpage/internal/entries"
	"github.com/toastate/toastpage/internal/metrics"
	"github.com/toastate/toastpage/pkg/config"
)

type (
	Report     = builder.Report
	Option     = builder.Option
	Renderer   = builder.Renderer
	RenderFunc = builder.RenderFunc
	PageData   = builder.PageData

	EntrySet = entries.Set
	Entry    = entries.Entry
	Event    = entries.Event
	Op       = entries.Op

	Recorder = metrics.Recorder
)

const (
	Create = entries.Create
	Write  = entries.Write
	Remove = entries.Remove
	Rename = entries.Rename
)

type Builder interface {
	Init() error
	Build(ctx context.Context) (*Report, error)
	Rebuild(ctx context.Context, events []Event) (*Report, error)
	Entries() *EntrySet
}

func NewBuilder(cfg *config.Configuration, opts ...Option) Builder {
	return builder.NewBuilder(cfg, opts...)
}

func WithRecorder(r Recorder) Option {
	return builder.WithRecorder(r)
}

func WithRenderer(r Renderer) Option {
	return builder.WithRenderer(r)
}

func WithWorkers(n int) Option {
	return builder.WithWorkers(n)
}

// Discover lists the pages of rootDir without building them.
func Discover(rootDir string, include, exclude []string) (*EntrySet, error) {
	return entries.Discover(rootDir, include, exclude)
}
