package builder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/toastate/toastpage/internal/entries"
	berrors "github.com/toastate/toastpage/internal/errors"
	"github.com/toastate/toastpage/internal/metrics"
	"github.com/toastate/toastpage/internal/tlogger"
)

func (b *Builder) Init() error {
	b.initMu.Lock()
	defer b.initMu.Unlock()

	if b.initialized {
		return nil
	}

	err := b.cfg.Validate()
	if err != nil {
		return berrors.WrapConfiguration(err, "invalid configuration")
	}

	b.srcDir, err = filepath.Abs(b.cfg.SrcDir)
	if err != nil {
		return berrors.WrapConfiguration(err, "source directory", b.cfg.SrcDir)
	}
	b.buildDir, err = filepath.Abs(b.cfg.BuildDir)
	if err != nil {
		return berrors.WrapConfiguration(err, "build directory", b.cfg.BuildDir)
	}
	b.pagesDir = filepath.Join(b.srcDir, b.cfg.Pages.Dir)

	if f, err := os.Stat(b.srcDir); err != nil || !f.IsDir() {
		tlogger.Error("msg", "Src folder not found", "path", b.srcDir, "err", err)
		return berrors.Configuration("source directory not found", b.srcDir)
	}

	b.tracker, err = entries.NewTracker(b.pagesDir, entries.Rules{
		Include: b.cfg.Pages.Include,
		Exclude: b.cfg.Pages.Exclude,
	})
	if err != nil {
		return err
	}

	if b.workers <= 0 {
		b.workers = b.cfg.Pages.Workers
	}
	if b.workers <= 0 {
		b.workers = runtime.NumCPU()
	}

	b.writer = NewWriter(b.buildDir)
	b.minifier = NewMinifier()
	if b.renderer == nil {
		b.renderer = NewTemplateRenderer(b)
	}
	b.pages = &PageStage{builder: b}

	b.stages = []AssetStage{
		&StyleStage{builder: b},
		&ScriptStage{builder: b},
		&ImageStage{builder: b},
	}
	for _, v := range b.stages {
		err := v.Init()
		if err != nil {
			return err
		}
	}

	b.initialized = true
	return nil
}

// Build runs a cold build: the build directory is erased, every asset stage runs and
// every page is generated. The error is only set for configuration failures, page and
// asset failures are collected in the report.
func (b *Builder) Build(ctx context.Context) (*Report, error) {
	err := b.Init()
	if err != nil {
		b.recorder.IncBuildOutcome(metrics.ResultFailed)
		return nil, err
	}

	b.buildMu.Lock()
	defer b.buildMu.Unlock()

	set, err := b.tracker.Rescan()
	if err != nil {
		b.recorder.IncBuildOutcome(metrics.ResultFailed)
		return nil, err
	}

	report := newReport()

	err = b.writer.Clean()
	if err != nil {
		b.recorder.IncBuildOutcome(metrics.ResultFailed)
		return nil, berrors.WrapConfiguration(err, "cannot reset build directory", b.buildDir)
	}

	tlogger.Info("msg", "Building started", "path", b.srcDir, "pages", set.Len(), "build_id", report.BuildID)

	for _, stage := range b.stages {
		b.runStage(ctx, stage, report)
	}

	b.pages.Generate(ctx, set, set.Keys(), report)

	b.finish(report, set)
	tlogger.Info("msg", "Building finished", "path", b.srcDir, "pages", len(report.Pages), "errors", len(report.Errors), "duration", report.Duration)
	return report, nil
}

// Rebuild applies filesystem events: outputs of removed pages are deleted, added and
// modified pages are regenerated and asset stages run again when one of their sources
// changed. A change to a partial or to the template data regenerates every page.
func (b *Builder) Rebuild(ctx context.Context, events []entries.Event) (*Report, error) {
	err := b.Init()
	if err != nil {
		return nil, err
	}

	b.buildMu.RLock()
	defer b.buildMu.RUnlock()

	change, err := b.tracker.OnChange(events...)
	if err != nil {
		b.recorder.IncBuildOutcome(metrics.ResultFailed)
		return nil, err
	}

	report := newReport()

	for _, key := range change.Removed {
		b.pages.Remove(ctx, key, report)
	}

	regenerateAll := change.PartialsChanged
	var changed []string
	for _, ev := range events {
		p, err := filepath.Abs(ev.Path)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(b.srcDir, p)
		if err != nil {
			continue
		}
		rel = filepath.ToSlash(rel)
		if rel == ".." || strings.HasPrefix(rel, "../") {
			continue
		}
		if b.isDataFile(rel) {
			regenerateAll = true
		}
		changed = append(changed, rel)
	}

	for _, stage := range b.stages {
		for _, rel := range changed {
			if stage.CanHandle(rel) {
				b.runStage(ctx, stage, report)
				break
			}
		}
	}

	var keys []string
	if regenerateAll {
		keys = change.Set.Keys()
	} else {
		keys = append(keys, change.Added...)
		keys = append(keys, change.Modified...)
	}
	if len(keys) > 0 {
		tlogger.Debug("builder", "rebuild", "msg", "regenerating pages", "count", len(keys), "all", regenerateAll)
		b.pages.Generate(ctx, change.Set, keys, report)
	}

	b.finish(report, change.Set)
	tlogger.Info("msg", "Rebuild finished", "pages", len(report.Pages), "removed", len(report.Removed), "stages", len(report.Stages), "errors", len(report.Errors), "duration", report.Duration)
	return report, nil
}

func (b *Builder) runStage(ctx context.Context, stage AssetStage, report *Report) {
	start := time.Now()
	err := stage.Process(ctx)
	b.recorder.ObserveStageDuration(stage.Name(), time.Since(start))

	switch {
	case err == nil:
		b.recorder.IncStageResult(stage.Name(), metrics.ResultSuccess)
		report.addStage(stage.Name())
	case errors.Is(err, context.Canceled):
		b.recorder.IncStageResult(stage.Name(), metrics.ResultCanceled)
	default:
		tlogger.Error("msg", "Error processing stage", "builder", stage.Name(), "err", err)
		b.recorder.IncStageResult(stage.Name(), metrics.ResultFailed)
		report.addError(err)
	}
}

func (b *Builder) finish(report *Report, set *entries.Set) {
	report.finish()
	b.recorder.SetPageCount(set.Len())
	b.recorder.ObserveBuildDuration(report.Duration)
	if report.Failed() {
		b.recorder.IncBuildOutcome(metrics.ResultFailed)
	} else {
		b.recorder.IncBuildOutcome(metrics.ResultSuccess)
	}
}
