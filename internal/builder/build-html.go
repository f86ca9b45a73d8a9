package builder

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"os"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"

	"github.com/toastate/toastpage/internal/entries"
	berrors "github.com/toastate/toastpage/internal/errors"
	"github.com/toastate/toastpage/internal/metrics"
	"github.com/toastate/toastpage/internal/tlogger"
	"github.com/toastate/toastpage/pkg/config"
)

// RenderFunc renders one page of a prepared build cycle. It may be called concurrently.
type RenderFunc func(ctx context.Context, entry entries.Entry) ([]byte, error)

// Renderer turns page entries into HTML documents. Prepare is called once per build
// cycle with the snapshot being generated.
type Renderer interface {
	Prepare(set *entries.Set, buildID string) (RenderFunc, error)
}

// PageData is the dot value of every page template.
type PageData struct {
	Key     string
	Output  string
	Root    string // Relative prefix from the page to the output root
	Mode    config.Mode
	BuildID string
	Data    map[string]any
	Env     map[string]string
}

// TemplateRenderer renders pages with html/template. Partials are parsed once per cycle
// and can be called by their key: {{ template "_header" . }}.
type TemplateRenderer struct {
	builder *Builder
	md      goldmark.Markdown
}

func NewTemplateRenderer(b *Builder) *TemplateRenderer {
	return &TemplateRenderer{
		builder: b,
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		),
	}
}

func (r *TemplateRenderer) Prepare(set *entries.Set, buildID string) (RenderFunc, error) {
	td, err := r.builder.loadTemplateData()
	if err != nil {
		return nil, err
	}

	base := template.New("").Funcs(r.funcs(PageData{}))
	for _, partial := range set.Partials() {
		src, err := os.ReadFile(partial.Path)
		if err != nil {
			tlogger.Error("builder", "html", "msg", "file error", "file", partial.RelPath, "err", err)
			return nil, err
		}
		_, err = base.New(entries.KeyFor(partial.RelPath)).Parse(string(replaceWindowsCarriageReturn(src)))
		if err != nil {
			tlogger.Error("builder", "html", "msg", "templater", "file", partial.RelPath, "err", err)
			return nil, fmt.Errorf("partial %s: %w", partial.RelPath, err)
		}
	}

	mode := r.builder.cfg.Mode
	return func(ctx context.Context, entry entries.Entry) ([]byte, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		src, err := os.ReadFile(entry.Template.Path)
		if err != nil {
			return nil, err
		}

		data := PageData{
			Key:     entry.Key,
			Output:  entry.Output,
			Root:    rootPrefix(entry.Output),
			Mode:    mode,
			BuildID: buildID,
			Data:    td.Data,
			Env:     td.Env,
		}

		t, err := base.Clone()
		if err != nil {
			return nil, err
		}
		t, err = t.Funcs(r.funcs(data)).New(entry.Template.RelPath).Parse(string(replaceWindowsCarriageReturn(src)))
		if err != nil {
			return nil, err
		}

		buf := &bytes.Buffer{}
		err = t.Execute(buf, data)
		if err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}, nil
}

func (r *TemplateRenderer) funcs(data PageData) template.FuncMap {
	return template.FuncMap{
		"asset": func(p string) string {
			return data.Root + strings.TrimPrefix(p, "/")
		},
		"json": func(v any) (template.JS, error) {
			b, err := marshalJSON(v)
			return template.JS(b), err
		},
		"markdown": func(s string) (template.HTML, error) {
			buf := &bytes.Buffer{}
			err := r.md.Convert([]byte(s), buf)
			return template.HTML(buf.String()), err
		},
		"env": func(k string) string {
			if v, ok := data.Env[k]; ok {
				return v
			}
			return os.Getenv(k)
		},
	}
}

// PageStage renders and writes pages through a bounded worker pool.
type PageStage struct {
	builder *Builder
}

// Generate renders keys of set. Failures are recorded per page and never stop the
// other pages.
func (ps *PageStage) Generate(ctx context.Context, set *entries.Set, keys []string, report *Report) {
	b := ps.builder
	start := time.Now()
	defer func() {
		b.recorder.ObserveStageDuration("html", time.Since(start))
	}()

	render, err := b.renderer.Prepare(set, report.BuildID)
	if err != nil {
		tlogger.Error("builder", "html", "msg", "cannot prepare templates", "err", err)
		for _, key := range keys {
			entry, ok := set.Get(key)
			if !ok {
				continue
			}
			report.addError(berrors.Render(key, entry.Template.RelPath, err))
			b.recorder.IncPageResult(metrics.ResultFailed)
		}
		return
	}

	runPool(b.workers, keys, func(key string) {
		ps.generate(ctx, set, key, render, report)
	})
}

func (ps *PageStage) generate(ctx context.Context, set *entries.Set, key string, render RenderFunc, report *Report) {
	b := ps.builder
	entry, ok := set.Get(key)
	if !ok {
		return
	}

	jctx, gen := b.inflight.begin(ctx, key)
	defer b.inflight.done(key, gen)

	tlogger.Debug("builder", "html", "msg", "processing", "file", entry.Template.RelPath, "key", key)

	out, err := render(jctx, entry)
	if jctx.Err() != nil {
		ps.canceled(key, report)
		return
	}
	if err == nil && b.cfg.Mode.Minify() {
		out, err = b.minifier.Bytes(mediaHTML, out)
	}
	if err != nil {
		tlogger.Error("builder", "html", "msg", "templater", "file", entry.Template.RelPath, "err", err)
		report.addError(berrors.Render(key, entry.Template.RelPath, err))
		b.recorder.IncPageResult(metrics.ResultFailed)
		return
	}

	written, err := b.inflight.commit(key, gen, func() error {
		return b.writer.Write(entry.Output, out)
	})
	if err != nil {
		tlogger.Error("builder", "html", "msg", "output file creation", "file", entry.Output, "err", err)
		report.addError(berrors.Render(key, entry.Template.RelPath, err))
		b.recorder.IncPageResult(metrics.ResultFailed)
		return
	}
	if !written {
		ps.canceled(key, report)
		return
	}

	report.addPage(key)
	b.recorder.IncPageResult(metrics.ResultSuccess)
}

func (ps *PageStage) canceled(key string, report *Report) {
	tlogger.Debug("builder", "html", "msg", "superseded", "key", key)
	report.addCanceled(key)
	ps.builder.recorder.IncPageResult(metrics.ResultCanceled)
}

// Remove deletes the output of a page that no longer exists. Renders of key still in
// flight are canceled.
func (ps *PageStage) Remove(ctx context.Context, key string, report *Report) {
	b := ps.builder
	_, gen := b.inflight.begin(ctx, key)
	defer b.inflight.done(key, gen)

	output := entries.OutputFor(key)
	_, err := b.inflight.commit(key, gen, func() error {
		return b.writer.Remove(output)
	})
	if err != nil {
		tlogger.Error("builder", "html", "msg", "cannot remove output", "file", output, "err", err)
		report.addError(berrors.Render(key, output, err))
		return
	}
	report.addRemoved(key)
}
