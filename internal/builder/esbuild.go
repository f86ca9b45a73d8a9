package builder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/toastate/toastpage/internal/tlogger"
)

var esbuildTargets = map[string]api.Target{
	"es5":    api.ES5,
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"esnext": api.ESNext,
}

// Browsers the stylesheet is lowered and prefixed for.
var cssEngines = []api.Engine{
	{Name: api.EngineChrome, Version: "64"},
	{Name: api.EngineEdge, Version: "79"},
	{Name: api.EngineFirefox, Version: "67"},
	{Name: api.EngineSafari, Version: "11.1"},
	{Name: api.EngineIOS, Version: "11.3"},
}

// References left untouched by the bundler, images and fonts are copied by the image
// stage or shipped by hand.
var cssExternals = []string{
	"*.png", "*.jpg", "*.jpeg", "*.gif", "*.svg", "*.webp", "*.avif", "*.ico",
	"*.woff", "*.woff2", "*.ttf", "*.otf", "*.eot",
}

// bundleEntry is the shared part of the style and script stages.
type bundleEntry struct {
	builder *Builder
	stage   string

	entry   string // Relative to the source directory
	srcPath string
	outRel  string // Relative to the build directory, slash separated
	dir     string // Source directory watched for changes
	exts    map[string]bool
}

func newBundleEntry(b *Builder, stage, entry, outDir, outExt string, exts ...string) bundleEntry {
	name := strings.TrimSuffix(filepath.Base(entry), filepath.Ext(entry))
	be := bundleEntry{
		builder: b,
		stage:   stage,
		entry:   entry,
		srcPath: filepath.Join(b.srcDir, entry),
		outRel:  filepath.ToSlash(filepath.Join(outDir, name+outExt)),
		dir:     filepath.Dir(entry),
		exts:    map[string]bool{},
	}
	for _, e := range exts {
		be.exts[e] = true
	}
	return be
}

func (be *bundleEntry) canHandle(rel string) bool {
	if be.entry == "" {
		return false
	}
	return be.exts[strings.ToLower(filepath.Ext(rel))] && within(be.dir, rel)
}

// exists reports whether the entry file is present. A missing entry skips the stage,
// an empty one disables it.
func (be *bundleEntry) exists() bool {
	if be.entry == "" {
		return false
	}
	if _, err := os.Stat(be.srcPath); err != nil {
		tlogger.Warn("builder", be.stage, "msg", "entry not found, skipping", "file", be.entry)
		return false
	}
	return true
}

// run bundles the entry with opts and writes every output file through the builder's
// writer.
func (be *bundleEntry) run(ctx context.Context, opts api.BuildOptions) error {
	b := be.builder
	outfile := filepath.Join(b.buildDir, filepath.FromSlash(be.outRel))

	opts.EntryPoints = []string{be.srcPath}
	opts.Outfile = outfile
	opts.Bundle = true
	opts.Write = false
	opts.AbsWorkingDir = b.srcDir
	opts.LogLevel = api.LogLevelSilent

	mode := b.cfg.Mode
	if mode.Minify() {
		opts.MinifyWhitespace = true
		opts.MinifyIdentifiers = true
		opts.MinifySyntax = true
	}
	if mode.SourceMaps() {
		opts.Sourcemap = api.SourceMapLinked
		opts.SourcesContent = api.SourcesContentInclude
	}

	tlogger.Debug("builder", be.stage, "msg", "processing", "file", be.entry)

	result := api.Build(opts)
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(result.Errors) > 0 {
		msgs := api.FormatMessages(result.Errors, api.FormatMessagesOptions{
			Kind: api.ErrorMessage,
		})
		for _, m := range msgs {
			tlogger.Error("builder", be.stage, "msg", "bundler", "file", be.entry, "err", strings.TrimSpace(m))
		}
		return fmt.Errorf("%d bundling errors: %s", len(result.Errors), result.Errors[0].Text)
	}
	for _, w := range result.Warnings {
		tlogger.Warn("builder", be.stage, "msg", "bundler", "file", be.entry, "warn", w.Text)
	}

	var errs []error
	for _, f := range result.OutputFiles {
		rel, err := filepath.Rel(b.buildDir, f.Path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		err = b.writer.Write(filepath.ToSlash(rel), f.Contents)
		if err != nil {
			tlogger.Error("builder", be.stage, "msg", "output file creation", "file", rel, "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
