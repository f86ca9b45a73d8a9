package builder

import (
	"context"
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	berrors "github.com/toastate/toastpage/internal/errors"
	"github.com/toastate/toastpage/internal/tlogger"
)

// ScriptStage bundles the script entry into a single IIFE for browsers.
type ScriptStage struct {
	builder *Builder
	bundle  bundleEntry
	target  api.Target
}

func (cb *ScriptStage) Name() string {
	return "script"
}

func (cb *ScriptStage) Init() error {
	tlogger.Debug("builder", "js", "msg", "init")

	conf := cb.builder.cfg.Scripts
	name := strings.ToLower(conf.Target)
	if name == "" {
		name = "es2015"
	}
	target, ok := esbuildTargets[name]
	if !ok {
		return berrors.Configuration(fmt.Sprintf("unknown script target %q", conf.Target))
	}
	cb.target = target
	cb.bundle = newBundleEntry(cb.builder, cb.Name(), conf.Entry, conf.OutDir, ".js",
		".js", ".mjs", ".cjs", ".ts", ".jsx", ".tsx")
	return nil
}

func (cb *ScriptStage) CanHandle(path string) bool {
	return cb.bundle.canHandle(path)
}

// OutputPath is the script location relative to the build directory.
func (cb *ScriptStage) OutputPath() string {
	return cb.bundle.outRel
}

func (cb *ScriptStage) Process(ctx context.Context) error {
	if !cb.bundle.exists() {
		return nil
	}

	err := cb.bundle.run(ctx, api.BuildOptions{
		Format:   api.FormatIIFE,
		Platform: api.PlatformBrowser,
		Target:   cb.target,
		Define: map[string]string{
			"process.env.NODE_ENV": fmt.Sprintf("%q", string(cb.builder.cfg.Mode)),
		},
	})
	if err != nil {
		return berrors.Asset(cb.Name(), cb.bundle.entry, err)
	}
	return nil
}
