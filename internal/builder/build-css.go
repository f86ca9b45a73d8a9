package builder

import (
	"context"

	"github.com/evanw/esbuild/pkg/api"

	berrors "github.com/toastate/toastpage/internal/errors"
	"github.com/toastate/toastpage/internal/tlogger"
)

// StyleStage bundles the stylesheet entry: @import is inlined, nesting is lowered and
// vendor prefixes are added for cssEngines.
type StyleStage struct {
	builder *Builder
	bundle  bundleEntry
}

func (cb *StyleStage) Name() string {
	return "style"
}

func (cb *StyleStage) Init() error {
	tlogger.Debug("builder", "css", "msg", "init")

	conf := cb.builder.cfg.Styles
	cb.bundle = newBundleEntry(cb.builder, cb.Name(), conf.Entry, conf.OutDir, ".css", ".css")
	return nil
}

func (cb *StyleStage) CanHandle(path string) bool {
	return cb.bundle.canHandle(path)
}

// OutputPath is the stylesheet location relative to the build directory.
func (cb *StyleStage) OutputPath() string {
	return cb.bundle.outRel
}

func (cb *StyleStage) Process(ctx context.Context) error {
	if !cb.bundle.exists() {
		return nil
	}

	err := cb.bundle.run(ctx, api.BuildOptions{
		Engines:  cssEngines,
		External: cssExternals,
		Loader: map[string]api.Loader{
			".css": api.LoaderCSS,
		},
	})
	if err != nil {
		return berrors.Asset(cb.Name(), cb.bundle.entry, err)
	}
	return nil
}
