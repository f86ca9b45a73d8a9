package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/alecthomas/kong"
	"github.com/davecgh/go-spew/spew"

	"github.com/toastate/toastpage/internal/builder"
	"github.com/toastate/toastpage/internal/entries"
	"github.com/toastate/toastpage/internal/server"
	"github.com/toastate/toastpage/internal/tlogger"
	"github.com/toastate/toastpage/pkg/config"
)

var CLI struct {
	Build CommandBuild `cmd:"" aliases:"b" help:"Builds or rebuilds the project."`
	Serve CommandServe `cmd:"" aliases:"s" help:"Run a live dev server."`
	List  CommandList  `cmd:"" aliases:"ls" help:"List the pages that would be generated."`

	ConfigFile string `short:"c" name:"config" help:"configuration file path (optional)"`
	Mode       string `short:"m" help:"Build mode: development or production."`
}

type Dirs struct {
	SrcDir   string `help:"Source directory." type:"existingdir"`
	BuildDir string `help:"Build output."`
}

type CommandBuild struct {
	Dirs

	Verbose int `short:"v" help:"Print verbose output." type:"counter"`
}

type CommandServe struct {
	Dirs
	NoBuild bool `help:"Don't run build, only serve the build directory."`

	Port int  `short:"p" help:"Listener port"`
	Open bool `short:"o" help:"Open the served site in the default browser."`

	Verbose int `short:"v" help:"Print verbose output." type:"counter"`
}

type CommandList struct {
	Dirs

	Verbose int `short:"v" help:"Print verbose output, -vv dumps every entry." type:"counter"`
}

func main() {
	kctx := kong.Parse(&CLI,
		kong.Name("toastpage"),
		kong.Description("Multi-page static front-end builder."),
		kong.UsageOnError(),
	)

	tlogger.FatalIf(config.Init(CLI.ConfigFile))
	if CLI.Mode != "" {
		config.Config.Mode = config.Mode(CLI.Mode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kctx.BindTo(ctx, (*context.Context)(nil))
	err := kctx.Run()
	kctx.FatalIfErrorf(err)
}

func applyVerbose(v int) {
	switch v {
	case 0:
		tlogger.ApplyLogLevel("info")
	case 1:
		tlogger.ApplyLogLevel("debug")
	default:
		tlogger.ApplyLogLevel("all")
	}
}

func (d Dirs) apply(cfg *config.Configuration) {
	if d.SrcDir != "" {
		cfg.SrcDir = d.SrcDir
	}
	if d.BuildDir != "" {
		cfg.BuildDir = d.BuildDir
	}
}

func (r *CommandBuild) Run(ctx context.Context) error {
	applyVerbose(r.Verbose)
	r.apply(config.Config)

	buildtool := builder.NewBuilder(config.Config)

	report, err := buildtool.Build(ctx)
	if err != nil {
		return err
	}

	if report.Failed() {
		tlogger.Error("msg", "Build failed", "render_errors", len(report.RenderErrors()), "asset_errors", len(report.AssetErrors()))
		os.Exit(1)
	}

	return nil
}

func (r *CommandServe) Run(ctx context.Context) error {
	applyVerbose(r.Verbose)
	r.apply(config.Config)

	if r.Port > 0 {
		config.Config.ServeConfig.Port = r.Port
	}
	if r.Open {
		config.Config.ServeConfig.Open = true
	}

	serv := server.NewServer(config.Config)

	return serv.Start(ctx, !r.NoBuild)
}

func (r *CommandList) Run(ctx context.Context) error {
	applyVerbose(r.Verbose)
	r.apply(config.Config)

	cfg := config.Config
	set, err := entries.Discover(cfg.PagesDir(), cfg.Pages.Include, cfg.Pages.Exclude)
	if err != nil {
		return err
	}

	if r.Verbose >= 2 {
		spew.Dump(set.Entries())
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, e := range set.Entries() {
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.Key, e.Template.RelPath, e.Output)
	}
	if r.Verbose >= 1 {
		for _, p := range set.Partials() {
			fmt.Fprintf(w, "%s\t%s\t(partial)\n", entries.KeyFor(p.RelPath), p.RelPath)
		}
	}
	return w.Flush()
}
