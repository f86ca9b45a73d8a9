package builder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toastate/toastpage/internal/entries"
	berrors "github.com/toastate/toastpage/internal/errors"
	"github.com/toastate/toastpage/pkg/config"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
}

// newTestBuilder lays out pages under <tmp>/src/pages and builds into <tmp>/dist.
func newTestBuilder(t *testing.T, pages map[string]string, opts ...Option) (*Builder, *config.Configuration) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.SrcDir = filepath.Join(dir, "src")
	cfg.BuildDir = filepath.Join(dir, "dist")

	require.NoError(t, os.MkdirAll(filepath.Join(cfg.SrcDir, "pages"), 0o755))
	writeFiles(t, filepath.Join(cfg.SrcDir, "pages"), pages)

	return NewBuilder(cfg, opts...), cfg
}

func readOutput(t *testing.T, cfg *config.Configuration, rel string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(cfg.BuildDir, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(b)
}

func srcPath(cfg *config.Configuration, rel string) string {
	return filepath.Join(cfg.SrcDir, filepath.FromSlash(rel))
}

func TestBuildPagesAndPartials(t *testing.T) {
	b, cfg := newTestBuilder(t, map[string]string{
		"index.html":   `{{ template "_header" . }}<main>home</main>`,
		"about.html":   `{{ template "_header" . }}<main>about</main>`,
		"_header.html": `<header>{{ .Key }}</header>`,
	})

	report, err := b.Build(context.Background())
	require.NoError(t, err)
	require.NoError(t, report.Err())

	assert.Equal(t, []string{"about", "index"}, report.Pages)
	assert.NotEmpty(t, report.BuildID)

	assert.Equal(t, "<header>index</header><main>home</main>", readOutput(t, cfg, "index.html"))
	assert.Equal(t, "<header>about</header><main>about</main>", readOutput(t, cfg, "about.html"))

	_, err = os.Stat(filepath.Join(cfg.BuildDir, "_header.html"))
	assert.True(t, os.IsNotExist(err))
}

func TestBuildNestedPage(t *testing.T) {
	b, cfg := newTestBuilder(t, map[string]string{
		"blog/post.html":        `<link href="{{ asset "assets/css/style.css" }}">{{ template "partials/_nav" . }}`,
		"partials/_nav.html":    `<nav>{{ .Root }}index.html</nav>`,
		"blog/_draft.html":      `draft`,
		"blog/archive/old.html": `{{ asset "/assets/js/main.js" }}`,
	})

	report, err := b.Build(context.Background())
	require.NoError(t, err)
	require.NoError(t, report.Err())

	assert.Equal(t, []string{"blog/archive/old", "blog/post"}, report.Pages)
	assert.Equal(t, `<link href="../assets/css/style.css"><nav>../index.html</nav>`, readOutput(t, cfg, "blog/post.html"))
	assert.Equal(t, `../../assets/js/main.js`, readOutput(t, cfg, "blog/archive/old.html"))
}

func TestBuildRenderFailureIsIsolated(t *testing.T) {
	b, cfg := newTestBuilder(t, map[string]string{
		"index.html":   `{{ template "_header" . }}ok`,
		"about.html":   `{{ .DoesNotExist }}`,
		"_header.html": `<header></header>`,
	})

	report, err := b.Build(context.Background())
	require.NoError(t, err)
	require.True(t, report.Failed())

	assert.Equal(t, []string{"index"}, report.Pages)
	assert.Equal(t, "<header></header>ok", readOutput(t, cfg, "index.html"))

	renderErrs := report.RenderErrors()
	require.Len(t, renderErrs, 1)
	assert.Empty(t, report.AssetErrors())

	var be *berrors.BuildError
	require.True(t, errors.As(renderErrs[0], &be))
	assert.Equal(t, "about", be.Key)
	assert.Equal(t, []string{"about.html"}, be.Paths)

	_, err = os.Stat(filepath.Join(cfg.BuildDir, "about.html"))
	assert.True(t, os.IsNotExist(err))
}

func TestBuildTemplateDataAndFuncs(t *testing.T) {
	b, cfg := newTestBuilder(t, map[string]string{
		"index.html": `{{ .Data.title }}|{{ env "GREETING" }}|{{ .Mode }}|{{ markdown "# Title" }}<script>var d = {{ json .Data }};</script>`,
	})
	writeFiles(t, cfg.SrcDir, map[string]string{
		"data.json": `{"title": "Hello"}`,
		".env":      "GREETING=bonjour\n",
	})

	report, err := b.Build(context.Background())
	require.NoError(t, err)
	require.NoError(t, report.Err())

	out := readOutput(t, cfg, "index.html")
	assert.Contains(t, out, "Hello|bonjour|development|")
	assert.Contains(t, out, `<h1 id="title">Title</h1>`)
	assert.Contains(t, out, `"title":"Hello"`)
}

func TestBuildJSONFuncStaysInsideScript(t *testing.T) {
	b, cfg := newTestBuilder(t, map[string]string{
		"index.html": `<script>var d = {{ json .Data }};</script>`,
	})
	writeFiles(t, cfg.SrcDir, map[string]string{
		"data.json": `{"title": "</script><script>alert(1)</script>", "amp": "a&b"}`,
	})

	report, err := b.Build(context.Background())
	require.NoError(t, err)
	require.NoError(t, report.Err())

	out := readOutput(t, cfg, "index.html")
	assert.NotContains(t, out, "<script>alert(1)")
	assert.Contains(t, out, `"title":"\u003c/script\u003e\u003cscript\u003ealert(1)\u003c/script\u003e"`)
	assert.Contains(t, out, `"amp":"a\u0026b"`)
	assert.Equal(t, 1, strings.Count(out, "</script>"))
}

func TestBuildInvalidDataFileFailsEveryPage(t *testing.T) {
	b, cfg := newTestBuilder(t, map[string]string{
		"index.html": `index`,
		"about.html": `about`,
	})
	writeFiles(t, cfg.SrcDir, map[string]string{
		"data.json": `{"title": `,
	})

	report, err := b.Build(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Pages)
	assert.Len(t, report.RenderErrors(), 2)
}

func TestBuildProductionMinifiesHTML(t *testing.T) {
	b, cfg := newTestBuilder(t, map[string]string{
		"index.html": "<!doctype html>\n<html>\n  <body>\n    <p>\n      hello\n    </p>\n  </body>\n</html>\n",
	})
	cfg.Mode = config.ModeProduction

	report, err := b.Build(context.Background())
	require.NoError(t, err)
	require.NoError(t, report.Err())

	out := readOutput(t, cfg, "index.html")
	assert.Contains(t, out, "hello")
	assert.NotContains(t, out, "\n  ")
}

func TestBuildCleansBuildDirectory(t *testing.T) {
	b, cfg := newTestBuilder(t, map[string]string{"index.html": "index"})
	writeFiles(t, cfg.BuildDir, map[string]string{"stale.html": "old"})

	_, err := b.Build(context.Background())
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(cfg.BuildDir, "stale.html"))
	assert.True(t, os.IsNotExist(err))
}

func TestBuildDuplicateKeyIsFatal(t *testing.T) {
	b, cfg := newTestBuilder(t, map[string]string{
		"index.html": "a",
		"index.htm":  "b",
	})
	cfg.Pages.Include = []string{"**/*.html", "**/*.htm"}
	writeFiles(t, cfg.BuildDir, map[string]string{"keep.txt": "untouched"})

	report, err := b.Build(context.Background())
	require.Error(t, err)
	assert.Nil(t, report)
	assert.True(t, berrors.IsFatal(err))
	assert.ErrorIs(t, err, entries.ErrDuplicateKey)

	assert.Equal(t, "untouched", readOutput(t, cfg, "keep.txt"))
}

func TestBuildMissingSourceDirectory(t *testing.T) {
	cfg := config.Default()
	cfg.SrcDir = filepath.Join(t.TempDir(), "nope")
	cfg.BuildDir = filepath.Join(t.TempDir(), "dist")

	_, err := NewBuilder(cfg).Build(context.Background())
	require.Error(t, err)
	assert.True(t, berrors.IsKind(err, berrors.KindConfiguration))
}

func TestBuildInvalidConfiguration(t *testing.T) {
	b, cfg := newTestBuilder(t, map[string]string{"index.html": "index"})
	cfg.Mode = "staging"

	_, err := b.Build(context.Background())
	require.Error(t, err)
	assert.True(t, berrors.IsFatal(err))
}

func TestRebuildAddRemoveModify(t *testing.T) {
	b, cfg := newTestBuilder(t, map[string]string{
		"index.html": "index v1",
		"about.html": "about",
	})
	ctx := context.Background()

	_, err := b.Build(ctx)
	require.NoError(t, err)

	writeFiles(t, filepath.Join(cfg.SrcDir, "pages"), map[string]string{"contact.html": "contact"})
	report, err := b.Rebuild(ctx, []entries.Event{{Path: srcPath(cfg, "pages/contact.html"), Op: entries.Create}})
	require.NoError(t, err)
	assert.Equal(t, []string{"contact"}, report.Pages)
	assert.Equal(t, "contact", readOutput(t, cfg, "contact.html"))
	assert.Equal(t, []string{"about", "contact", "index"}, b.Entries().Keys())

	require.NoError(t, os.Remove(srcPath(cfg, "pages/about.html")))
	report, err = b.Rebuild(ctx, []entries.Event{{Path: srcPath(cfg, "pages/about.html"), Op: entries.Remove}})
	require.NoError(t, err)
	assert.Equal(t, []string{"about"}, report.Removed)
	assert.Empty(t, report.Pages)
	_, err = os.Stat(filepath.Join(cfg.BuildDir, "about.html"))
	assert.True(t, os.IsNotExist(err))

	writeFiles(t, filepath.Join(cfg.SrcDir, "pages"), map[string]string{"index.html": "index v2"})
	report, err = b.Rebuild(ctx, []entries.Event{{Path: srcPath(cfg, "pages/index.html"), Op: entries.Write}})
	require.NoError(t, err)
	assert.Equal(t, []string{"index"}, report.Pages)
	assert.Equal(t, "index v2", readOutput(t, cfg, "index.html"))
}

func TestRebuildPartialRegeneratesEveryPage(t *testing.T) {
	b, cfg := newTestBuilder(t, map[string]string{
		"index.html":   `{{ template "_footer" . }}`,
		"about.html":   `{{ template "_footer" . }}`,
		"_footer.html": `v1`,
	})
	ctx := context.Background()

	_, err := b.Build(ctx)
	require.NoError(t, err)

	writeFiles(t, filepath.Join(cfg.SrcDir, "pages"), map[string]string{"_footer.html": "v2"})
	report, err := b.Rebuild(ctx, []entries.Event{{Path: srcPath(cfg, "pages/_footer.html"), Op: entries.Write}})
	require.NoError(t, err)

	assert.Equal(t, []string{"about", "index"}, report.Pages)
	assert.Equal(t, "v2", readOutput(t, cfg, "index.html"))
	assert.Equal(t, "v2", readOutput(t, cfg, "about.html"))
}

func TestRebuildPartialDirectoryMovedOut(t *testing.T) {
	b, cfg := newTestBuilder(t, map[string]string{
		"index.html":         `{{ template "partials/_nav" . }}home`,
		"about.html":         `about`,
		"partials/_nav.html": `<nav></nav>`,
	})
	ctx := context.Background()

	_, err := b.Build(ctx)
	require.NoError(t, err)
	assert.Equal(t, "<nav></nav>home", readOutput(t, cfg, "index.html"))

	dir := srcPath(cfg, "pages/partials")
	require.NoError(t, os.Rename(dir, filepath.Join(t.TempDir(), "partials")))
	report, err := b.Rebuild(ctx, []entries.Event{{Path: dir, Op: entries.Rename}})
	require.NoError(t, err)

	assert.Equal(t, []string{"about"}, report.Pages)
	renderErrs := report.RenderErrors()
	require.Len(t, renderErrs, 1)
	var be *berrors.BuildError
	require.True(t, errors.As(renderErrs[0], &be))
	assert.Equal(t, "index", be.Key)
}

func TestConcurrentRebuildsConverge(t *testing.T) {
	pages := map[string]string{}
	for i := 0; i < 50; i++ {
		pages[fmt.Sprintf("p%02d.html", i)] = "page"
	}
	b, cfg := newTestBuilder(t, pages)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := srcPath(cfg, fmt.Sprintf("pages/new%d.html", i))
			if !assert.NoError(t, os.WriteFile(p, []byte("new"), 0o644)) {
				return
			}
			_, err := b.Rebuild(ctx, []entries.Event{{Path: p, Op: entries.Create}})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	fresh, err := entries.Discover(cfg.PagesDir(), cfg.Pages.Include, cfg.Pages.Exclude)
	require.NoError(t, err)
	assert.True(t, b.Entries().Equal(fresh))
	assert.Equal(t, 58, b.Entries().Len())
	for i := 0; i < 8; i++ {
		assert.Equal(t, "new", readOutput(t, cfg, fmt.Sprintf("new%d.html", i)))
	}
}

func TestRebuildDataFileRegeneratesEveryPage(t *testing.T) {
	b, cfg := newTestBuilder(t, map[string]string{
		"index.html": `{{ .Data.v }}`,
		"about.html": `{{ .Data.v }}`,
	})
	writeFiles(t, cfg.SrcDir, map[string]string{"data.json": `{"v": 1}`})
	ctx := context.Background()

	_, err := b.Build(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", readOutput(t, cfg, "index.html"))

	writeFiles(t, cfg.SrcDir, map[string]string{"data.json": `{"v": 2}`})
	report, err := b.Rebuild(ctx, []entries.Event{{Path: srcPath(cfg, "data.json"), Op: entries.Write}})
	require.NoError(t, err)

	assert.Equal(t, []string{"about", "index"}, report.Pages)
	assert.Equal(t, "2", readOutput(t, cfg, "about.html"))
}

func TestRebuildIgnoresUnrelatedEvents(t *testing.T) {
	b, cfg := newTestBuilder(t, map[string]string{"index.html": "index"})
	ctx := context.Background()

	_, err := b.Build(ctx)
	require.NoError(t, err)

	report, err := b.Rebuild(ctx, []entries.Event{
		{Path: filepath.Join(filepath.Dir(cfg.SrcDir), "elsewhere.txt"), Op: entries.Write},
		{Path: srcPath(cfg, "README.md"), Op: entries.Write},
	})
	require.NoError(t, err)
	assert.Empty(t, report.Pages)
	assert.Empty(t, report.Stages)
	assert.Empty(t, report.Removed)
}

type prepareErrRenderer struct{}

func (prepareErrRenderer) Prepare(*entries.Set, string) (RenderFunc, error) {
	return nil, errors.New("broken partial")
}

type staticRenderer map[string]string

func (r staticRenderer) Prepare(*entries.Set, string) (RenderFunc, error) {
	return func(_ context.Context, e entries.Entry) ([]byte, error) {
		out, ok := r[e.Key]
		if !ok {
			return nil, errors.New("no content")
		}
		return []byte(out), nil
	}, nil
}

func TestCustomRenderer(t *testing.T) {
	b, cfg := newTestBuilder(t, map[string]string{
		"index.html": "ignored",
		"about.html": "ignored",
	}, WithRenderer(staticRenderer{"index": "custom"}), WithWorkers(1))

	report, err := b.Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"index"}, report.Pages)
	assert.Equal(t, "custom", readOutput(t, cfg, "index.html"))
	require.Len(t, report.RenderErrors(), 1)
}

func TestPrepareFailureFailsEveryPage(t *testing.T) {
	b, _ := newTestBuilder(t, map[string]string{
		"index.html": "index",
		"about.html": "about",
	}, WithRenderer(prepareErrRenderer{}))

	report, err := b.Build(context.Background())
	require.NoError(t, err)

	errs := report.RenderErrors()
	require.Len(t, errs, 2)
	var keys []string
	for _, e := range errs {
		var be *berrors.BuildError
		require.True(t, errors.As(e, &be))
		keys = append(keys, be.Key)
	}
	sort.Strings(keys)
	assert.Equal(t, []string{"about", "index"}, keys)
}

func TestBuildCanceledContext(t *testing.T) {
	b, _ := newTestBuilder(t, map[string]string{
		"index.html": "index",
		"about.html": "about",
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := b.Build(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Pages)
	assert.Equal(t, []string{"about", "index"}, report.Canceled)
	assert.False(t, report.Failed())
}
