package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func testConfig(t *testing.T) *config.Configuration {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.SrcDir = filepath.Join(dir, "src")
	cfg.BuildDir = filepath.Join(dir, "dist")
	cfg.ServeConfig.Port = 0
	cfg.ServeConfig.DebounceMS = 20
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.SrcDir, "pages"), 0o755))
	return cfg
}

func get(t *testing.T, h http.Handler, target string) (*http.Response, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	res := rec.Result()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, string(body)
}

func TestFileServer(t *testing.T) {
	cfg := testConfig(t)
	writeFiles(t, cfg.BuildDir, map[string]string{
		"index.html":           "<p>home</p>",
		"about.html":           "<p>about</p>",
		"blog/index.html":      "<p>blog</p>",
		"assets/css/style.css": "body{}",
	})
	h := NewServer(cfg).Handler()

	tests := []struct {
		target string
		status int
		body   string
		reload bool
	}{
		{"/", 200, "<p>home</p>", true},
		{"/index.html", 200, "<p>home</p>", true},
		{"/about", 200, "<p>about</p>", true},
		{"/blog/", 200, "<p>blog</p>", true},
		{"/blog", 200, "<p>blog</p>", true},
		{"/assets/css/style.css", 200, "body{}", false},
		{"/missing", 404, "404 page not found", false},
		{"/about.html/index.html", 404, "404 page not found", false},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			res, body := get(t, h, tt.target)
			assert.Equal(t, tt.status, res.StatusCode)
			assert.True(t, strings.HasPrefix(body, tt.body), body)
			assert.Equal(t, tt.reload, strings.Contains(body, "/__internal/livereload"))
		})
	}

	res, _ := get(t, h, "/assets/css/style.css")
	assert.Contains(t, res.Header.Get("Content-Type"), "text/css")
}

func TestFileServerOverride404(t *testing.T) {
	cfg := testConfig(t)
	cfg.ServeConfig.Redirect404 = "404.html"
	writeFiles(t, cfg.BuildDir, map[string]string{
		"index.html": "<p>home</p>",
		"404.html":   "<p>lost</p>",
	})
	h := NewServer(cfg).Handler()

	res, body := get(t, h, "/nowhere")
	assert.Equal(t, 200, res.StatusCode)
	assert.True(t, strings.HasPrefix(body, "<p>lost</p>"))
}

func TestMetricsEndpoint(t *testing.T) {
	cfg := testConfig(t)
	writeFiles(t, filepath.Join(cfg.SrcDir, "pages"), map[string]string{"index.html": "index"})
	s := NewServer(cfg)

	_, err := s.Builder().Build(context.Background())
	require.NoError(t, err)

	res, body := get(t, s.Handler(), "/__internal/metrics")
	assert.Equal(t, 200, res.StatusCode)
	assert.Contains(t, body, "toastpage_pages 1")
	assert.Contains(t, body, `toastpage_page_results_total{result="success"} 1`)
}

func TestLivereloadWebsocket(t *testing.T) {
	cfg := testConfig(t)
	s := NewServer(cfg)
	go s.reloadBroker.Start()
	defer s.reloadBroker.Stop()

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/__internal/livereload"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The handler subscribes asynchronously, publish until the message gets through
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				s.TriggerReload()
			}
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "reload", string(msg))
}

func TestStartRebuildsOnChange(t *testing.T) {
	cfg := testConfig(t)
	pages := filepath.Join(cfg.SrcDir, "pages")
	writeFiles(t, pages, map[string]string{"index.html": "index"})

	s := NewServer(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Start(ctx, true)
	}()

	exists := func(rel string) func() bool {
		return func() bool {
			_, err := os.Stat(filepath.Join(cfg.BuildDir, rel))
			return err == nil
		}
	}
	require.Eventually(t, exists("index.html"), 5*time.Second, 20*time.Millisecond)

	// Give the watcher a moment to register the tree
	time.Sleep(300 * time.Millisecond)
	writeFiles(t, pages, map[string]string{"about.html": "about"})
	require.Eventually(t, exists("about.html"), 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(filepath.Join(pages, "about.html")))
	require.Eventually(t, func() bool { return !exists("about.html")() }, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestStartOpensBrowser(t *testing.T) {
	cfg := testConfig(t)
	cfg.ServeConfig.Open = true
	writeFiles(t, cfg.BuildDir, map[string]string{"index.html": "<p>home</p>"})

	opened := make(chan string, 1)
	prev := openBrowser
	openBrowser = func(url string) error {
		opened <- url
		return nil
	}
	defer func() { openBrowser = prev }()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- NewServer(cfg).Start(ctx, false)
	}()

	var url string
	select {
	case url = <-opened:
	case <-time.After(5 * time.Second):
		t.Fatal("browser was not opened")
	}
	assert.True(t, strings.HasPrefix(url, "http://localhost:"))
	assert.NotEqual(t, "http://localhost:0", url)

	res, err := http.Get(url + "/")
	require.NoError(t, err)
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(body), "<p>home</p>"))

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestStartFailsOnConfigurationError(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mode = "staging"

	err := NewServer(cfg).Start(context.Background(), true)
	assert.Error(t, err)
}
