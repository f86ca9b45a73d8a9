package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pkg/browser"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/toastate/toastpage/internal/builder"
	"github.com/toastate/toastpage/internal/entries"
	"github.com/toastate/toastpage/internal/metrics"
	"github.com/toastate/toastpage/internal/tlogger"
	"github.com/toastate/toastpage/internal/watcher"
	"github.com/toastate/toastpage/pkg/config"

	_ "embed"
)

//go:embed livereload.html
var liveReloadScript []byte

const reloadMessage = "reload"

var openBrowser = browser.OpenURL

var upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
		w.WriteHeader(500)
	},
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Server struct {
	cfg          *config.Configuration
	port         string
	override404  string
	reloadBroker *Broker
	buildtool    *builder.Builder
	registry     *prometheus.Registry
	router       *mux.Router
}

func NewServer(cfg *config.Configuration) *Server {
	reg := prometheus.NewRegistry()
	s := &Server{
		cfg:          cfg,
		port:         strconv.Itoa(cfg.ServeConfig.Port),
		override404:  cfg.ServeConfig.Redirect404,
		reloadBroker: newBroker(),
		registry:     reg,
		buildtool:    builder.NewBuilder(cfg, builder.WithRecorder(metrics.NewPrometheusRecorder(reg))),
	}

	r := mux.NewRouter()
	r.HandleFunc("/__internal/livereload", s.livereloadHandler)
	r.Handle("/__internal/metrics", metrics.HTTPHandler(reg))
	r.PathPrefix("/").HandlerFunc(s.fileServer(cfg.BuildDir, s.override404))
	s.router = r

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Builder() *builder.Builder {
	return s.buildtool
}

func (s *Server) TriggerReload() {
	s.reloadBroker.Publish(reloadMessage)
}

// Start serves the build directory until ctx is done. With withBuilder, a cold build
// runs first and source changes trigger incremental rebuilds followed by a browser
// reload.
func (s *Server) Start(ctx context.Context, withBuilder bool) error {
	go s.reloadBroker.Start()
	defer s.reloadBroker.Stop()

	if withBuilder {
		report, err := s.buildtool.Build(ctx)
		if err != nil {
			return err
		}
		if report.Failed() {
			tlogger.Warn("msg", "Initial build has errors", "errors", len(report.Errors))
		}

		events, err := watcher.Start(ctx, s.buildtool.SrcDir(), watcher.Options{
			Keep: []string{filepath.Base(s.cfg.Pages.EnvFile)},
			Skip: []string{s.buildtool.BuildDir()},
		})
		if err != nil {
			return err
		}

		debounce := time.Duration(s.cfg.ServeConfig.DebounceMS) * time.Millisecond
		go s.rebuildLoop(ctx, watcher.Coalesce(ctx, events, debounce))
	}

	ln, err := net.Listen("tcp", ":"+s.port)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	url := "http://localhost:" + strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)
	// We use println here so the address can be copied or opened directly from the terminal
	fmt.Println("Listening on " + url)

	if s.cfg.ServeConfig.Open {
		if err := openBrowser(url); err != nil {
			tlogger.Warn("msg", "Could not open browser", "url", url, "err", err)
		}
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	tlogger.Info("msg", "Shutting down dev server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// rebuildLoop handles one batch at a time. Batches arriving meanwhile are merged by
// the coalescer so the next rebuild sees the latest state.
func (s *Server) rebuildLoop(ctx context.Context, batches <-chan []entries.Event) {
	for batch := range batches {
		tlogger.Info("msg", "Change detected, rebuilding", "events", len(batch))
		report, err := s.buildtool.Rebuild(ctx, batch)
		if err != nil {
			tlogger.Error("msg", "Rebuild failed", "err", err)
			continue
		}
		if ctx.Err() != nil {
			return
		}
		for _, e := range report.Errors {
			tlogger.Warn("msg", "Rebuild error", "err", e)
		}
		s.TriggerReload()
	}
}

func (s *Server) fileServer(dir string, override404 string) func(http.ResponseWriter, *http.Request) {
	if override404 != "" && !strings.HasPrefix(override404, "/") {
		override404 = "/" + override404
	}

	return func(w http.ResponseWriter, r *http.Request) {
	begin:
		upath := r.URL.Path
		if !strings.HasPrefix(upath, "/") {
			upath = "/" + upath
			r.URL.Path = upath
		}

		fullName, found, err := resolve(dir, upath)
		if err != nil {
			w.WriteHeader(500)
			w.Write([]byte("Internal error: can't open file: " + err.Error()))
			return
		}

		if !found {
			if override404 != "" && r.URL.Path != override404 {
				r.URL.Path = override404
				goto begin
			}
			w.WriteHeader(404)
			w.Write([]byte("404 page not found"))
			return
		}

		content, err := os.Open(fullName)
		if err != nil {
			w.WriteHeader(500)
			w.Write([]byte("Internal error: can't open file"))
			return
		}
		defer content.Close()

		ctype := mime.TypeByExtension(filepath.Ext(fullName))
		if ctype == "" {
			// read a chunk to decide between utf-8 text and binary
			var buf [512]byte
			n, _ := io.ReadFull(content, buf[:])
			ctype = http.DetectContentType(buf[:n])
			_, err := content.Seek(0, io.SeekStart) // rewind to output whole file
			if err != nil {
				w.WriteHeader(500)
				w.Write([]byte("Internal error: can't seek file: " + err.Error()))
				return
			}
		}
		w.Header().Set("Content-Type", ctype)
		w.Header().Set("Cache-Control", "no-store")
		io.Copy(w, content)
		if strings.HasPrefix(ctype, "text/html") {
			_, err = w.Write(liveReloadScript)
			if err != nil {
				tlogger.Error("msg", "could not live reload", "error", err)
			}
		}
	}
}

const indexPage = "index.html"

// resolve maps a URL path to a file of dir: the file itself, then the file with an
// .html extension, then the index.html of the directory.
func resolve(dir, upath string) (string, bool, error) {
	fullName := filepath.Join(dir, filepath.FromSlash(path.Clean(upath)))

	candidates := []string{fullName, fullName + ".html", filepath.Join(fullName, indexPage)}
	for _, c := range candidates {
		info, err := os.Stat(c)
		if err != nil {
			if os.IsNotExist(err) || errors.Is(err, syscall.ENOTDIR) {
				continue
			}
			return "", false, err
		}
		if info.IsDir() {
			continue
		}
		return c, true, nil
	}
	return "", false, nil
}

func (s *Server) livereloadHandler(w http.ResponseWriter, r *http.Request) {
	tlogger.Debug("msg", "WS Established")

	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer c.Close()

	// Reading is required to notice the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	waitCh := s.reloadBroker.Subscribe()
	defer s.reloadBroker.Unsubscribe(waitCh)

	select {
	case _, ok := <-waitCh:
		if !ok {
			return
		}
		err = c.WriteMessage(websocket.TextMessage, []byte(reloadMessage))
		if err != nil {
			tlogger.Warn("msg", "Reload socket error", "error", err)
		}
	case <-closed:
	}
}
