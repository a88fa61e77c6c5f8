// Package server is the development HTTP server. It serves the output tree,
// injects the reload client into HTML pages and pushes reload messages to
// connected browsers when the orchestrator reports a successful task.
package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/afero"

	"github.com/conneroisu/stagehand/internal/build"
	"github.com/conneroisu/stagehand/internal/config"
	"github.com/conneroisu/stagehand/internal/errors"
	"github.com/conneroisu/stagehand/internal/logging"
	"github.com/conneroisu/stagehand/internal/task"
	"github.com/conneroisu/stagehand/internal/websocket"
)

// Routes owned by the server itself. Everything else is looked up in the
// output tree.
const (
	routePrefix     = "/__stagehand/"
	ReloadScriptURL = routePrefix + "reload.js"
	WebSocketURL    = routePrefix + "ws"
	StatusURL       = routePrefix + "status"
	StatusJSONURL   = routePrefix + "status.json"
)

const shutdownTimeout = 5 * time.Second

// StatusSource exposes the state shown on the status page. *build.Plan
// implements it.
type StatusSource interface {
	Latest() []task.Result
	Metrics() *build.Metrics
	Collector() *errors.Collector
}

// Options configures the server.
type Options struct {
	Addr string
	// Output is the output root inside the filesystem, e.g. "dist".
	Output         string
	AllowedOrigins []string
	Compress       bool
}

// OptionsFromConfig derives server options from the configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Addr:           cfg.Address(),
		Output:         cfg.Paths.Output,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Compress:       cfg.Server.Compress,
	}
}

// Server serves the output tree with live reload.
type Server struct {
	opts   Options
	site   afero.Fs
	files  http.Handler
	status StatusSource
	hub    *websocket.Hub
	logger logging.Logger
}

// New creates a server reading the output tree from fsys.
func New(fsys afero.Fs, status StatusSource, opts Options, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.WithComponent("server")

	site := afero.NewBasePathFs(fsys, opts.Output)
	return &Server{
		opts:   opts,
		site:   site,
		files:  http.FileServer(afero.NewHttpFs(site).Dir("/")),
		status: status,
		hub:    websocket.NewHub(newOriginPolicy(opts), logger),
		logger: logger,
	}
}

// Hub returns the reload hub.
func (s *Server) Hub() *websocket.Hub {
	return s.hub
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(WebSocketURL, s.hub.HandleWebSocket)
	mux.Handle(ReloadScriptURL, s.compress(http.HandlerFunc(handleReloadScript)))
	mux.Handle(StatusURL, s.compress(http.HandlerFunc(s.handleStatus)))
	mux.Handle(StatusJSONURL, s.compress(http.HandlerFunc(s.handleStatusJSON)))
	mux.Handle("/", s.compress(http.HandlerFunc(s.handleSite)))

	return s.logRequests(devHeaders(mux))
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info(ctx, "serving output tree", "url", "http://"+ln.Addr().String(), "root", s.opts.Output)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Websocket connections are hijacked, so the hub closes them itself.
	if err := s.hub.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn(shutdownCtx, err, "reload hub did not stop in time")
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Debug(shutdownCtx, "server stopped")
	return nil
}

func devHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug(r.Context(), "request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
