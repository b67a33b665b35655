// Package api exposes the install worker over HTTP: request admission, a
// health summary, the installer event feed and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/wearpkg/internal/events"
	"github.com/mattjoyce/wearpkg/internal/install"
	"github.com/mattjoyce/wearpkg/internal/metrics"
)

// Installer is the admission side of the install worker.
type Installer interface {
	SubmitInstall(ctx context.Context, req install.InstallRequest) (string, error)
	SubmitUninstall(ctx context.Context, req install.UninstallRequest) (string, error)
	QueueDepth() int
	Outstanding() int
	CurrentState() install.State
}

// EventSource feeds GET /events.
type EventSource interface {
	Subscribe() (<-chan events.Event, func())
	SnapshotSince(lastID int64) []events.Event
}

// GuardCounter reports the guard's reference count and hold state.
type GuardCounter interface {
	Count() int
	Active() bool
}

// Config holds API server configuration
type Config struct {
	Listen string
	APIKey string
	// AdmitTimeout bounds how long a request waits for queue space.
	AdmitTimeout time.Duration
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	installer Installer
	events    EventSource
	guard     GuardCounter
	metrics   *metrics.Metrics
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. guard and m may be nil.
func New(config Config, installer Installer, events EventSource, guard GuardCounter, m *metrics.Metrics, logger *slog.Logger) *Server {
	if config.AdmitTimeout <= 0 {
		config.AdmitTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:    config,
		installer: installer,
		events:    events,
		guard:     guard,
		metrics:   m,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start serves until ctx is cancelled (blocking).
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Listen, err)
	}
	return s.serve(ctx, ln)
}

// serve owns ln. Request contexts derive from ctx, so long-lived event
// streams end as soon as shutdown begins.
func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info("API server starting", "listen", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the configured router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/install", s.handleInstall)
		r.Post("/uninstall", s.handleUninstall)
		r.Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		if s.metrics != nil {
			s.metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
		}
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
