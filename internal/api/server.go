// Package api serves the daemon's introspection HTTP surface: plugin
// roster, workflow queue depth, the audit log, and a live event stream
// -- read-only visibility into the Commander, never a second way to
// submit requests (that is what the Unix socket and censoratectl are
// for).
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nispor/censorate/internal/auth"
	"github.com/nispor/censorate/internal/events"
	"github.com/nispor/censorate/internal/role"
	"github.com/nispor/censorate/internal/storage"
)

// QueueDepther reports how many workflows the Commander currently has
// live, satisfied by *commander.Commander without this package
// importing it directly.
type QueueDepther interface {
	Depth() int
}

// AuditReader serves recent audit log entries; storage.Audit satisfies
// this.
type AuditReader interface {
	Recent(ctx context.Context, limit int) ([]storage.Entry, error)
}

// Config holds API server configuration.
type Config struct {
	Listen string
	APIKey string
	Tokens []auth.TokenConfig
}

// Server is the introspection HTTP server.
type Server struct {
	config    Config
	registry  *role.Registry
	queue     QueueDepther
	audit     AuditReader
	hub       *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

func New(config Config, registry *role.Registry, queue QueueDepther, audit AuditReader, hub *events.Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:    config,
		registry:  registry,
		queue:     queue,
		audit:     audit,
		hub:       hub,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start runs the HTTP server until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	r := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("api: server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api: shutdown: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("api: server error: %w", err)
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes("plugins:ro", "*")).Get("/plugins", s.handlePlugins)
		r.With(s.requireScopes("workflows:ro", "*")).Get("/workflows/depth", s.handleQueueDepth)
		r.With(s.requireScopes("audit:ro", "*")).Get("/audit", s.handleAudit)
		r.With(s.requireScopes("events:ro", "*")).Get("/events", s.handleEvents)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("api: request",
			"method", r.Method, "path", r.URL.Path, "status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
