package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nispor/censorate/internal/event"
	"github.com/nispor/censorate/internal/netstate"
)

// leaseRequest is the JSON body a provisioning system posts.
type leaseRequest struct {
	Family    string `json:"family"` // "v4" or "v6"
	Interface string `json:"interface"`
	Address   string `json:"address"`
	LeaseTimeSeconds int64 `json:"lease_time_seconds"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server serves the single HMAC-signed lease-submission endpoint,
// forwarding each valid request to the Commander as a GotDhcpLease
// event exactly as a connected Dhcp plugin would.
type Server struct {
	config   Config
	toCommander chan<- event.Event
	logger   *slog.Logger
	server   *http.Server
}

func New(config Config, toCommander chan<- event.Event, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{config: config.withDefaults(), toCommander: toCommander, logger: logger}
}

// Start runs the webhook HTTP server until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)
	r.Post(s.config.Path, s.handleLease)

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("webhook: lease endpoint starting", "listen", s.config.Listen, "path", s.config.Path)

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
			return fmt.Errorf("webhook: shutdown: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook: server error: %w", err)
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("webhook: request",
			"method", r.Method, "path", r.URL.Path, "status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleLease(w http.ResponseWriter, r *http.Request) {
	limited := io.LimitReader(r.Body, s.config.MaxBodySize+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to read request body")
		return
	}
	if int64(len(body)) > s.config.MaxBodySize {
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	signature := r.Header.Get(s.config.SignatureHeader)
	if signature == "" || verifyHMACSignature(body, signature, s.config.Secret) != nil {
		s.logger.Warn("webhook: signature rejected", "path", r.URL.Path)
		s.respondError(w, http.StatusForbidden, "forbidden")
		return
	}

	var req leaseRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "malformed lease payload")
		return
	}
	family := netstate.DhcpV4
	if req.Family == "v6" {
		family = netstate.DhcpV6
	}
	lease := netstate.DhcpLease{
		Family:    family,
		Interface: req.Interface,
		Address:   req.Address,
		LeaseTime: time.Duration(req.LeaseTimeSeconds) * time.Second,
	}

	evt := event.New(event.AddrUnicast("webhook:"+r.URL.Path), event.AddrCommander(),
		event.None(), event.PluginGotDhcpLeaseEvent(lease))
	s.toCommander <- evt

	s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, errorResponse{Error: message})
}
