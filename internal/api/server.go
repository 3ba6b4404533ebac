package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"threatops/internal/config"
)

// Server wraps the HTTP server and its middleware chain.
type Server struct {
	srv         *http.Server
	logger      *slog.Logger
	stopLimiter func()
}

// NewServer builds the routed, middleware-wrapped HTTP server.
func NewServer(cfg *config.Config, handler *Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	mux := newMux(handler)

	rateLimit, stopLimiter := RateLimit(cfg.RateLimit, logger)

	var root http.Handler = mux
	root = APIKeyAuth(cfg.Auth, logger)(root)
	root = rateLimit(root)
	root = SecurityHeaders(root)
	root = RequestID(root)

	return &Server{
		srv: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
			Handler:      root,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		logger:      logger,
		stopLimiter: stopLimiter,
	}
}

func newMux(handler *Handler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/analyze", handler.HandleAnalyze)

	mux.HandleFunc("POST /v1/alerts", handler.HandleCreateAlert)
	mux.HandleFunc("GET /v1/alerts", handler.HandleListAlerts)
	mux.HandleFunc("GET /v1/alerts/stats", handler.HandleAlertStats)
	mux.HandleFunc("POST /v1/alerts/{id}/acknowledge", handler.HandleAcknowledgeAlert)
	mux.HandleFunc("DELETE /v1/alerts/{id}", handler.HandleDismissAlert)

	mux.HandleFunc("POST /v1/respond", handler.HandleRespond)
	mux.HandleFunc("GET /v1/status", handler.HandleStatus)
	mux.HandleFunc("GET /v1/actions", handler.HandleActions)

	mux.HandleFunc("POST /v1/block/{id}", handler.HandleBlock)
	mux.HandleFunc("DELETE /v1/block/{id}", handler.HandleUnblock)
	mux.HandleFunc("POST /v1/throttle/{id}", handler.HandleThrottle)
	mux.HandleFunc("DELETE /v1/throttle/{id}", handler.HandleRemoveThrottle)
	mux.HandleFunc("POST /v1/isolate/{service}", handler.HandleIsolate)
	mux.HandleFunc("DELETE /v1/isolate/{service}", handler.HandleRestore)
	mux.HandleFunc("DELETE /v1/reset", handler.HandleReset)

	mux.HandleFunc("GET /health", handler.HandleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// Start begins serving. Blocks until the listener fails or Shutdown is
// called; a clean shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops background goroutines.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.stopLimiter()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
