// Package api provides the operator HTTP API: Prometheus metrics, lease and
// audit queries, and a live SSE event stream.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/captive-dhcpd/captive-dhcpd/internal/audit"
	"github.com/captive-dhcpd/captive-dhcpd/internal/config"
	"github.com/captive-dhcpd/captive-dhcpd/internal/events"
	"github.com/captive-dhcpd/captive-dhcpd/internal/lease"
)

// Server is the HTTP API server for captive-dhcpd.
type Server struct {
	cfg        *config.Config
	leases     *lease.Allocator
	bus        *events.Bus
	auditLog   *audit.Log
	logger     *slog.Logger
	httpServer *http.Server
	auth       *AuthMiddleware
	sseHub     *SSEHub
	startTime  time.Time
	version    string
}

// ServerOption configures optional Server fields.
type ServerOption func(*Server)

// WithVersion sets the server version string.
func WithVersion(v string) ServerOption {
	return func(s *Server) { s.version = v }
}

// WithAuditLog sets the lease audit log. Without it the audit endpoints
// answer 503.
func WithAuditLog(al *audit.Log) ServerOption {
	return func(s *Server) { s.auditLog = al }
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, leases *lease.Allocator, bus *events.Bus, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:       cfg,
		leases:    leases,
		bus:       bus,
		logger:    logger,
		startTime: time.Now(),
		version:   "dev",
	}

	for _, opt := range opts {
		opt(s)
	}

	s.auth = NewAuthMiddleware(cfg.API.AuthToken, cfg.API.AuthTokenHash, logger)
	s.sseHub = NewSSEHub(bus, logger)

	return s
}

// Handler returns the routed handler wrapped with request metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return newMetricsMiddleware(mux)
}

// Listen binds the API server to its configured address and prepares routes.
// Call this synchronously to catch port conflicts before starting background serve.
func (s *Server) Listen() (net.Listener, error) {
	s.httpServer = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
		// No WriteTimeout: SSE streams stay open
	}

	ln, err := net.Listen("tcp", s.cfg.API.Listen)
	if err != nil {
		return nil, fmt.Errorf("binding API server to %s: %w", s.cfg.API.Listen, err)
	}

	s.sseHub.Start()

	s.logger.Info("API server listening",
		"address", ln.Addr().String(),
		"auth", s.auth.AuthRequired())
	return ln, nil
}

// Serve accepts connections on the listener. Blocks until shutdown.
func (s *Server) Serve(ln net.Listener) error {
	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the API server.
func (s *Server) Stop(ctx context.Context) error {
	s.sseHub.Stop()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// registerRoutes sets up all API endpoints.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// Prometheus metrics and health (no auth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealth)

	// Leases
	mux.HandleFunc("GET /api/v1/leases", s.auth.RequireAuth(s.handleListLeases))
	mux.HandleFunc("GET /api/v1/leases/{ip}", s.auth.RequireAuth(s.handleGetLease))

	// Audit log
	mux.HandleFunc("GET /api/v1/audit", s.auth.RequireAuth(s.handleAuditQuery))
	mux.HandleFunc("GET /api/v1/audit/export", s.auth.RequireAuth(s.handleAuditExportCSV))

	// Events & hooks
	mux.HandleFunc("GET /api/v1/events/stream", s.auth.RequireAuth(s.handleSSE))
	mux.HandleFunc("GET /api/v1/hooks", s.auth.RequireAuth(s.handleListHooks))

	mux.HandleFunc("GET /api/v1/stats", s.auth.RequireAuth(s.handleGetStats))
	mux.HandleFunc("GET /api/v1/config", s.auth.RequireAuth(s.handleGetConfig))
}

// JSONResponse writes a JSON response with the given status code.
func JSONResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// JSONError writes a JSON error response.
func JSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
		"code":  code,
	})
}
