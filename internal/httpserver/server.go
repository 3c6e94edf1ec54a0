package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"agrisync/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers groups optional HTTP handlers to mount.
type Handlers struct {
	TwilioWebhook http.Handler
}

// Pinger reports backing store connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PriceReloader re-reads the market price table.
type PriceReloader interface {
	Reload() error
	Len() int
}

// Dependencies exposes core dependencies to handlers that need them.
type Dependencies struct {
	Repository Pinger
	Prices     PriceReloader
}

// Server wraps an http.Server with predefined routes.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	metrics    *metrics.Metrics
	handlers   Handlers
	deps       Dependencies
	basePath   string
}

// New creates a new HTTP server listening on addr with health and metrics endpoints.
func New(addr string, logger *slog.Logger, metricRegistry *metrics.Metrics, handlers Handlers, basePath string) *Server {
	server := &Server{
		logger:   logger.With("component", "http"),
		metrics:  metricRegistry,
		handlers: handlers,
		basePath: normaliseBasePath(basePath),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", server.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/admin/reload-prices", server.handleReloadPrices)

	if handlers.TwilioWebhook != nil {
		mux.Handle("/webhook/twilio", handlers.TwilioWebhook)
	}

	server.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mountWithBasePath(server.basePath, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if server.basePath != "" {
		server.logger.Info("http server configured with base path", "base_path", server.basePath)
	}

	return server
}

// SetDependencies makes dependencies accessible to handlers.
func (s *Server) SetDependencies(deps Dependencies) {
	s.deps = deps
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for incoming HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleReloadPrices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Prices == nil {
		http.Error(w, "price table unavailable", http.StatusServiceUnavailable)
		return
	}

	if err := s.deps.Prices.Reload(); err != nil {
		s.logger.Error("failed reloading price table", "error", err)
		s.metrics.IncError("price_reload")
		http.Error(w, "failed reloading price table", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"count":  s.deps.Prices.Len(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Repository != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Repository.Ping(ctx); err != nil {
			s.logger.Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "database": "down"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func mountWithBasePath(basePath string, handler http.Handler) http.Handler {
	if basePath == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, basePath) {
			http.NotFound(w, r)
			return
		}
		if len(r.URL.Path) > len(basePath) && r.URL.Path[len(basePath)] != '/' {
			http.NotFound(w, r)
			return
		}
		r.URL.Path = trimBase(r.URL.Path, basePath)
		if r.URL.RawPath != "" {
			r.URL.RawPath = trimBase(r.URL.RawPath, basePath)
		}
		handler.ServeHTTP(w, r)
	})
}

func trimBase(path, basePath string) string {
	trimmed := strings.TrimPrefix(path, basePath)
	if trimmed == "" {
		return "/"
	}
	return trimmed
}

func normaliseBasePath(base string) string {
	base = strings.TrimSpace(base)
	if base == "" || base == "/" {
		return ""
	}
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return strings.TrimSuffix(base, "/")
}
