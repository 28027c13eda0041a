package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/kestrel/internal/admission"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// ServerOptions holds the optional parts of the server.
type ServerOptions struct {
	Metrics *metrics.Metrics

	// RateLimitPerMinute caps POST /transfers per client address.
	RateLimitPerMinute int

	Version string
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, store Store, cache domain.Cache, admissionSvc *admission.Service, runner AnalysisRunner, engine *rules.Engine, opts ServerOptions) *Server {
	handler := NewHandler(store, cache, admissionSvc, runner, engine, opts.Version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)                  // CORS for browser clients
	router.Use(RecoverMiddleware)               // Recover from panics
	router.Use(TracingMiddleware)               // OpenTelemetry tracing
	router.Use(middleware.RealIP)               // Extract real IP
	router.Use(LoggingMiddleware)               // Request logging
	router.Use(MetricsMiddleware(opts.Metrics)) // Request metrics
	router.Use(middleware.Compress(5))          // Gzip compression

	// Probes
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	if opts.Metrics != nil {
		router.Handle("/metrics", opts.Metrics.Handler())
	}

	// Transfer admission
	router.With(RateLimitMiddleware(cache, opts.RateLimitPerMinute)).
		Post("/transfers", handler.CreateTransfer)

	// Batch analysis
	router.Post("/analysis/runs", handler.RunAnalysis)
	router.Get("/alerts", handler.ListAlerts)

	// Compliance actions
	router.Post("/accounts/{id}/block", handler.BlockAccount)
	router.Post("/transactions/{id}/flag", handler.FlagTransaction)
	router.Get("/stats", handler.Stats)

	// Admission rules
	router.Get("/rules", handler.ListRules)
	router.Get("/rules/{id}", handler.GetRule)
	router.Post("/rules/validate", handler.ValidateRule)
	router.Post("/rules/reload", handler.ReloadRules)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
