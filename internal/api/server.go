package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-decisions/kestrel/internal/dmn"
	"github.com/opensource-decisions/kestrel/internal/domain"
	"github.com/opensource-decisions/kestrel/internal/outcome"
	"github.com/opensource-decisions/kestrel/internal/rules"
	"github.com/opensource-decisions/kestrel/internal/stats"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *rules.Engine, executor *dmn.Executor, processor *outcome.Processor, statsSvc *stats.Service, version string) *Server {
	handler := NewHandler(repo, cache, bus, engine, executor, processor, statsSvc, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// API routes (tenant required)
	router.Route("/", func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Evaluation
		r.Post("/evaluate", handler.Evaluate)
		r.Post("/evaluate/dmn", handler.EvaluateDMN)
		r.Post("/evaluate/batch", handler.EvaluateBatch)

		// Evaluation retrieval
		r.Get("/evaluations/{id}", handler.GetEvaluation)

		// Ruleset management
		r.Get("/rulesets", handler.ListRuleSets)
		r.Get("/rulesets/{id}", handler.GetRuleSet)
		r.Post("/rulesets", handler.CreateRuleSet)
		r.Post("/rulesets/reload", handler.ReloadRuleSets)

		// Action pattern table
		r.Get("/patterns", handler.GetPatterns)
		r.Put("/patterns", handler.PutPatterns)

		// DMN decision models
		r.Get("/models", handler.ListModels)
		r.Get("/models/{id}", handler.GetModel)
		r.Post("/models", handler.CreateModel)
		r.Delete("/models/{id}", handler.DeleteModel)

		// Stats
		r.Get("/stats", handler.GetStats)
	})

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
