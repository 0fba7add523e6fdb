package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/agentsight-io/agentsight/internal/service/baseline"
	"github.com/agentsight-io/agentsight/internal/service/drift"
	"github.com/agentsight-io/agentsight/internal/service/ingest"
	"github.com/agentsight-io/agentsight/internal/service/profile"
	"github.com/agentsight-io/agentsight/internal/storage"
)

// Server is the AgentSight HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
type ServerConfig struct {
	DB             *storage.DB
	IngestSvc      *ingest.Service
	ProfileBuilder *profile.Builder
	BaselineMgr    *baseline.Manager
	DriftEngine    *drift.Engine
	Logger         *slog.Logger

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:                  cfg.DB,
		IngestSvc:           cfg.IngestSvc,
		ProfileBuilder:      cfg.ProfileBuilder,
		BaselineMgr:         cfg.BaselineMgr,
		DriftEngine:         cfg.DriftEngine,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	mux := http.NewServeMux()

	// Ingestion.
	mux.HandleFunc("POST /v1/runs", h.HandleIngestRun)

	// Query.
	mux.HandleFunc("GET /v1/runs", h.HandleListRuns)
	mux.HandleFunc("GET /v1/runs/{run_id}", h.HandleGetRun)
	mux.HandleFunc("GET /v1/runs/{run_id}/steps", h.HandleGetRunSteps)
	mux.HandleFunc("GET /v1/runs/{run_id}/failures", h.HandleGetRunFailures)
	mux.HandleFunc("GET /v1/stats", h.HandleStats)

	// Behavior profiles and baselines.
	mux.HandleFunc("POST /v1/phase3/profiles", h.HandleBuildProfile)
	mux.HandleFunc("GET /v1/phase3/profiles", h.HandleListProfiles)
	mux.HandleFunc("GET /v1/phase3/profiles/{profile_id}", h.HandleGetProfile)
	mux.HandleFunc("POST /v1/phase3/baselines", h.HandleCreateBaseline)
	mux.HandleFunc("GET /v1/phase3/baselines", h.HandleListBaselines)
	mux.HandleFunc("GET /v1/phase3/baselines/{baseline_id}", h.HandleGetBaseline)
	mux.HandleFunc("POST /v1/phase3/baselines/{baseline_id}/activate", h.HandleActivateBaseline)
	mux.HandleFunc("POST /v1/phase3/baselines/{baseline_id}/deactivate", h.HandleDeactivateBaseline)
	mux.HandleFunc("POST /v1/phase3/baselines/{baseline_id}/approve", h.HandleApproveBaseline)

	// Drift detection and history. Literal segments take priority over
	// the {drift_id} wildcard in the mux.
	mux.HandleFunc("POST /v1/phase3/drift/detect", h.HandleDetectDrift)
	mux.HandleFunc("GET /v1/phase3/drift", h.HandleListDrift)
	mux.HandleFunc("GET /v1/phase3/drift/summary", h.HandleDriftSummary)
	mux.HandleFunc("GET /v1/phase3/drift/timeline", h.HandleDriftTimeline)
	mux.HandleFunc("GET /v1/phase3/drift/{drift_id}", h.HandleGetDrift)
	mux.HandleFunc("POST /v1/phase3/drift/{drift_id}/resolve", h.HandleResolveDrift)

	// Health.
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
