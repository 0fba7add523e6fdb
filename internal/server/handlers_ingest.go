package server

import (
	"log/slog"
	"net/http"

	"github.com/agentsight-io/agentsight/internal/model"
	"github.com/agentsight-io/agentsight/internal/service/baseline"
	"github.com/agentsight-io/agentsight/internal/service/drift"
	"github.com/agentsight-io/agentsight/internal/service/ingest"
	"github.com/agentsight-io/agentsight/internal/service/profile"
	"github.com/agentsight-io/agentsight/internal/storage"
)

// Handlers holds the dependencies for all HTTP handlers.
type Handlers struct {
	db                  *storage.DB
	ingestSvc           *ingest.Service
	profileBuilder      *profile.Builder
	baselineMgr         *baseline.Manager
	driftEngine         *drift.Engine
	logger              *slog.Logger
	version             string
	maxRequestBodyBytes int64
}

// HandlersDeps bundles the dependencies for NewHandlers.
type HandlersDeps struct {
	DB                  *storage.DB
	IngestSvc           *ingest.Service
	ProfileBuilder      *profile.Builder
	BaselineMgr         *baseline.Manager
	DriftEngine         *drift.Engine
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	maxBytes := deps.MaxRequestBodyBytes
	if maxBytes <= 0 {
		maxBytes = 1 * 1024 * 1024
	}
	return &Handlers{
		db:                  deps.DB,
		ingestSvc:           deps.IngestSvc,
		profileBuilder:      deps.ProfileBuilder,
		baselineMgr:         deps.BaselineMgr,
		driftEngine:         deps.DriftEngine,
		logger:              deps.Logger,
		version:             deps.Version,
		maxRequestBodyBytes: maxBytes,
	}
}

// HandleIngestRun accepts one complete run tree. 201 on first ingest,
// 200 with the originally stored tree on an idempotent replay.
func (h *Handlers) HandleIngestRun(w http.ResponseWriter, r *http.Request) {
	var sub model.RunSubmission
	if err := decodeJSON(r, w, h.maxRequestBodyBytes, &sub); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	view, created, err := h.ingestSvc.Ingest(r.Context(), sub)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, view)
}

// HandleHealth reports service liveness and database reachability.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, model.HealthResponse{
			Status:  "unhealthy",
			Service: "agentsight",
			Version: h.version,
		})
		return
	}
	writeJSON(w, http.StatusOK, model.HealthResponse{
		Status:  "healthy",
		Service: "agentsight",
		Version: h.version,
	})
}
