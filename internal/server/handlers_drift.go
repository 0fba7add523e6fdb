package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/agentsight-io/agentsight/internal/model"
	"github.com/agentsight-io/agentsight/internal/storage"
)

// HandleBuildProfile computes and stores a behavior profile over a
// time window.
func (h *Handlers) HandleBuildProfile(w http.ResponseWriter, r *http.Request) {
	var req model.BuildProfileRequest
	if err := decodeJSON(r, w, h.maxRequestBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.AgentID == "" || req.AgentVersion == "" {
		writeError(w, http.StatusBadRequest, "agent_id and agent_version are required")
		return
	}
	if !model.ValidEnvironment(req.Environment) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("environment: unknown value %q", req.Environment))
		return
	}
	if req.WindowStart.IsZero() || req.WindowEnd.IsZero() || !req.WindowEnd.After(req.WindowStart) {
		writeError(w, http.StatusBadRequest, "window_start must precede window_end")
		return
	}
	if req.MinSampleSize != nil && *req.MinSampleSize < 1 {
		writeError(w, http.StatusBadRequest, "min_sample_size must be positive")
		return
	}

	window := storage.AgentWindow{
		AgentID:      req.AgentID,
		AgentVersion: req.AgentVersion,
		Environment:  req.Environment,
		WindowStart:  req.WindowStart,
		WindowEnd:    req.WindowEnd,
	}
	p, err := h.profileBuilder.Build(r.Context(), window, req.MinSampleSize)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// HandleListProfiles returns stored profiles, newest window first.
func (h *Handlers) HandleListProfiles(w http.ResponseWriter, r *http.Request) {
	filters, err := parseAgentFilters(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, pageSize, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	profiles, total, err := h.db.ListProfiles(r.Context(), filters, page, pageSize)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"profiles":  profiles,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// HandleGetProfile returns one profile by ID.
func (h *Handlers) HandleGetProfile(w http.ResponseWriter, r *http.Request) {
	profileID, err := uuid.Parse(r.PathValue("profile_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "profile_id must be a UUID")
		return
	}
	p, err := h.db.GetProfile(r.Context(), profileID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleCreateBaseline promotes a profile to a baseline.
func (h *Handlers) HandleCreateBaseline(w http.ResponseWriter, r *http.Request) {
	var req model.CreateBaselineRequest
	if err := decodeJSON(r, w, h.maxRequestBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ProfileID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "profile_id is required")
		return
	}
	if !model.ValidBaselineType(req.BaselineType) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("baseline_type: unknown value %q", req.BaselineType))
		return
	}
	if err := model.ValidateDescription(req.Description); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	b, err := h.baselineMgr.Create(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// HandleListBaselines returns baselines, newest first.
func (h *Handlers) HandleListBaselines(w http.ResponseWriter, r *http.Request) {
	agentFilters, err := parseAgentFilters(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filters := model.BaselineFilters{
		AgentID:      agentFilters.AgentID,
		AgentVersion: agentFilters.AgentVersion,
		Environment:  agentFilters.Environment,
	}
	if v := r.URL.Query().Get("is_active"); v != "" {
		active := v == "true"
		if v != "true" && v != "false" {
			writeError(w, http.StatusBadRequest, "is_active must be true or false")
			return
		}
		filters.IsActive = &active
	}
	page, pageSize, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	baselines, total, err := h.db.ListBaselines(r.Context(), filters, page, pageSize)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"baselines": baselines,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// HandleGetBaseline returns one baseline by ID.
func (h *Handlers) HandleGetBaseline(w http.ResponseWriter, r *http.Request) {
	baselineID, err := uuid.Parse(r.PathValue("baseline_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "baseline_id must be a UUID")
		return
	}
	b, err := h.db.GetBaseline(r.Context(), baselineID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// HandleActivateBaseline makes a baseline the active one for its agent
// triple, deactivating any previous active baseline atomically.
func (h *Handlers) HandleActivateBaseline(w http.ResponseWriter, r *http.Request) {
	baselineID, err := uuid.Parse(r.PathValue("baseline_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "baseline_id must be a UUID")
		return
	}
	b, err := h.baselineMgr.Activate(r.Context(), baselineID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// HandleDeactivateBaseline clears the active flag, leaving the agent
// triple with no active baseline.
func (h *Handlers) HandleDeactivateBaseline(w http.ResponseWriter, r *http.Request) {
	baselineID, err := uuid.Parse(r.PathValue("baseline_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "baseline_id must be a UUID")
		return
	}
	b, err := h.baselineMgr.Deactivate(r.Context(), baselineID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// HandleApproveBaseline records a write-once approval.
func (h *Handlers) HandleApproveBaseline(w http.ResponseWriter, r *http.Request) {
	baselineID, err := uuid.Parse(r.PathValue("baseline_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "baseline_id must be a UUID")
		return
	}
	var req model.ApproveBaselineRequest
	if err := decodeJSON(r, w, h.maxRequestBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ApprovedBy == "" {
		writeError(w, http.StatusBadRequest, "approved_by is required")
		return
	}

	b, err := h.baselineMgr.Approve(r.Context(), baselineID, req.ApprovedBy)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// HandleDetectDrift runs drift detection for an observation window.
func (h *Handlers) HandleDetectDrift(w http.ResponseWriter, r *http.Request) {
	var req model.DetectDriftRequest
	if err := decodeJSON(r, w, h.maxRequestBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.BaselineID == nil {
		if req.AgentID == "" || req.AgentVersion == "" {
			writeError(w, http.StatusBadRequest, "baseline_id or the agent triple is required")
			return
		}
		if !model.ValidEnvironment(req.Environment) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("environment: unknown value %q", req.Environment))
			return
		}
	}
	if req.WindowStart.IsZero() || req.WindowEnd.IsZero() || !req.WindowEnd.After(req.WindowStart) {
		writeError(w, http.StatusBadRequest, "window_start must precede window_end")
		return
	}
	if req.MinSampleSize != nil && *req.MinSampleSize < 1 {
		writeError(w, http.StatusBadRequest, "min_sample_size must be positive")
		return
	}

	drifts, err := h.driftEngine.Detect(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if drifts == nil {
		drifts = []model.BehaviorDrift{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"drift_events": drifts,
		"count":        len(drifts),
	})
}

// HandleListDrift returns drift records matching the filters.
func (h *Handlers) HandleListDrift(w http.ResponseWriter, r *http.Request) {
	agentFilters, err := parseAgentFilters(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filters := model.DriftFilters{
		AgentID:      agentFilters.AgentID,
		AgentVersion: agentFilters.AgentVersion,
		Environment:  agentFilters.Environment,
	}

	q := r.URL.Query()
	if v := q.Get("drift_type"); v != "" {
		dt := model.DriftType(v)
		if !model.ValidDriftType(dt) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("drift_type: unknown value %q", v))
			return
		}
		filters.DriftType = dt
	}
	if v := q.Get("severity"); v != "" {
		sev := model.Severity(v)
		if !model.ValidSeverity(sev) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("severity: unknown value %q", v))
			return
		}
		filters.Severity = sev
	}
	if v := q.Get("resolved"); v != "" {
		if v != "true" && v != "false" {
			writeError(w, http.StatusBadRequest, "resolved must be true or false")
			return
		}
		resolved := v == "true"
		filters.Resolved = &resolved
	}
	if filters.StartTime, err = parseTimeParam(r, "start_time"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if filters.EndTime, err = parseTimeParam(r, "end_time"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, pageSize, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	drifts, total, err := h.db.ListDrift(r.Context(), filters, page, pageSize)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"drift_events": drifts,
		"total":        total,
		"page":         page,
		"page_size":    pageSize,
	})
}

// HandleGetDrift returns one drift record by ID.
func (h *Handlers) HandleGetDrift(w http.ResponseWriter, r *http.Request) {
	driftID, err := uuid.Parse(r.PathValue("drift_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "drift_id must be a UUID")
		return
	}
	d, err := h.db.GetDrift(r.Context(), driftID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// HandleResolveDrift marks a drift record resolved. Write-once.
func (h *Handlers) HandleResolveDrift(w http.ResponseWriter, r *http.Request) {
	driftID, err := uuid.Parse(r.PathValue("drift_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "drift_id must be a UUID")
		return
	}
	d, err := h.db.ResolveDrift(r.Context(), driftID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// HandleDriftSummary returns aggregate drift counters, optionally scoped
// by agent, environment, and a trailing number of days.
func (h *Handlers) HandleDriftSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := model.DriftSummaryFilters{AgentID: q.Get("agent_id")}
	if v := q.Get("environment"); v != "" {
		env := model.Environment(v)
		if !model.ValidEnvironment(env) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("environment: unknown value %q", v))
			return
		}
		filters.Environment = env
	}
	if v := q.Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 365 {
			writeError(w, http.StatusBadRequest, "days must be an integer between 1 and 365")
			return
		}
		since := time.Now().UTC().Add(-time.Duration(n) * 24 * time.Hour)
		filters.Since = &since
	}

	summary, err := h.db.DriftSummaryStats(r.Context(), filters)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// HandleDriftTimeline returns the chronological drift history for an
// agent triple.
func (h *Handlers) HandleDriftTimeline(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	agentID := q.Get("agent_id")
	agentVersion := q.Get("agent_version")
	if agentID == "" || agentVersion == "" {
		writeError(w, http.StatusBadRequest, "agent_id and agent_version are required")
		return
	}
	env := model.Environment(q.Get("environment"))
	if env == "" {
		env = model.EnvProduction
	}
	if !model.ValidEnvironment(env) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("environment: unknown value %q", env))
		return
	}

	days := 7
	if v := q.Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 365 {
			writeError(w, http.StatusBadRequest, "days must be an integer between 1 and 365")
			return
		}
		days = n
	}
	end := time.Now().UTC()
	start := end.Add(-time.Duration(days) * 24 * time.Hour)
	if t, err := parseTimeParam(r, "start_date"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	} else if t != nil {
		start = *t
	}
	if t, err := parseTimeParam(r, "end_date"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	} else if t != nil {
		end = *t
	}

	timeline, err := h.db.DriftTimeline(r.Context(), agentID, agentVersion, env, start, end)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.DriftTimelineResponse{
		AgentID:      agentID,
		AgentVersion: agentVersion,
		Environment:  string(env),
		Timeline:     timeline,
	})
}

// parseAgentFilters reads the agent identity filter parameters shared by
// the phase3 list endpoints.
func parseAgentFilters(r *http.Request) (model.ProfileFilters, error) {
	q := r.URL.Query()
	filters := model.ProfileFilters{
		AgentID:      q.Get("agent_id"),
		AgentVersion: q.Get("agent_version"),
	}
	if v := q.Get("environment"); v != "" {
		env := model.Environment(v)
		if !model.ValidEnvironment(env) {
			return model.ProfileFilters{}, fmt.Errorf("environment: unknown value %q", v)
		}
		filters.Environment = env
	}
	return filters, nil
}
