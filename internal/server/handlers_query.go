package server

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/agentsight-io/agentsight/internal/model"
)

// HandleListRuns returns runs matching the query filters, newest first.
func (h *Handlers) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	filters, err := parseRunFilters(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, pageSize, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	runs, total, err := h.db.ListRuns(r.Context(), filters, page, pageSize)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":      runs,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// HandleGetRun returns one run with its full tree.
func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(r.PathValue("run_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "run_id must be a UUID")
		return
	}

	view, err := h.db.GetRunTree(r.Context(), runID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// HandleGetRunSteps returns the steps of a run in sequence order.
func (h *Handlers) HandleGetRunSteps(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(r.PathValue("run_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "run_id must be a UUID")
		return
	}

	steps, err := h.db.GetSteps(r.Context(), runID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "steps": steps})
}

// HandleGetRunFailures returns the failure records of a run.
func (h *Handlers) HandleGetRunFailures(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(r.PathValue("run_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "run_id must be a UUID")
		return
	}

	failures, err := h.db.GetFailures(r.Context(), runID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "failures": failures})
}

// HandleStats returns aggregate run statistics under the same filters
// as the run list.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	filters, err := parseRunFilters(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := h.db.Stats(r.Context(), filters)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// parseRunFilters reads the shared run filter query parameters,
// rejecting unknown enum values.
func parseRunFilters(r *http.Request) (model.RunFilters, error) {
	q := r.URL.Query()
	filters := model.RunFilters{
		AgentID:      q.Get("agent_id"),
		AgentVersion: q.Get("agent_version"),
	}

	if v := q.Get("status"); v != "" {
		status := model.RunStatus(v)
		if !model.ValidRunStatus(status) {
			return model.RunFilters{}, fmt.Errorf("status: unknown value %q", v)
		}
		filters.Status = status
	}
	if v := q.Get("environment"); v != "" {
		env := model.Environment(v)
		if !model.ValidEnvironment(env) {
			return model.RunFilters{}, fmt.Errorf("environment: unknown value %q", v)
		}
		filters.Environment = env
	}

	var err error
	if filters.StartTime, err = parseTimeParam(r, "start_time"); err != nil {
		return model.RunFilters{}, err
	}
	if filters.EndTime, err = parseTimeParam(r, "end_time"); err != nil {
		return model.RunFilters{}, err
	}
	return filters, nil
}
