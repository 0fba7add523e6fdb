package model

import (
	"time"

	"github.com/google/uuid"
)

// Pagination bounds for list endpoints. Values outside the range are
// rejected, not clamped.
const (
	MinPageSize     = 1
	MaxPageSize     = 200
	DefaultPageSize = 50
)

// RunSubmission is the request body for POST /v1/runs: one nested run
// tree per request. run_id doubles as the idempotency key.
type RunSubmission struct {
	RunID          uuid.UUID         `json:"run_id"`
	AgentID        string            `json:"agent_id"`
	AgentVersion   string            `json:"agent_version"`
	Environment    Environment       `json:"environment"`
	Status         RunStatus         `json:"status"`
	StartedAt      time.Time         `json:"started_at"`
	EndedAt        *time.Time        `json:"ended_at"`
	Steps          []StepInput       `json:"steps"`
	Failure        *FailureInput     `json:"failure"`
	Decisions      []DecisionInput   `json:"decisions,omitempty"`
	QualitySignals []SignalInput     `json:"quality_signals,omitempty"`
}

// StepInput is one step in a run submission.
type StepInput struct {
	StepID    uuid.UUID      `json:"step_id"`
	Seq       int            `json:"seq"`
	StepType  StepType       `json:"step_type"`
	Name      string         `json:"name"`
	LatencyMS int            `json:"latency_ms"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
	Metadata  map[string]any `json:"metadata"`
}

// FailureInput is the failure object in a run submission. failure_id is
// assigned server-side.
type FailureInput struct {
	StepID      *uuid.UUID  `json:"step_id"`
	FailureType FailureType `json:"failure_type"`
	FailureCode string      `json:"failure_code"`
	Message     string      `json:"message"`
}

// DecisionInput is one decision record in a run submission.
type DecisionInput struct {
	DecisionID   uuid.UUID      `json:"decision_id"`
	StepID       *uuid.UUID     `json:"step_id,omitempty"`
	DecisionType DecisionType   `json:"decision_type"`
	Selected     string         `json:"selected"`
	ReasonCode   string         `json:"reason_code"`
	Confidence   *float64       `json:"confidence,omitempty"`
	Candidates   []string       `json:"candidates,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	RecordedAt   *time.Time     `json:"recorded_at,omitempty"`
}

// SignalInput is one quality signal in a run submission.
type SignalInput struct {
	SignalID   uuid.UUID      `json:"signal_id"`
	StepID     *uuid.UUID     `json:"step_id,omitempty"`
	SignalType SignalType     `json:"signal_type"`
	SignalCode string         `json:"signal_code"`
	Value      bool           `json:"value"`
	Weight     *float64       `json:"weight,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	RecordedAt *time.Time     `json:"recorded_at,omitempty"`
}

// RunView is the stored representation of a run with all its children,
// returned by ingestion and by the query endpoints.
type RunView struct {
	Run
	Steps          []Step          `json:"steps"`
	Failures       []Failure       `json:"failures"`
	Decisions      []Decision      `json:"decisions,omitempty"`
	QualitySignals []QualitySignal `json:"quality_signals,omitempty"`
}

// RunFilters are the exact-match and time-range filters accepted by the
// run list and stats endpoints.
type RunFilters struct {
	AgentID      string
	AgentVersion string
	Status       RunStatus
	Environment  Environment
	StartTime    *time.Time
	EndTime      *time.Time
}

// StatsResponse is the aggregate returned by GET /v1/stats.
// total_failures counts runs with status=failure, success_rate is a
// 0-100 percentage, avg_latency_ms averages per-step latency, and
// failure_breakdown is keyed "{failure_type}/{failure_code}".
type StatsResponse struct {
	TotalRuns         int                `json:"total_runs"`
	TotalFailures     int                `json:"total_failures"`
	SuccessRate       float64            `json:"success_rate"`
	AvgLatencyMS      float64            `json:"avg_latency_ms"`
	FailureBreakdown  map[string]int     `json:"failure_breakdown"`
	StepTypeBreakdown map[StepType]int   `json:"step_type_breakdown"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

// ErrorResponse is the body of every HTTP error: a single human-readable
// detail string, no stack traces, no sensitive data.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// BuildProfileRequest is the request body for POST /v1/phase3/profiles.
type BuildProfileRequest struct {
	AgentID       string      `json:"agent_id"`
	AgentVersion  string      `json:"agent_version"`
	Environment   Environment `json:"environment"`
	WindowStart   time.Time   `json:"window_start"`
	WindowEnd     time.Time   `json:"window_end"`
	MinSampleSize *int        `json:"min_sample_size,omitempty"`
}

// CreateBaselineRequest is the request body for POST /v1/phase3/baselines.
type CreateBaselineRequest struct {
	ProfileID    uuid.UUID    `json:"profile_id"`
	BaselineType BaselineType `json:"baseline_type"`
	Description  *string      `json:"description,omitempty"`
	ApprovedBy   *string      `json:"approved_by,omitempty"`
	AutoActivate bool         `json:"auto_activate,omitempty"`
}

// ApproveBaselineRequest is the request body for
// POST /v1/phase3/baselines/{id}/approve.
type ApproveBaselineRequest struct {
	ApprovedBy string `json:"approved_by"`
}

// DetectDriftRequest is the request body for POST /v1/phase3/drift/detect.
// The baseline is resolved to the active baseline for the agent triple
// unless baseline_id is given explicitly.
type DetectDriftRequest struct {
	BaselineID    *uuid.UUID  `json:"baseline_id,omitempty"`
	AgentID       string      `json:"agent_id,omitempty"`
	AgentVersion  string      `json:"agent_version,omitempty"`
	Environment   Environment `json:"environment,omitempty"`
	WindowStart   time.Time   `json:"window_start"`
	WindowEnd     time.Time   `json:"window_end"`
	MinSampleSize *int        `json:"min_sample_size,omitempty"`
}

// ProfileFilters are the filters accepted by GET /v1/phase3/profiles.
type ProfileFilters struct {
	AgentID      string
	AgentVersion string
	Environment  Environment
}

// BaselineFilters are the filters accepted by GET /v1/phase3/baselines.
type BaselineFilters struct {
	AgentID      string
	AgentVersion string
	Environment  Environment
	IsActive     *bool
}

// DriftFilters are the filters accepted by GET /v1/phase3/drift.
type DriftFilters struct {
	AgentID      string
	AgentVersion string
	Environment  Environment
	DriftType    DriftType
	Severity     Severity
	Resolved     *bool
	StartTime    *time.Time
	EndTime      *time.Time
}

// DriftSummaryFilters scope the drift summary. Zero values mean
// unfiltered.
type DriftSummaryFilters struct {
	AgentID     string
	Environment Environment
	Since       *time.Time
}

// DriftTimelinePoint is one chronological point in the drift timeline.
type DriftTimelinePoint struct {
	Timestamp     time.Time  `json:"timestamp"`
	Metric        string     `json:"metric"`
	Value         float64    `json:"value"`
	DriftDetected bool       `json:"drift_detected"`
	DriftID       *uuid.UUID `json:"drift_id,omitempty"`
}

// DriftTimelineResponse is the response for GET /v1/phase3/drift/timeline.
type DriftTimelineResponse struct {
	AgentID      string               `json:"agent_id"`
	AgentVersion string               `json:"agent_version"`
	Environment  string               `json:"environment"`
	Timeline     []DriftTimelinePoint `json:"timeline"`
}

// DriftSummary is the response for GET /v1/phase3/drift/summary.
type DriftSummary struct {
	TotalDriftEvents      int                `json:"total_drift_events"`
	UnresolvedDriftEvents int                `json:"unresolved_drift_events"`
	DriftBySeverity       map[Severity]int   `json:"drift_by_severity"`
	DriftByType           map[DriftType]int  `json:"drift_by_type"`
	AgentsWithDrift       int                `json:"agents_with_drift"`
}
