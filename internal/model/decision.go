package model

import (
	"time"

	"github.com/google/uuid"
)

// DecisionType is a high-level category of decision an agent records.
type DecisionType string

const (
	DecisionToolSelection     DecisionType = "tool_selection"
	DecisionRetrievalStrategy DecisionType = "retrieval_strategy"
	DecisionResponseMode      DecisionType = "response_mode"
	DecisionRetryStrategy     DecisionType = "retry_strategy"
	DecisionOrchestrationPath DecisionType = "orchestration_path"
)

// decisionReasonCodes maps each decision type to its permitted reason codes.
// A reason code is only valid within its own decision type.
var decisionReasonCodes = map[DecisionType][]string{
	DecisionToolSelection: {
		"fresh_data_required",
		"cached_data_sufficient",
		"tool_unavailable",
		"cost_optimization",
		"latency_optimization",
		"accuracy_required",
	},
	DecisionRetrievalStrategy: {
		"semantic_search_preferred",
		"keyword_match_sufficient",
		"hybrid_approach_needed",
		"filter_applied",
		"rerank_required",
	},
	DecisionResponseMode: {
		"streaming_requested",
		"batch_preferred",
		"format_constraint",
		"length_constraint",
	},
	DecisionRetryStrategy: {
		"transient_error_detected",
		"rate_limit_encountered",
		"no_retry_terminal_error",
		"retry_budget_exhausted",
		"backoff_required",
	},
	DecisionOrchestrationPath: {
		"sequential_required",
		"parallel_preferred",
		"conditional_branch",
		"early_exit",
		"fallback_path",
	},
}

// ValidDecisionType reports whether t is a known decision type.
func ValidDecisionType(t DecisionType) bool {
	_, ok := decisionReasonCodes[t]
	return ok
}

// ValidReasonCode reports whether code is permitted for the given decision type.
func ValidReasonCode(t DecisionType, code string) bool {
	for _, c := range decisionReasonCodes[t] {
		if c == code {
			return true
		}
	}
	return false
}

// ReasonCodes returns the permitted reason codes for a decision type.
func ReasonCodes(t DecisionType) []string {
	return decisionReasonCodes[t]
}

// SignalType is a category of boolean quality observation.
type SignalType string

const (
	SignalSchemaValid      SignalType = "schema_valid"
	SignalEmptyRetrieval   SignalType = "empty_retrieval"
	SignalToolSuccess      SignalType = "tool_success"
	SignalToolFailure      SignalType = "tool_failure"
	SignalRetryOccurred    SignalType = "retry_occurred"
	SignalLatencyThreshold SignalType = "latency_threshold"
	SignalTokenUsage       SignalType = "token_usage"
)

// signalCodes maps each signal type to its permitted signal codes.
var signalCodes = map[SignalType][]string{
	SignalSchemaValid: {
		"full_match",
		"partial_match",
		"validation_failed",
		"no_schema_defined",
	},
	SignalEmptyRetrieval: {
		"no_results",
		"filtered_out",
		"index_empty",
	},
	SignalToolSuccess: {
		"first_attempt",
		"after_retry",
		"fallback_used",
	},
	SignalToolFailure: {
		"timeout",
		"invalid_input",
		"unavailable",
		"rate_limited",
		"authentication_failed",
	},
	SignalRetryOccurred: {
		"single_retry",
		"multiple_retries",
		"max_retries_reached",
	},
	SignalLatencyThreshold: {
		"under_threshold",
		"exceeded_threshold",
		"significantly_exceeded",
	},
	SignalTokenUsage: {
		"low_usage",
		"moderate_usage",
		"high_usage",
		"limit_approached",
	},
}

// ValidSignalType reports whether t is a known signal type.
func ValidSignalType(t SignalType) bool {
	_, ok := signalCodes[t]
	return ok
}

// ValidSignalCode reports whether code is permitted for the given signal type.
func ValidSignalCode(t SignalType, code string) bool {
	for _, c := range signalCodes[t] {
		if c == code {
			return true
		}
	}
	return false
}

// SignalCodes returns the permitted codes for a signal type.
func SignalCodes(t SignalType) []string {
	return signalCodes[t]
}

// Decision is a structured record of a selection made by the agent at a
// step. Candidates are short identifiers, never free text.
type Decision struct {
	DecisionID   uuid.UUID      `json:"decision_id"`
	RunID        uuid.UUID      `json:"run_id"`
	StepID       *uuid.UUID     `json:"step_id,omitempty"`
	DecisionType DecisionType   `json:"decision_type"`
	Selected     string         `json:"selected"`
	ReasonCode   string         `json:"reason_code"`
	Confidence   *float64       `json:"confidence,omitempty"`
	Candidates   []string       `json:"candidates,omitempty"`
	Metadata     map[string]any `json:"metadata"`
	RecordedAt   time.Time      `json:"recorded_at"`
}

// QualitySignal is a boolean observation at a step, typed and coded from
// a fixed enum, optionally weighted.
type QualitySignal struct {
	SignalID   uuid.UUID      `json:"signal_id"`
	RunID      uuid.UUID      `json:"run_id"`
	StepID     *uuid.UUID     `json:"step_id,omitempty"`
	SignalType SignalType     `json:"signal_type"`
	SignalCode string         `json:"signal_code"`
	Value      bool           `json:"value"`
	Weight     *float64       `json:"weight,omitempty"`
	Metadata   map[string]any `json:"metadata"`
	RecordedAt time.Time      `json:"recorded_at"`
}
