// Package model defines the core domain types for AgentSight.
//
// All types correspond directly to database tables and API payloads.
// Types use strong typing (UUIDs, time.Time, enums) and avoid
// interface{} wherever possible. Metadata maps are the one exception:
// they hold caller-supplied primitives and are bounded by the privacy
// validators before they reach storage.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Environment is the deployment environment a run executed in.
type Environment string

const (
	EnvProduction  Environment = "production"
	EnvStaging     Environment = "staging"
	EnvDevelopment Environment = "development"
)

// ValidEnvironment reports whether e is a known environment.
func ValidEnvironment(e Environment) bool {
	switch e {
	case EnvProduction, EnvStaging, EnvDevelopment:
		return true
	}
	return false
}

// RunStatus is the terminal outcome of an agent run.
type RunStatus string

const (
	RunStatusSuccess RunStatus = "success"
	RunStatusFailure RunStatus = "failure"
	RunStatusPartial RunStatus = "partial"
)

// ValidRunStatus reports whether s is a known run status.
func ValidRunStatus(s RunStatus) bool {
	switch s {
	case RunStatusSuccess, RunStatusFailure, RunStatusPartial:
		return true
	}
	return false
}

// StepType classifies an atomic action within a run.
type StepType string

const (
	StepTypePlan     StepType = "plan"
	StepTypeRetrieve StepType = "retrieve"
	StepTypeTool     StepType = "tool"
	StepTypeRespond  StepType = "respond"
	StepTypeOther    StepType = "other"
)

// ValidStepType reports whether t is a known step type.
func ValidStepType(t StepType) bool {
	switch t {
	case StepTypePlan, StepTypeRetrieve, StepTypeTool, StepTypeRespond, StepTypeOther:
		return true
	}
	return false
}

// FailureType is the semantic failure taxonomy.
type FailureType string

const (
	FailureTypeTool          FailureType = "tool"
	FailureTypeModel         FailureType = "model"
	FailureTypeRetrieval     FailureType = "retrieval"
	FailureTypeOrchestration FailureType = "orchestration"
)

// ValidFailureType reports whether t is a known failure type.
func ValidFailureType(t FailureType) bool {
	switch t {
	case FailureTypeTool, FailureTypeModel, FailureTypeRetrieval, FailureTypeOrchestration:
		return true
	}
	return false
}

// Field length limits for identity and failure fields. Failure messages
// are the only free-form text in the schema and are kept short on purpose.
const (
	MaxAgentIDLen      = 255
	MaxAgentVersionLen = 100
	MaxStepNameLen     = 255
	MaxFailureCodeLen  = 100
	MaxFailureMsgLen   = 500
)

// Run is one attempted execution of an agent. Immutable once ingested;
// run_id is the client-supplied idempotency key.
type Run struct {
	RunID        uuid.UUID   `json:"run_id"`
	AgentID      string      `json:"agent_id"`
	AgentVersion string      `json:"agent_version"`
	Environment  Environment `json:"environment"`
	Status       RunStatus   `json:"status"`
	StartedAt    time.Time   `json:"started_at"`
	EndedAt      *time.Time  `json:"ended_at,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Step is one atomic action within a run, ordered by Seq. Retries are
// distinct steps, never overwrites; step history is append-only within a run.
type Step struct {
	StepID    uuid.UUID      `json:"step_id"`
	RunID     uuid.UUID      `json:"run_id"`
	Seq       int            `json:"seq"`
	StepType  StepType       `json:"step_type"`
	Name      string         `json:"name"`
	LatencyMS int            `json:"latency_ms"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
	Metadata  map[string]any `json:"metadata"`
}

// Failure classifies a failed run: type, short code, bounded message.
// failure_id is server-assigned.
type Failure struct {
	FailureID   uuid.UUID   `json:"failure_id"`
	RunID       uuid.UUID   `json:"run_id"`
	StepID      *uuid.UUID  `json:"step_id,omitempty"`
	FailureType FailureType `json:"failure_type"`
	FailureCode string      `json:"failure_code"`
	Message     string      `json:"message"`
}
