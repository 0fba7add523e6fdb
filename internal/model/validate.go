package model

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/agentsight-io/agentsight/internal/privacy"
)

// ValidateSubmission checks the full ingestion contract on a run payload
// before any database work: identity bounds, enum membership, timestamp
// ordering, step sequence contiguity, privacy rules, and the
// status=failure ⇒ failure-object invariant. Error messages cite the
// offending JSON path.
func ValidateSubmission(sub RunSubmission) error {
	if sub.RunID == uuid.Nil {
		return fmt.Errorf("run_id is required")
	}
	if sub.AgentID == "" {
		return fmt.Errorf("agent_id is required")
	}
	if len(sub.AgentID) > MaxAgentIDLen {
		return fmt.Errorf("agent_id exceeds %d characters", MaxAgentIDLen)
	}
	if sub.AgentVersion == "" {
		return fmt.Errorf("agent_version is required")
	}
	if len(sub.AgentVersion) > MaxAgentVersionLen {
		return fmt.Errorf("agent_version exceeds %d characters", MaxAgentVersionLen)
	}
	if sub.Environment != "" && !ValidEnvironment(sub.Environment) {
		return fmt.Errorf("environment: unknown value %q", sub.Environment)
	}
	if !ValidRunStatus(sub.Status) {
		return fmt.Errorf("status: unknown value %q", sub.Status)
	}
	if sub.StartedAt.IsZero() {
		return fmt.Errorf("started_at is required")
	}
	if sub.EndedAt != nil && sub.EndedAt.Before(sub.StartedAt) {
		return fmt.Errorf("ended_at must not precede started_at")
	}

	stepIDs, err := validateSteps(sub.Steps)
	if err != nil {
		return err
	}

	if sub.Status == RunStatusFailure && sub.Failure == nil {
		return fmt.Errorf("failure object is required when status is %q", RunStatusFailure)
	}
	if sub.Failure != nil {
		if err := validateFailure(*sub.Failure, stepIDs); err != nil {
			return err
		}
	}

	for i, d := range sub.Decisions {
		if err := validateDecision(i, d, stepIDs); err != nil {
			return err
		}
	}
	for i, s := range sub.QualitySignals {
		if err := validateSignal(i, s, stepIDs); err != nil {
			return err
		}
	}
	return nil
}

// validateSteps checks each step and that seq values form exactly
// {0, 1, …, n−1}. Returns the set of step IDs for child reference checks.
func validateSteps(steps []StepInput) (map[uuid.UUID]bool, error) {
	stepIDs := make(map[uuid.UUID]bool, len(steps))
	seen := make(map[int]bool, len(steps))

	for i, s := range steps {
		path := fmt.Sprintf("steps[%d]", i)
		if s.StepID == uuid.Nil {
			return nil, fmt.Errorf("%s.step_id is required", path)
		}
		if stepIDs[s.StepID] {
			return nil, fmt.Errorf("%s.step_id %s is duplicated", path, s.StepID)
		}
		if s.Seq < 0 {
			return nil, fmt.Errorf("%s.seq must be non-negative", path)
		}
		if seen[s.Seq] {
			return nil, fmt.Errorf("%s.seq %d is duplicated", path, s.Seq)
		}
		if !ValidStepType(s.StepType) {
			return nil, fmt.Errorf("%s.step_type: unknown value %q", path, s.StepType)
		}
		if s.Name == "" {
			return nil, fmt.Errorf("%s.name is required", path)
		}
		if len(s.Name) > MaxStepNameLen {
			return nil, fmt.Errorf("%s.name exceeds %d characters", path, MaxStepNameLen)
		}
		if s.LatencyMS < 0 {
			return nil, fmt.Errorf("%s.latency_ms must be non-negative", path)
		}
		if s.StartedAt.IsZero() || s.EndedAt.IsZero() {
			return nil, fmt.Errorf("%s: started_at and ended_at are required", path)
		}
		if s.EndedAt.Before(s.StartedAt) {
			return nil, fmt.Errorf("%s: ended_at must not precede started_at", path)
		}
		if err := privacy.CheckMetadata(path+".metadata", s.Metadata); err != nil {
			return nil, err
		}
		stepIDs[s.StepID] = true
		seen[s.Seq] = true
	}

	// seq values are distinct non-negatives; contiguity from 0 holds
	// exactly when the max equals len-1.
	for seq := range seen {
		if seq >= len(steps) {
			return nil, fmt.Errorf("steps: seq values must be contiguous from 0 (got %d with %d steps)", seq, len(steps))
		}
	}
	return stepIDs, nil
}

func validateFailure(f FailureInput, stepIDs map[uuid.UUID]bool) error {
	if !ValidFailureType(f.FailureType) {
		return fmt.Errorf("failure.failure_type: unknown value %q", f.FailureType)
	}
	if f.FailureCode == "" {
		return fmt.Errorf("failure.failure_code is required")
	}
	if len(f.FailureCode) > MaxFailureCodeLen {
		return fmt.Errorf("failure.failure_code exceeds %d characters", MaxFailureCodeLen)
	}
	if len(f.Message) > MaxFailureMsgLen {
		return fmt.Errorf("failure.message exceeds %d characters", MaxFailureMsgLen)
	}
	if err := privacy.CheckMessage("failure.message", f.Message); err != nil {
		return err
	}
	if f.StepID != nil && !stepIDs[*f.StepID] {
		return fmt.Errorf("failure.step_id %s does not reference a step in this run", *f.StepID)
	}
	return nil
}

func validateDecision(i int, d DecisionInput, stepIDs map[uuid.UUID]bool) error {
	path := fmt.Sprintf("decisions[%d]", i)
	if d.DecisionID == uuid.Nil {
		return fmt.Errorf("%s.decision_id is required", path)
	}
	if !ValidDecisionType(d.DecisionType) {
		return fmt.Errorf("%s.decision_type: unknown value %q", path, d.DecisionType)
	}
	if d.Selected == "" {
		return fmt.Errorf("%s.selected is required", path)
	}
	if !ValidReasonCode(d.DecisionType, d.ReasonCode) {
		return fmt.Errorf("%s.reason_code: %q is not permitted for decision_type %q", path, d.ReasonCode, d.DecisionType)
	}
	if d.Confidence != nil && (*d.Confidence < 0 || *d.Confidence > 1) {
		return fmt.Errorf("%s.confidence must be within [0, 1]", path)
	}
	for j, c := range d.Candidates {
		if c == "" {
			return fmt.Errorf("%s.candidates[%d] must not be empty", path, j)
		}
		if len(c) > privacy.MaxMetadataValueLen {
			return fmt.Errorf("%s.candidates[%d] exceeds %d characters", path, j, privacy.MaxMetadataValueLen)
		}
	}
	if d.StepID != nil && !stepIDs[*d.StepID] {
		return fmt.Errorf("%s.step_id %s does not reference a step in this run", path, *d.StepID)
	}
	return privacy.CheckMetadata(path+".metadata", d.Metadata)
}

func validateSignal(i int, s SignalInput, stepIDs map[uuid.UUID]bool) error {
	path := fmt.Sprintf("quality_signals[%d]", i)
	if s.SignalID == uuid.Nil {
		return fmt.Errorf("%s.signal_id is required", path)
	}
	if !ValidSignalType(s.SignalType) {
		return fmt.Errorf("%s.signal_type: unknown value %q", path, s.SignalType)
	}
	if !ValidSignalCode(s.SignalType, s.SignalCode) {
		return fmt.Errorf("%s.signal_code: %q is not permitted for signal_type %q", path, s.SignalCode, s.SignalType)
	}
	if s.Weight != nil && (*s.Weight < 0 || *s.Weight > 1) {
		return fmt.Errorf("%s.weight must be within [0, 1]", path)
	}
	if s.StepID != nil && !stepIDs[*s.StepID] {
		return fmt.Errorf("%s.step_id %s does not reference a step in this run", path, *s.StepID)
	}
	return privacy.CheckMetadata(path+".metadata", s.Metadata)
}

// ValidateDescription checks a baseline description against the length
// bound and the privacy keyword filter.
func ValidateDescription(description *string) error {
	if description == nil {
		return nil
	}
	if len(*description) > MaxBaselineDescriptionLen {
		return fmt.Errorf("description exceeds %d characters", MaxBaselineDescriptionLen)
	}
	return privacy.CheckDescription("description", *description)
}
