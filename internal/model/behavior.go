package model

import (
	"time"

	"github.com/google/uuid"
)

// BaselineType classifies how a baseline was established.
type BaselineType string

const (
	BaselineTypeVersion    BaselineType = "version"
	BaselineTypeTimeWindow BaselineType = "time_window"
	BaselineTypeManual     BaselineType = "manual"
)

// ValidBaselineType reports whether t is a known baseline type.
func ValidBaselineType(t BaselineType) bool {
	switch t {
	case BaselineTypeVersion, BaselineTypeTimeWindow, BaselineTypeManual:
		return true
	}
	return false
}

// DriftType is the dimension along which drift was detected.
type DriftType string

const (
	DriftTypeDecision DriftType = "decision"
	DriftTypeSignal   DriftType = "signal"
	DriftTypeLatency  DriftType = "latency"
)

// ValidDriftType reports whether t is a known drift type.
func ValidDriftType(t DriftType) bool {
	switch t {
	case DriftTypeDecision, DriftTypeSignal, DriftTypeLatency:
		return true
	}
	return false
}

// TestMethod is the statistical test that produced a drift record.
type TestMethod string

const (
	TestMethodChiSquare        TestMethod = "chi_square"
	TestMethodPercentThreshold TestMethod = "percent_threshold"
)

// Severity buckets the magnitude of a drift. Magnitude only; never a
// quality judgment.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// ValidSeverity reports whether s is a known severity.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

// Distribution maps a category (selected option or signal code) to its
// empirical probability. Per-type distributions sum to 1.0 within
// floating tolerance.
type Distribution map[string]float64

// LatencyMetrics is the fixed set of scalar latency metric names stored
// in a profile's latency_stats, in comparison order.
var LatencyMetrics = []string{
	"mean_run_duration_ms",
	"p50_run_duration_ms",
	"p95_run_duration_ms",
	"p99_run_duration_ms",
}

// BehaviorProfile is a statistical snapshot of agent behavior over a
// bounded time window. Identified by (agent_id, agent_version,
// environment, window_start, window_end).
//
// Signal distributions are stored as the distribution over signal_code
// within each signal_type, regardless of the signal's boolean value.
// The drift engine consumes the same form.
type BehaviorProfile struct {
	ProfileID             uuid.UUID               `json:"profile_id"`
	AgentID               string                  `json:"agent_id"`
	AgentVersion          string                  `json:"agent_version"`
	Environment           Environment             `json:"environment"`
	WindowStart           time.Time               `json:"window_start"`
	WindowEnd             time.Time               `json:"window_end"`
	SampleSize            int                     `json:"sample_size"`
	DecisionDistributions map[string]Distribution `json:"decision_distributions"`
	SignalDistributions   map[string]Distribution `json:"signal_distributions"`
	LatencyStats          map[string]float64      `json:"latency_stats"`
	CreatedAt             time.Time               `json:"created_at"`
}

// MaxBaselineDescriptionLen bounds the only free-form text on a baseline.
const MaxBaselineDescriptionLen = 200

// BehaviorBaseline is an immutable approved profile, activated for a
// specific (agent_id, agent_version, environment) triple. After creation
// only is_active and a first-time approval pair may change.
type BehaviorBaseline struct {
	BaselineID   uuid.UUID    `json:"baseline_id"`
	ProfileID    uuid.UUID    `json:"profile_id"`
	AgentID      string       `json:"agent_id"`
	AgentVersion string       `json:"agent_version"`
	Environment  Environment  `json:"environment"`
	BaselineType BaselineType `json:"baseline_type"`
	ApprovedBy   *string      `json:"approved_by,omitempty"`
	ApprovedAt   *time.Time   `json:"approved_at,omitempty"`
	Description  *string      `json:"description,omitempty"`
	IsActive     bool         `json:"is_active"`
	CreatedAt    time.Time    `json:"created_at"`
}

// BehaviorDrift is a statistically significant deviation of an
// observation window from its baseline, recorded per metric. Only
// resolved_at is mutable after creation.
type BehaviorDrift struct {
	DriftID                uuid.UUID   `json:"drift_id"`
	BaselineID             uuid.UUID   `json:"baseline_id"`
	AgentID                string      `json:"agent_id"`
	AgentVersion           string      `json:"agent_version"`
	Environment            Environment `json:"environment"`
	DriftType              DriftType   `json:"drift_type"`
	Metric                 string      `json:"metric"`
	BaselineValue          float64     `json:"baseline_value"`
	ObservedValue          float64     `json:"observed_value"`
	Delta                  float64     `json:"delta"`
	DeltaPercent           float64     `json:"delta_percent"`
	Significance           float64     `json:"significance"`
	TestMethod             TestMethod  `json:"test_method"`
	Severity               Severity    `json:"severity"`
	DetectedAt             time.Time   `json:"detected_at"`
	ObservationWindowStart time.Time   `json:"observation_window_start"`
	ObservationWindowEnd   time.Time   `json:"observation_window_end"`
	ObservationSampleSize  int         `json:"observation_sample_size"`
	ResolvedAt             *time.Time  `json:"resolved_at,omitempty"`
}

// AlertChannel identifies a configured alert sink.
type AlertChannel string

const (
	AlertChannelLog       AlertChannel = "log"
	AlertChannelDatabase  AlertChannel = "database"
	AlertChannelWebhook   AlertChannel = "webhook"
	AlertChannelSlack     AlertChannel = "slack"
	AlertChannelPagerDuty AlertChannel = "pagerduty"
)

// DeliveryStatus is the outcome of an alert dispatch attempt.
type DeliveryStatus string

const (
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
	DeliveryPending DeliveryStatus = "pending"
	DeliveryRetry   DeliveryStatus = "retry"
)

// AlertLog records one alert dispatched for a drift event.
type AlertLog struct {
	AlertID        uuid.UUID      `json:"alert_id"`
	DriftID        uuid.UUID      `json:"drift_id"`
	AlertMessage   string         `json:"alert_message"`
	AlertChannel   AlertChannel   `json:"alert_channel"`
	SentAt         time.Time      `json:"sent_at"`
	DeliveryStatus DeliveryStatus `json:"delivery_status"`
}
