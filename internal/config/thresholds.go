package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DriftThresholds is the drift-detection threshold document. Zero values
// in the YAML are replaced by defaults, so a partial document overrides
// only what it names.
type DriftThresholds struct {
	DecisionDrift DistributionThreshold `yaml:"decision_drift"`
	SignalDrift   DistributionThreshold `yaml:"signal_drift"`
	LatencyDrift  LatencyThreshold      `yaml:"latency_drift"`
	Severity      SeverityThresholds    `yaml:"severity_thresholds"`
	MinSamples    MinSampleSizes        `yaml:"minimum_sample_sizes"`
}

// DistributionThreshold gates categorical drift: the distribution test
// p-value and the per-category minimum shift.
type DistributionThreshold struct {
	PValueThreshold float64 `yaml:"p_value_threshold"`
	MinDeltaPercent float64 `yaml:"min_delta_percent"`
}

// LatencyThreshold gates scalar latency drift.
type LatencyThreshold struct {
	MinDeltaPercent float64 `yaml:"min_delta_percent"`
}

// SeverityThresholds bucket drift magnitude. Anything above the medium
// bound is high.
type SeverityThresholds struct {
	Low    SeverityBound `yaml:"low"`
	Medium SeverityBound `yaml:"medium"`
}

// SeverityBound is the upper |delta_percent| of one severity bucket.
type SeverityBound struct {
	MaxDeltaPercent float64 `yaml:"max_delta_percent"`
}

// MinSampleSizes are the minimum run counts for profile building and
// drift detection.
type MinSampleSizes struct {
	Profile        int `yaml:"profile"`
	DriftDetection int `yaml:"drift_detection"`
}

// DefaultDriftThresholds returns the built-in threshold set.
func DefaultDriftThresholds() DriftThresholds {
	return DriftThresholds{
		DecisionDrift: DistributionThreshold{PValueThreshold: 0.05, MinDeltaPercent: 10.0},
		SignalDrift:   DistributionThreshold{PValueThreshold: 0.05, MinDeltaPercent: 15.0},
		LatencyDrift:  LatencyThreshold{MinDeltaPercent: 20.0},
		Severity: SeverityThresholds{
			Low:    SeverityBound{MaxDeltaPercent: 15.0},
			Medium: SeverityBound{MaxDeltaPercent: 30.0},
		},
		MinSamples: MinSampleSizes{Profile: 100, DriftDetection: 50},
	}
}

// LoadDriftThresholds reads the YAML threshold document at path and
// merges it over the defaults. An empty path returns the defaults.
func LoadDriftThresholds(path string) (DriftThresholds, error) {
	thresholds := DefaultDriftThresholds()
	if path == "" {
		return thresholds, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return DriftThresholds{}, fmt.Errorf("config: read drift thresholds: %w", err)
	}

	var loaded DriftThresholds
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return DriftThresholds{}, fmt.Errorf("config: parse drift thresholds: %w", err)
	}

	mergeFloat(&thresholds.DecisionDrift.PValueThreshold, loaded.DecisionDrift.PValueThreshold)
	mergeFloat(&thresholds.DecisionDrift.MinDeltaPercent, loaded.DecisionDrift.MinDeltaPercent)
	mergeFloat(&thresholds.SignalDrift.PValueThreshold, loaded.SignalDrift.PValueThreshold)
	mergeFloat(&thresholds.SignalDrift.MinDeltaPercent, loaded.SignalDrift.MinDeltaPercent)
	mergeFloat(&thresholds.LatencyDrift.MinDeltaPercent, loaded.LatencyDrift.MinDeltaPercent)
	mergeFloat(&thresholds.Severity.Low.MaxDeltaPercent, loaded.Severity.Low.MaxDeltaPercent)
	mergeFloat(&thresholds.Severity.Medium.MaxDeltaPercent, loaded.Severity.Medium.MaxDeltaPercent)
	mergeInt(&thresholds.MinSamples.Profile, loaded.MinSamples.Profile)
	mergeInt(&thresholds.MinSamples.DriftDetection, loaded.MinSamples.DriftDetection)

	if err := thresholds.Validate(); err != nil {
		return DriftThresholds{}, err
	}
	return thresholds, nil
}

// Validate rejects threshold sets that would make every comparison or no
// comparison significant.
func (t DriftThresholds) Validate() error {
	if t.DecisionDrift.PValueThreshold <= 0 || t.DecisionDrift.PValueThreshold > 1 {
		return fmt.Errorf("config: decision_drift.p_value_threshold must be in (0, 1]")
	}
	if t.SignalDrift.PValueThreshold <= 0 || t.SignalDrift.PValueThreshold > 1 {
		return fmt.Errorf("config: signal_drift.p_value_threshold must be in (0, 1]")
	}
	if t.Severity.Low.MaxDeltaPercent > t.Severity.Medium.MaxDeltaPercent {
		return fmt.Errorf("config: severity_thresholds.low must not exceed medium")
	}
	if t.MinSamples.Profile < 1 || t.MinSamples.DriftDetection < 1 {
		return fmt.Errorf("config: minimum_sample_sizes must be positive")
	}
	return nil
}

func mergeFloat(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

func mergeInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
