// Package drift compares observed agent behavior against an approved
// baseline and records statistically significant deviations. Drift
// records measure magnitude only; they never judge whether a change is
// good or bad.
package drift

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/agentsight-io/agentsight/internal/config"
	"github.com/agentsight-io/agentsight/internal/model"
	"github.com/agentsight-io/agentsight/internal/service/profile"
	"github.com/agentsight-io/agentsight/internal/storage"
)

// ErrInsufficientData is returned when the observation window holds
// fewer runs than the minimum sample size. Transport maps it to 422.
var ErrInsufficientData = errors.New("drift: insufficient sample size")

// Alerter receives every drift record the engine stores. Implementations
// must not block detection; delivery failures are their own concern.
type Alerter interface {
	DriftDetected(ctx context.Context, d model.BehaviorDrift)
}

// Engine runs drift detection against stored baselines.
type Engine struct {
	db         *storage.DB
	thresholds config.DriftThresholds
	alerter    Alerter
	logger     *slog.Logger
}

// NewEngine creates a drift engine. alerter may be nil to disable alerts.
func NewEngine(db *storage.DB, thresholds config.DriftThresholds, alerter Alerter, logger *slog.Logger) *Engine {
	return &Engine{db: db, thresholds: thresholds, alerter: alerter, logger: logger}
}

// Detect compares the observation window against the baseline and
// stores one drift record per drifting metric. The baseline is resolved
// explicitly by ID or implicitly as the active baseline for the agent
// triple; storage.ErrNotFound bubbles when neither resolves.
func (e *Engine) Detect(ctx context.Context, req model.DetectDriftRequest) ([]model.BehaviorDrift, error) {
	var baseline model.BehaviorBaseline
	var err error
	if req.BaselineID != nil {
		baseline, err = e.db.GetBaseline(ctx, *req.BaselineID)
	} else {
		baseline, err = e.db.GetActiveBaseline(ctx, req.AgentID, req.AgentVersion, req.Environment)
	}
	if err != nil {
		return nil, err
	}

	prof, err := e.db.GetProfile(ctx, baseline.ProfileID)
	if err != nil {
		return nil, err
	}

	window := storage.AgentWindow{
		AgentID:      baseline.AgentID,
		AgentVersion: baseline.AgentVersion,
		Environment:  baseline.Environment,
		WindowStart:  req.WindowStart,
		WindowEnd:    req.WindowEnd,
	}

	minSample := e.thresholds.MinSamples.DriftDetection
	if req.MinSampleSize != nil {
		minSample = *req.MinSampleSize
	}
	sampleSize, err := e.db.CountRunsInWindow(ctx, window)
	if err != nil {
		return nil, err
	}
	if sampleSize < minSample {
		return nil, fmt.Errorf("%w: %d runs in window, need %d", ErrInsufficientData, sampleSize, minSample)
	}

	decisionCounts, err := e.db.DecisionCountsInWindow(ctx, window)
	if err != nil {
		return nil, err
	}
	signalCounts, err := e.db.SignalCountsInWindow(ctx, window)
	if err != nil {
		return nil, err
	}
	durations, err := e.db.RunDurationsInWindow(ctx, window)
	if err != nil {
		return nil, err
	}

	base := model.BehaviorDrift{
		BaselineID:             baseline.BaselineID,
		AgentID:                baseline.AgentID,
		AgentVersion:           baseline.AgentVersion,
		Environment:            baseline.Environment,
		DetectedAt:             time.Now().UTC(),
		ObservationWindowStart: req.WindowStart,
		ObservationWindowEnd:   req.WindowEnd,
		ObservationSampleSize:  sampleSize,
	}

	var drifts []model.BehaviorDrift
	drifts = append(drifts, e.compareDistributions(base, model.DriftTypeDecision,
		prof.DecisionDistributions, profile.NormalizeAll(decisionCounts),
		e.thresholds.DecisionDrift, sampleSize)...)
	drifts = append(drifts, e.compareDistributions(base, model.DriftTypeSignal,
		prof.SignalDistributions, profile.NormalizeAll(signalCounts),
		e.thresholds.SignalDrift, sampleSize)...)
	drifts = append(drifts, e.compareLatency(base, prof.LatencyStats, profile.LatencyStats(durations))...)

	for i := range drifts {
		if err := e.db.InsertDrift(ctx, drifts[i]); err != nil {
			return nil, err
		}
		if e.alerter != nil {
			e.alerter.DriftDetected(ctx, drifts[i])
		}
	}

	e.logger.Info("drift detection complete",
		"baseline_id", baseline.BaselineID,
		"agent_id", baseline.AgentID,
		"agent_version", baseline.AgentVersion,
		"sample_size", sampleSize,
		"drift_events", len(drifts),
	)
	return drifts, nil
}

// compareDistributions runs the chi-square test per distribution type
// and, where the shift is significant, emits one drift record per
// category whose proportion moved by at least the minimum delta.
func (e *Engine) compareDistributions(base model.BehaviorDrift, driftType model.DriftType,
	baselineDists, observedDists map[string]model.Distribution,
	th config.DistributionThreshold, sampleSize int) []model.BehaviorDrift {

	var drifts []model.BehaviorDrift
	for _, typ := range unionKeys(baselineDists, observedDists) {
		bd := baselineDists[typ]
		od := observedDists[typ]
		if len(bd) == 0 && len(od) == 0 {
			continue
		}

		stat, pValue, dof := ChiSquareTest(bd, od, sampleSize)
		if dof < 1 || pValue >= th.PValueThreshold {
			continue
		}
		e.logger.Debug("distribution shift significant",
			"drift_type", driftType, "metric_type", typ,
			"chi_square", stat, "p_value", pValue, "dof", dof,
		)

		for _, cat := range unionCategoryKeys(bd, od) {
			bv := bd[cat]
			ov := od[cat]
			if bv == 0 && ov == 0 {
				continue
			}
			// A category absent from the baseline has no defined percent
			// delta; it is still emitted because the distribution test
			// already established significance.
			var deltaPercent float64
			if bv > 0 {
				deltaPercent = (ov - bv) / bv * 100
				if math.Abs(deltaPercent) < th.MinDeltaPercent {
					continue
				}
			}

			d := base
			d.DriftID = uuid.New()
			d.DriftType = driftType
			d.Metric = typ + "." + cat
			d.BaselineValue = bv
			d.ObservedValue = ov
			d.Delta = ov - bv
			d.DeltaPercent = deltaPercent
			d.Significance = pValue
			d.TestMethod = model.TestMethodChiSquare
			d.Severity = e.severity(deltaPercent)
			drifts = append(drifts, d)
		}
	}
	return drifts
}

// compareLatency applies the percent threshold to each latency metric.
func (e *Engine) compareLatency(base model.BehaviorDrift, baselineStats, observedStats map[string]float64) []model.BehaviorDrift {
	var drifts []model.BehaviorDrift
	for _, metric := range model.LatencyMetrics {
		bv := baselineStats[metric]
		ov := observedStats[metric]
		if bv <= 0 {
			continue
		}
		deltaPercent := (ov - bv) / bv * 100
		if math.Abs(deltaPercent) < e.thresholds.LatencyDrift.MinDeltaPercent {
			continue
		}

		d := base
		d.DriftID = uuid.New()
		d.DriftType = model.DriftTypeLatency
		d.Metric = metric
		d.BaselineValue = bv
		d.ObservedValue = ov
		d.Delta = ov - bv
		d.DeltaPercent = deltaPercent
		// The percent threshold carries no p-value.
		d.Significance = 1.0
		d.TestMethod = model.TestMethodPercentThreshold
		d.Severity = e.severity(deltaPercent)
		drifts = append(drifts, d)
	}
	return drifts
}

// severity buckets the absolute percent delta.
func (e *Engine) severity(deltaPercent float64) model.Severity {
	abs := math.Abs(deltaPercent)
	switch {
	case abs <= e.thresholds.Severity.Low.MaxDeltaPercent:
		return model.SeverityLow
	case abs <= e.thresholds.Severity.Medium.MaxDeltaPercent:
		return model.SeverityMedium
	default:
		return model.SeverityHigh
	}
}

func unionKeys(a, b map[string]model.Distribution) []string {
	set := map[string]bool{}
	for k := range a {
		set[k] = true
	}
	for k := range b {
		set[k] = true
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func unionCategoryKeys(a, b model.Distribution) []string {
	set := map[string]bool{}
	for k := range a {
		set[k] = true
	}
	for k := range b {
		set[k] = true
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
