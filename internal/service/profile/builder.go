// Package profile builds behavior profiles: statistical snapshots of an
// agent's decision distributions, signal distributions, and latency
// stats over a bounded time window.
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agentsight-io/agentsight/internal/model"
	"github.com/agentsight-io/agentsight/internal/storage"
)

// ErrInsufficientData is returned when the window holds fewer runs than
// the minimum sample size. Transport maps it to 422.
var ErrInsufficientData = errors.New("profile: insufficient sample size")

// Builder computes and stores behavior profiles.
type Builder struct {
	db            *storage.DB
	minSampleSize int
	logger        *slog.Logger
}

// NewBuilder creates a profile builder with the configured default
// minimum sample size.
func NewBuilder(db *storage.DB, minSampleSize int, logger *slog.Logger) *Builder {
	return &Builder{db: db, minSampleSize: minSampleSize, logger: logger}
}

// Build aggregates the runs in the window into a profile and stores it.
// minOverride, when non-nil, replaces the configured minimum sample size
// for this build only.
func (b *Builder) Build(ctx context.Context, w storage.AgentWindow, minOverride *int) (model.BehaviorProfile, error) {
	minSample := b.minSampleSize
	if minOverride != nil {
		minSample = *minOverride
	}

	sampleSize, err := b.db.CountRunsInWindow(ctx, w)
	if err != nil {
		return model.BehaviorProfile{}, err
	}
	if sampleSize < minSample {
		return model.BehaviorProfile{}, fmt.Errorf("%w: %d runs in window, need %d",
			ErrInsufficientData, sampleSize, minSample)
	}

	decisionCounts, err := b.db.DecisionCountsInWindow(ctx, w)
	if err != nil {
		return model.BehaviorProfile{}, err
	}
	signalCounts, err := b.db.SignalCountsInWindow(ctx, w)
	if err != nil {
		return model.BehaviorProfile{}, err
	}
	durations, err := b.db.RunDurationsInWindow(ctx, w)
	if err != nil {
		return model.BehaviorProfile{}, err
	}

	p := model.BehaviorProfile{
		ProfileID:             uuid.New(),
		AgentID:               w.AgentID,
		AgentVersion:          w.AgentVersion,
		Environment:           w.Environment,
		WindowStart:           w.WindowStart,
		WindowEnd:             w.WindowEnd,
		SampleSize:            sampleSize,
		DecisionDistributions: NormalizeAll(decisionCounts),
		SignalDistributions:   NormalizeAll(signalCounts),
		LatencyStats:          LatencyStats(durations),
		CreatedAt:             time.Now().UTC(),
	}

	if err := b.db.InsertProfile(ctx, p); err != nil {
		return model.BehaviorProfile{}, err
	}

	b.logger.Info("profile built",
		"profile_id", p.ProfileID,
		"agent_id", p.AgentID,
		"agent_version", p.AgentVersion,
		"environment", p.Environment,
		"sample_size", p.SampleSize,
	)
	return p, nil
}

// Normalize converts raw counts into an empirical probability
// distribution. An empty count map yields an empty distribution.
func Normalize(counts map[string]int) model.Distribution {
	total := 0
	for _, n := range counts {
		total += n
	}
	dist := make(model.Distribution, len(counts))
	if total == 0 {
		return dist
	}
	for k, n := range counts {
		dist[k] = float64(n) / float64(total)
	}
	return dist
}

// NormalizeAll normalizes each per-type count map independently.
func NormalizeAll(counts map[string]map[string]int) map[string]model.Distribution {
	out := make(map[string]model.Distribution, len(counts))
	for typ, c := range counts {
		out[typ] = Normalize(c)
	}
	return out
}

// Percentile returns the nearest-rank percentile of an ascending-sorted
// slice: sorted[int(n*q)], clamped to the last element.
func Percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)) * q)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// LatencyStats computes mean and p50/p95/p99 run durations from an
// ascending-sorted slice of durations in milliseconds.
func LatencyStats(sorted []float64) map[string]float64 {
	stats := map[string]float64{
		"mean_run_duration_ms": 0,
		"p50_run_duration_ms":  0,
		"p95_run_duration_ms":  0,
		"p99_run_duration_ms":  0,
	}
	if len(sorted) == 0 {
		return stats
	}
	sum := 0.0
	for _, d := range sorted {
		sum += d
	}
	stats["mean_run_duration_ms"] = sum / float64(len(sorted))
	stats["p50_run_duration_ms"] = Percentile(sorted, 0.50)
	stats["p95_run_duration_ms"] = Percentile(sorted, 0.95)
	stats["p99_run_duration_ms"] = Percentile(sorted, 0.99)
	return stats
}
