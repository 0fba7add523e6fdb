package drift

import (
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentsight-io/agentsight/internal/config"
	"github.com/agentsight-io/agentsight/internal/model"
)

func testEngine() *Engine {
	return NewEngine(nil, config.DefaultDriftThresholds(), nil, slog.Default())
}

func TestChiSquarePValueKnownValues(t *testing.T) {
	// Reference values from standard chi-square tables.
	cases := []struct {
		stat float64
		dof  int
		want float64
	}{
		{3.841, 1, 0.05},
		{6.635, 1, 0.01},
		{5.991, 2, 0.05},
		{9.488, 4, 0.05},
	}
	for _, c := range cases {
		got := ChiSquarePValue(c.stat, c.dof)
		assert.InDelta(t, c.want, got, 0.001, "stat=%v dof=%d", c.stat, c.dof)
	}
}

func TestChiSquarePValueDegenerate(t *testing.T) {
	assert.Equal(t, 1.0, ChiSquarePValue(0, 1))
	assert.Equal(t, 1.0, ChiSquarePValue(5, 0))
	assert.Equal(t, 1.0, ChiSquarePValue(math.NaN(), 1))
}

func TestChiSquareTestIdenticalDistributions(t *testing.T) {
	dist := map[string]float64{"a": 0.5, "b": 0.3, "c": 0.2}
	stat, p, dof := ChiSquareTest(dist, dist, 500)

	assert.InDelta(t, 0, stat, 1e-9)
	assert.Equal(t, 2, dof)
	assert.Equal(t, 1.0, p)
}

func TestChiSquareTestShiftedDistribution(t *testing.T) {
	baseline := map[string]float64{"web_search": 0.65, "database": 0.35}
	observed := map[string]float64{"web_search": 0.82, "database": 0.18}

	stat, p, dof := ChiSquareTest(baseline, observed, 50)

	assert.Equal(t, 1, dof)
	assert.InDelta(t, 6.35, stat, 0.05)
	assert.Less(t, p, 0.05)
}

func TestChiSquareTestFallbackSampleSize(t *testing.T) {
	baseline := map[string]float64{"a": 0.65, "b": 0.35}
	observed := map[string]float64{"a": 0.82, "b": 0.18}

	statZero, _, _ := ChiSquareTest(baseline, observed, 0)
	statFallback, _, _ := ChiSquareTest(baseline, observed, chiSquareFallbackSampleSize)
	assert.InDelta(t, statFallback, statZero, 1e-9)
}

func TestCompareDistributionsEmitsPerCategory(t *testing.T) {
	e := testEngine()
	base := model.BehaviorDrift{
		AgentID:               "support-agent",
		AgentVersion:          "2.1.0",
		Environment:           model.EnvProduction,
		DetectedAt:            time.Now().UTC(),
		ObservationSampleSize: 50,
	}

	baseline := map[string]model.Distribution{
		"tool_selection": {"web_search": 0.65, "database": 0.35},
	}
	observed := map[string]model.Distribution{
		"tool_selection": {"web_search": 0.82, "database": 0.18},
	}

	drifts := e.compareDistributions(base, model.DriftTypeDecision,
		baseline, observed, e.thresholds.DecisionDrift, 50)

	require.Len(t, drifts, 2)
	byMetric := map[string]model.BehaviorDrift{}
	for _, d := range drifts {
		byMetric[d.Metric] = d
	}

	web := byMetric["tool_selection.web_search"]
	assert.Equal(t, model.DriftTypeDecision, web.DriftType)
	assert.Equal(t, model.TestMethodChiSquare, web.TestMethod)
	assert.InDelta(t, 0.65, web.BaselineValue, 1e-9)
	assert.InDelta(t, 0.82, web.ObservedValue, 1e-9)
	assert.InDelta(t, 26.15, web.DeltaPercent, 0.01)
	assert.Equal(t, model.SeverityMedium, web.Severity)
	assert.Less(t, web.Significance, 0.05)

	db := byMetric["tool_selection.database"]
	assert.InDelta(t, -48.57, db.DeltaPercent, 0.01)
	assert.Equal(t, model.SeverityHigh, db.Severity)
}

func TestCompareDistributionsInsignificantShift(t *testing.T) {
	e := testEngine()

	baseline := map[string]model.Distribution{
		"tool_selection": {"web_search": 0.65, "database": 0.35},
	}
	observed := map[string]model.Distribution{
		"tool_selection": {"web_search": 0.66, "database": 0.34},
	}

	drifts := e.compareDistributions(model.BehaviorDrift{}, model.DriftTypeDecision,
		baseline, observed, e.thresholds.DecisionDrift, 50)
	assert.Empty(t, drifts)
}

func TestCompareDistributionsNewCategoryZeroBaseline(t *testing.T) {
	e := testEngine()

	baseline := map[string]model.Distribution{
		"tool_selection": {"web_search": 1.0},
	}
	observed := map[string]model.Distribution{
		"tool_selection": {"web_search": 0.4, "database": 0.6},
	}

	drifts := e.compareDistributions(model.BehaviorDrift{}, model.DriftTypeDecision,
		baseline, observed, e.thresholds.DecisionDrift, 200)

	require.NotEmpty(t, drifts)
	var newCat *model.BehaviorDrift
	for i := range drifts {
		if drifts[i].Metric == "tool_selection.database" {
			newCat = &drifts[i]
		}
	}
	require.NotNil(t, newCat, "category absent from baseline should still be emitted")
	assert.Equal(t, 0.0, newCat.BaselineValue)
	assert.Equal(t, 0.6, newCat.ObservedValue)
	assert.Equal(t, 0.0, newCat.DeltaPercent)
}

func TestCompareLatency(t *testing.T) {
	e := testEngine()

	baseline := map[string]float64{
		"mean_run_duration_ms": 1000,
		"p50_run_duration_ms":  900,
		"p95_run_duration_ms":  2000,
		"p99_run_duration_ms":  3000,
	}
	observed := map[string]float64{
		"mean_run_duration_ms": 1250, // +25%
		"p50_run_duration_ms":  990,  // +10%, under threshold
		"p95_run_duration_ms":  2700, // +35%
		"p99_run_duration_ms":  3100, // +3.3%, under threshold
	}

	drifts := e.compareLatency(model.BehaviorDrift{}, baseline, observed)

	require.Len(t, drifts, 2)
	assert.Equal(t, "mean_run_duration_ms", drifts[0].Metric)
	assert.Equal(t, model.TestMethodPercentThreshold, drifts[0].TestMethod)
	assert.InDelta(t, 25.0, drifts[0].DeltaPercent, 1e-9)
	assert.Equal(t, model.SeverityMedium, drifts[0].Severity)
	assert.Equal(t, 1.0, drifts[0].Significance)

	assert.Equal(t, "p95_run_duration_ms", drifts[1].Metric)
	assert.InDelta(t, 35.0, drifts[1].DeltaPercent, 1e-9)
	assert.Equal(t, model.SeverityHigh, drifts[1].Severity)
}

func TestCompareLatencyZeroBaselineSkipped(t *testing.T) {
	e := testEngine()
	drifts := e.compareLatency(model.BehaviorDrift{},
		map[string]float64{"mean_run_duration_ms": 0},
		map[string]float64{"mean_run_duration_ms": 500},
	)
	assert.Empty(t, drifts)
}

func TestCompareLatencySignificanceStaysBounded(t *testing.T) {
	e := testEngine()

	// A delta above 100% must not push significance past 1.
	baseline := map[string]float64{}
	observed := map[string]float64{}
	for _, m := range model.LatencyMetrics {
		baseline[m] = 1000
		observed[m] = 2500
	}

	drifts := e.compareLatency(model.BehaviorDrift{}, baseline, observed)

	require.Len(t, drifts, 4)
	for _, d := range drifts {
		assert.InDelta(t, 150.0, d.DeltaPercent, 1e-9)
		assert.Equal(t, 1.0, d.Significance)
		assert.Equal(t, model.SeverityHigh, d.Severity)
	}
}

func TestSeverityBuckets(t *testing.T) {
	e := testEngine()

	assert.Equal(t, model.SeverityLow, e.severity(10))
	assert.Equal(t, model.SeverityLow, e.severity(-15))
	assert.Equal(t, model.SeverityMedium, e.severity(20))
	assert.Equal(t, model.SeverityMedium, e.severity(-30))
	assert.Equal(t, model.SeverityHigh, e.severity(31))
	assert.Equal(t, model.SeverityHigh, e.severity(-80))
}
