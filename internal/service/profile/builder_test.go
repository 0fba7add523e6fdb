package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	dist := Normalize(map[string]int{"web_search": 65, "database": 35})

	require.Len(t, dist, 2)
	assert.InDelta(t, 0.65, dist["web_search"], 1e-9)
	assert.InDelta(t, 0.35, dist["database"], 1e-9)

	sum := 0.0
	for _, p := range dist {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestNormalizeEmpty(t *testing.T) {
	assert.Empty(t, Normalize(nil))
	assert.Empty(t, Normalize(map[string]int{}))
}

func TestNormalizeAll(t *testing.T) {
	out := NormalizeAll(map[string]map[string]int{
		"tool_selection":     {"web_search": 3, "database": 1},
		"retrieval_strategy": {"semantic": 2},
	})

	assert.InDelta(t, 0.75, out["tool_selection"]["web_search"], 1e-9)
	assert.InDelta(t, 1.0, out["retrieval_strategy"]["semantic"], 1e-9)
}

func TestPercentileNearestRank(t *testing.T) {
	sorted := []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}

	assert.Equal(t, 60.0, Percentile(sorted, 0.50))
	assert.Equal(t, 100.0, Percentile(sorted, 0.95))
	assert.Equal(t, 100.0, Percentile(sorted, 0.99))
	assert.Equal(t, 10.0, Percentile(sorted, 0.0))
}

func TestPercentileSingleElement(t *testing.T) {
	assert.Equal(t, 42.0, Percentile([]float64{42}, 0.50))
	assert.Equal(t, 42.0, Percentile([]float64{42}, 0.99))
}

func TestPercentileEmpty(t *testing.T) {
	assert.Equal(t, 0.0, Percentile(nil, 0.95))
}

func TestLatencyStats(t *testing.T) {
	sorted := []float64{100, 200, 300, 400}
	stats := LatencyStats(sorted)

	assert.InDelta(t, 250.0, stats["mean_run_duration_ms"], 1e-9)
	assert.Equal(t, 300.0, stats["p50_run_duration_ms"])
	assert.Equal(t, 400.0, stats["p95_run_duration_ms"])
	assert.Equal(t, 400.0, stats["p99_run_duration_ms"])
}

func TestLatencyStatsEmpty(t *testing.T) {
	stats := LatencyStats(nil)
	assert.Equal(t, 0.0, stats["mean_run_duration_ms"])
	assert.Equal(t, 0.0, stats["p99_run_duration_ms"])
}
