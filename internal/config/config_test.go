package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 10, cfg.PoolMaxConns)
	assert.Equal(t, "agentsight", cfg.ServiceName)
	assert.True(t, cfg.AlertDatabaseEnabled)
	assert.Equal(t, int64(1*1024*1024), cfg.MaxRequestBodyBytes)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("AGENTSIGHT_PORT", "9090")
	t.Setenv("AGENTSIGHT_READ_TIMEOUT", "5s")
	t.Setenv("AGENTSIGHT_ALERT_DATABASE", "false")
	t.Setenv("AGENTSIGHT_READ_DATABASE_URL", "postgres://replica/agentsight")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.ReadTimeout)
	assert.False(t, cfg.AlertDatabaseEnabled)
	assert.Equal(t, "postgres://replica/agentsight", cfg.ReadDatabaseURL)
}

func TestValidateRejectsBadPool(t *testing.T) {
	cfg := Config{DatabaseURL: "postgres://x", PoolMaxConns: 0, MaxRequestBodyBytes: 1}
	assert.Error(t, cfg.Validate())
}

func TestDefaultDriftThresholds(t *testing.T) {
	th := DefaultDriftThresholds()

	assert.Equal(t, 0.05, th.DecisionDrift.PValueThreshold)
	assert.Equal(t, 10.0, th.DecisionDrift.MinDeltaPercent)
	assert.Equal(t, 15.0, th.SignalDrift.MinDeltaPercent)
	assert.Equal(t, 20.0, th.LatencyDrift.MinDeltaPercent)
	assert.Equal(t, 15.0, th.Severity.Low.MaxDeltaPercent)
	assert.Equal(t, 30.0, th.Severity.Medium.MaxDeltaPercent)
	assert.Equal(t, 100, th.MinSamples.Profile)
	assert.Equal(t, 50, th.MinSamples.DriftDetection)
	require.NoError(t, th.Validate())
}

func TestLoadDriftThresholdsMergesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	doc := []byte("decision_drift:\n  min_delta_percent: 25.0\nminimum_sample_sizes:\n  profile: 10\n")
	require.NoError(t, os.WriteFile(path, doc, 0o600))

	th, err := LoadDriftThresholds(path)
	require.NoError(t, err)

	assert.Equal(t, 25.0, th.DecisionDrift.MinDeltaPercent)
	assert.Equal(t, 10, th.MinSamples.Profile)
	// Untouched keys keep defaults.
	assert.Equal(t, 0.05, th.DecisionDrift.PValueThreshold)
	assert.Equal(t, 50, th.MinSamples.DriftDetection)
}

func TestLoadDriftThresholdsEmptyPath(t *testing.T) {
	th, err := LoadDriftThresholds("")
	require.NoError(t, err)
	assert.Equal(t, DefaultDriftThresholds(), th)
}

func TestLoadDriftThresholdsRejectsBadPValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	doc := []byte("decision_drift:\n  p_value_threshold: 1.5\n")
	require.NoError(t, os.WriteFile(path, doc, 0o600))

	_, err := LoadDriftThresholds(path)
	assert.Error(t, err)
}
