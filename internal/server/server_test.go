package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentsight-io/agentsight/internal/config"
	"github.com/agentsight-io/agentsight/internal/model"
	"github.com/agentsight-io/agentsight/internal/server"
	"github.com/agentsight-io/agentsight/internal/service/alert"
	"github.com/agentsight-io/agentsight/internal/service/baseline"
	"github.com/agentsight-io/agentsight/internal/service/drift"
	"github.com/agentsight-io/agentsight/internal/service/ingest"
	"github.com/agentsight-io/agentsight/internal/service/profile"
	"github.com/agentsight-io/agentsight/internal/storage"
	"github.com/agentsight-io/agentsight/internal/testutil"
)

var (
	testDB  *storage.DB
	testSrv *httptest.Server
)

func TestMain(m *testing.M) {
	if os.Getenv("SKIP_INTEGRATION") != "" {
		os.Exit(0)
	}
	tc := testutil.MustStartPostgres()

	logger := testutil.TestLogger()
	var err error
	testDB, err = tc.NewTestDB(context.Background(), logger)
	if err != nil {
		tc.Terminate()
		panic(err)
	}

	thresholds := config.DefaultDriftThresholds()
	emitter := alert.NewEmitter(testDB, alert.Config{}, logger)
	srv := server.New(server.ServerConfig{
		DB:             testDB,
		IngestSvc:      ingest.New(testDB, logger),
		ProfileBuilder: profile.NewBuilder(testDB, thresholds.MinSamples.Profile, logger),
		BaselineMgr:    baseline.NewManager(testDB, logger),
		DriftEngine:    drift.NewEngine(testDB, thresholds, emitter, logger),
		Logger:         logger,
		Version:        "test",
	})
	testSrv = httptest.NewServer(srv.Handler())

	code := m.Run()
	testSrv.Close()
	testDB.Close()
	tc.Terminate()
	os.Exit(code)
}

func doJSON(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, testSrv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := testSrv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out.Bytes()
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), "body: %s", data)
	return v
}

// newRun builds a single-step run whose only decision is a tool
// selection. Duration controls ended_at - started_at.
func newRun(agentID, version, selected string, started time.Time, duration time.Duration) model.RunSubmission {
	ended := started.Add(duration)
	stepID := uuid.New()
	return model.RunSubmission{
		RunID:        uuid.New(),
		AgentID:      agentID,
		AgentVersion: version,
		Environment:  model.EnvProduction,
		Status:       model.RunStatusSuccess,
		StartedAt:    started,
		EndedAt:      &ended,
		Steps: []model.StepInput{
			{
				StepID:    stepID,
				Seq:       0,
				StepType:  model.StepTypeTool,
				Name:      selected,
				LatencyMS: int(duration.Milliseconds()),
				StartedAt: started,
				EndedAt:   ended,
				Metadata:  map[string]any{"tool_name": selected},
			},
		},
		Decisions: []model.DecisionInput{
			{
				DecisionID:   uuid.New(),
				StepID:       &stepID,
				DecisionType: model.DecisionToolSelection,
				Selected:     selected,
				ReasonCode:   "fresh_data_required",
			},
		},
	}
}

func ingestRun(t *testing.T, sub model.RunSubmission) {
	t.Helper()
	status, body := doJSON(t, http.MethodPost, "/v1/runs", sub)
	require.Equal(t, http.StatusCreated, status, "body: %s", body)
}

func TestHealth(t *testing.T) {
	status, body := doJSON(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, status)
	health := decode[model.HealthResponse](t, body)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "agentsight", health.Service)
}

func TestIngestAndIdempotentReplay(t *testing.T) {
	sub := newRun("replay-agent", "1.0.0", "web_search", time.Now().UTC().Add(-time.Hour), time.Second)

	status, body := doJSON(t, http.MethodPost, "/v1/runs", sub)
	require.Equal(t, http.StatusCreated, status, "body: %s", body)
	first := decode[model.RunView](t, body)
	assert.Equal(t, sub.RunID, first.RunID)
	require.Len(t, first.Steps, 1)

	// Replay with a mutated payload: the stored tree wins, 200 not 201.
	replay := sub
	replay.AgentVersion = "2.0.0"
	status, body = doJSON(t, http.MethodPost, "/v1/runs", replay)
	require.Equal(t, http.StatusOK, status, "body: %s", body)
	second := decode[model.RunView](t, body)
	assert.Equal(t, "1.0.0", second.AgentVersion)
	assert.Equal(t, first.RunID, second.RunID)
}

func TestIngestRejections(t *testing.T) {
	t.Run("blocked metadata key", func(t *testing.T) {
		sub := newRun("reject-agent", "1.0.0", "web_search", time.Now().UTC(), time.Second)
		sub.Steps[0].Metadata = map[string]any{"prompt": "what is the weather"}
		status, body := doJSON(t, http.MethodPost, "/v1/runs", sub)
		require.Equal(t, http.StatusBadRequest, status)
		detail := decode[model.ErrorResponse](t, body)
		assert.Contains(t, detail.Detail, "blocked")
	})

	t.Run("sensitive failure message", func(t *testing.T) {
		sub := newRun("reject-agent", "1.0.0", "web_search", time.Now().UTC(), time.Second)
		sub.Status = model.RunStatusFailure
		sub.Failure = &model.FailureInput{
			FailureType: model.FailureTypeTool,
			FailureCode: "auth_error",
			Message:     "rejected: bad api_key",
		}
		status, _ := doJSON(t, http.MethodPost, "/v1/runs", sub)
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("failure status without failure object", func(t *testing.T) {
		sub := newRun("reject-agent", "1.0.0", "web_search", time.Now().UTC(), time.Second)
		sub.Status = model.RunStatusFailure
		status, body := doJSON(t, http.MethodPost, "/v1/runs", sub)
		require.Equal(t, http.StatusBadRequest, status)
		detail := decode[model.ErrorResponse](t, body)
		assert.Contains(t, detail.Detail, "failure")
	})

	t.Run("unknown field", func(t *testing.T) {
		status, _ := doJSON(t, http.MethodPost, "/v1/runs", map[string]any{"run_identifier": "x"})
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("malformed json", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, testSrv.URL+"/v1/runs", bytes.NewBufferString("{"))
		require.NoError(t, err)
		resp, err := testSrv.Client().Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestQueryEndpoints(t *testing.T) {
	started := time.Now().UTC().Add(-6 * time.Hour)
	var runIDs []uuid.UUID
	for i := 0; i < 3; i++ {
		sub := newRun("query-agent", "1.0.0", "web_search", started.Add(time.Duration(i)*time.Minute), time.Second)
		ingestRun(t, sub)
		runIDs = append(runIDs, sub.RunID)
	}
	failed := newRun("query-agent", "1.0.0", "database", started.Add(10*time.Minute), time.Second)
	failed.Status = model.RunStatusFailure
	failed.Failure = &model.FailureInput{
		FailureType: model.FailureTypeTool,
		FailureCode: "tool_timeout",
		Message:     "tool exceeded 30s deadline",
	}
	ingestRun(t, failed)

	t.Run("list with filters and pagination", func(t *testing.T) {
		status, body := doJSON(t, http.MethodGet, "/v1/runs?agent_id=query-agent&page_size=2", nil)
		require.Equal(t, http.StatusOK, status)
		var envelope struct {
			Runs     []model.RunView `json:"runs"`
			Total    int             `json:"total"`
			Page     int             `json:"page"`
			PageSize int             `json:"page_size"`
		}
		require.NoError(t, json.Unmarshal(body, &envelope))
		assert.Equal(t, 4, envelope.Total)
		assert.Len(t, envelope.Runs, 2)
		assert.Equal(t, 1, envelope.Page)
		assert.Equal(t, 2, envelope.PageSize)
	})

	t.Run("list with status filter", func(t *testing.T) {
		status, body := doJSON(t, http.MethodGet, "/v1/runs?agent_id=query-agent&status=failure", nil)
		require.Equal(t, http.StatusOK, status)
		var envelope struct {
			Total int `json:"total"`
		}
		require.NoError(t, json.Unmarshal(body, &envelope))
		assert.Equal(t, 1, envelope.Total)
	})

	t.Run("invalid status filter", func(t *testing.T) {
		status, _ := doJSON(t, http.MethodGet, "/v1/runs?status=running", nil)
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("page size out of range", func(t *testing.T) {
		status, _ := doJSON(t, http.MethodGet, "/v1/runs?page_size=500", nil)
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("get run", func(t *testing.T) {
		status, body := doJSON(t, http.MethodGet, "/v1/runs/"+runIDs[0].String(), nil)
		require.Equal(t, http.StatusOK, status)
		view := decode[model.RunView](t, body)
		assert.Equal(t, runIDs[0], view.RunID)
		assert.Len(t, view.Steps, 1)
	})

	t.Run("get run steps", func(t *testing.T) {
		status, body := doJSON(t, http.MethodGet, "/v1/runs/"+runIDs[0].String()+"/steps", nil)
		require.Equal(t, http.StatusOK, status)
		envelope := decode[struct {
			RunID uuid.UUID    `json:"run_id"`
			Steps []model.Step `json:"steps"`
		}](t, body)
		assert.Equal(t, runIDs[0], envelope.RunID)
		require.Len(t, envelope.Steps, 1)
		assert.Equal(t, "web_search", envelope.Steps[0].Name)
	})

	t.Run("get run failures", func(t *testing.T) {
		status, body := doJSON(t, http.MethodGet, "/v1/runs/"+failed.RunID.String()+"/failures", nil)
		require.Equal(t, http.StatusOK, status)
		envelope := decode[struct {
			RunID    uuid.UUID       `json:"run_id"`
			Failures []model.Failure `json:"failures"`
		}](t, body)
		assert.Equal(t, failed.RunID, envelope.RunID)
		require.Len(t, envelope.Failures, 1)
		assert.Equal(t, "tool_timeout", envelope.Failures[0].FailureCode)
	})

	t.Run("unknown run is 404", func(t *testing.T) {
		status, body := doJSON(t, http.MethodGet, "/v1/runs/"+uuid.NewString(), nil)
		require.Equal(t, http.StatusNotFound, status)
		detail := decode[model.ErrorResponse](t, body)
		assert.NotEmpty(t, detail.Detail)
	})

	t.Run("invalid uuid is 400", func(t *testing.T) {
		status, _ := doJSON(t, http.MethodGet, "/v1/runs/not-a-uuid", nil)
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("stats", func(t *testing.T) {
		status, body := doJSON(t, http.MethodGet, "/v1/stats?agent_id=query-agent", nil)
		require.Equal(t, http.StatusOK, status)
		stats := decode[model.StatsResponse](t, body)
		assert.Equal(t, 4, stats.TotalRuns)
		assert.Equal(t, 1, stats.TotalFailures)
		assert.InDelta(t, 75.0, stats.SuccessRate, 1e-9)
		assert.Equal(t, 1, stats.FailureBreakdown["tool/tool_timeout"])
		// Every seeded step ran for 1000ms.
		assert.InDelta(t, 1000.0, stats.AvgLatencyMS, 1e-6)
	})
}

// TestBehaviorDriftEndToEnd walks the whole phase3 lifecycle: two run
// windows with different decision mixes and latencies, profile build,
// baseline approval and activation, drift detection, resolution,
// summary and timeline.
func TestBehaviorDriftEndToEnd(t *testing.T) {
	const (
		agentID = "drift-e2e-agent"
		version = "1.0.0"
	)
	w1Start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	w1End := w1Start.Add(24 * time.Hour)
	w2Start := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)
	w2End := w2Start.Add(24 * time.Hour)

	// Window 1: 20 runs, 13 web_search / 7 database, 1s each.
	for i := 0; i < 20; i++ {
		selected := "web_search"
		if i >= 13 {
			selected = "database"
		}
		ingestRun(t, newRun(agentID, version, selected, w1Start.Add(time.Duration(i)*time.Minute), time.Second))
	}
	// Window 2: 20 runs, 19 web_search / 1 database, 2s each.
	for i := 0; i < 20; i++ {
		selected := "web_search"
		if i >= 19 {
			selected = "database"
		}
		ingestRun(t, newRun(agentID, version, selected, w2Start.Add(time.Duration(i)*time.Minute), 2*time.Second))
	}

	profileReq := model.BuildProfileRequest{
		AgentID:      agentID,
		AgentVersion: version,
		Environment:  model.EnvProduction,
		WindowStart:  w1Start,
		WindowEnd:    w1End,
	}

	// Default minimum sample size is well above 20 runs.
	status, body := doJSON(t, http.MethodPost, "/v1/phase3/profiles", profileReq)
	require.Equal(t, http.StatusUnprocessableEntity, status, "body: %s", body)

	minSamples := 10
	profileReq.MinSampleSize = &minSamples
	status, body = doJSON(t, http.MethodPost, "/v1/phase3/profiles", profileReq)
	require.Equal(t, http.StatusCreated, status, "body: %s", body)
	prof := decode[model.BehaviorProfile](t, body)
	assert.Equal(t, 20, prof.SampleSize)
	require.Contains(t, prof.DecisionDistributions, "tool_selection")
	assert.InDelta(t, 0.65, prof.DecisionDistributions["tool_selection"]["web_search"], 1e-9)
	assert.InDelta(t, 0.35, prof.DecisionDistributions["tool_selection"]["database"], 1e-9)
	assert.InDelta(t, 1000, prof.LatencyStats["mean_run_duration_ms"], 1.0)

	status, body = doJSON(t, http.MethodGet, "/v1/phase3/profiles/"+prof.ProfileID.String(), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, prof.ProfileID, decode[model.BehaviorProfile](t, body).ProfileID)

	// Promote to baseline, approve once, activate.
	status, body = doJSON(t, http.MethodPost, "/v1/phase3/baselines", model.CreateBaselineRequest{
		ProfileID:    prof.ProfileID,
		BaselineType: model.BaselineTypeVersion,
	})
	require.Equal(t, http.StatusCreated, status, "body: %s", body)
	baseline := decode[model.BehaviorBaseline](t, body)
	assert.False(t, baseline.IsActive)
	assert.Nil(t, baseline.ApprovedBy)

	status, body = doJSON(t, http.MethodPost,
		fmt.Sprintf("/v1/phase3/baselines/%s/approve", baseline.BaselineID),
		model.ApproveBaselineRequest{ApprovedBy: "alex"})
	require.Equal(t, http.StatusOK, status, "body: %s", body)
	approved := decode[model.BehaviorBaseline](t, body)
	require.NotNil(t, approved.ApprovedBy)
	assert.Equal(t, "alex", *approved.ApprovedBy)

	// Approval is write-once.
	status, _ = doJSON(t, http.MethodPost,
		fmt.Sprintf("/v1/phase3/baselines/%s/approve", baseline.BaselineID),
		model.ApproveBaselineRequest{ApprovedBy: "sam"})
	assert.Equal(t, http.StatusConflict, status)

	status, body = doJSON(t, http.MethodPost,
		fmt.Sprintf("/v1/phase3/baselines/%s/activate", baseline.BaselineID), nil)
	require.Equal(t, http.StatusOK, status, "body: %s", body)
	assert.True(t, decode[model.BehaviorBaseline](t, body).IsActive)

	// Detect drift over window 2, resolving the active baseline from the
	// agent triple.
	status, body = doJSON(t, http.MethodPost, "/v1/phase3/drift/detect", model.DetectDriftRequest{
		AgentID:       agentID,
		AgentVersion:  version,
		Environment:   model.EnvProduction,
		WindowStart:   w2Start,
		WindowEnd:     w2End,
		MinSampleSize: &minSamples,
	})
	require.Equal(t, http.StatusOK, status, "body: %s", body)
	var detected struct {
		DriftEvents []model.BehaviorDrift `json:"drift_events"`
		Count       int                   `json:"count"`
	}
	require.NoError(t, json.Unmarshal(body, &detected))
	require.NotEmpty(t, detected.DriftEvents)
	assert.Equal(t, len(detected.DriftEvents), detected.Count)

	byMetric := map[string]model.BehaviorDrift{}
	for _, d := range detected.DriftEvents {
		byMetric[d.Metric] = d
	}

	// 13/7 -> 19/1 at n=20 is significant at p<0.05.
	webSearch, ok := byMetric["tool_selection.web_search"]
	require.True(t, ok, "expected web_search decision drift, got %v", byMetric)
	assert.Equal(t, model.DriftTypeDecision, webSearch.DriftType)
	assert.Equal(t, model.TestMethodChiSquare, webSearch.TestMethod)
	assert.InDelta(t, 0.65, webSearch.BaselineValue, 1e-9)
	assert.InDelta(t, 0.95, webSearch.ObservedValue, 1e-9)
	assert.InDelta(t, 46.15, webSearch.DeltaPercent, 0.1)
	assert.Equal(t, model.SeverityHigh, webSearch.Severity)
	assert.Less(t, webSearch.Significance, 0.05)
	assert.Equal(t, 20, webSearch.ObservationSampleSize)

	// 1s -> 2s doubles every latency metric.
	meanDrift, ok := byMetric["mean_run_duration_ms"]
	require.True(t, ok, "expected mean latency drift, got %v", byMetric)
	assert.Equal(t, model.DriftTypeLatency, meanDrift.DriftType)
	assert.Equal(t, model.TestMethodPercentThreshold, meanDrift.TestMethod)
	assert.InDelta(t, 100, meanDrift.DeltaPercent, 1.0)
	assert.Equal(t, model.SeverityHigh, meanDrift.Severity)

	// List, resolve once, 409 on the second resolve.
	status, body = doJSON(t, http.MethodGet, "/v1/phase3/drift?agent_id="+agentID+"&resolved=false", nil)
	require.Equal(t, http.StatusOK, status)
	var listed struct {
		DriftEvents []model.BehaviorDrift `json:"drift_events"`
		Total       int                   `json:"total"`
	}
	require.NoError(t, json.Unmarshal(body, &listed))
	assert.Equal(t, detected.Count, listed.Total)

	target := detected.DriftEvents[0]
	status, body = doJSON(t, http.MethodPost,
		fmt.Sprintf("/v1/phase3/drift/%s/resolve", target.DriftID), nil)
	require.Equal(t, http.StatusOK, status, "body: %s", body)
	assert.NotNil(t, decode[model.BehaviorDrift](t, body).ResolvedAt)

	status, _ = doJSON(t, http.MethodPost,
		fmt.Sprintf("/v1/phase3/drift/%s/resolve", target.DriftID), nil)
	assert.Equal(t, http.StatusConflict, status)

	t.Run("summary", func(t *testing.T) {
		status, body := doJSON(t, http.MethodGet, "/v1/phase3/drift/summary?agent_id="+agentID+"&days=7", nil)
		require.Equal(t, http.StatusOK, status)
		summary := decode[model.DriftSummary](t, body)
		assert.Equal(t, detected.Count, summary.TotalDriftEvents)
		assert.Equal(t, detected.Count-1, summary.UnresolvedDriftEvents)
		assert.GreaterOrEqual(t, summary.DriftBySeverity[model.SeverityHigh], 1)
		assert.Equal(t, 1, summary.AgentsWithDrift)
	})

	t.Run("timeline", func(t *testing.T) {
		// Default window: the last 7 days, which covers detected_at.
		path := fmt.Sprintf(
			"/v1/phase3/drift/timeline?agent_id=%s&agent_version=%s&environment=production",
			agentID, version,
		)
		status, body := doJSON(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, status, "body: %s", body)
		timeline := decode[model.DriftTimelineResponse](t, body)
		assert.Equal(t, agentID, timeline.AgentID)
		require.NotEmpty(t, timeline.Timeline)
		assert.True(t, timeline.Timeline[0].DriftDetected)
		assert.NotNil(t, timeline.Timeline[0].DriftID)
	})

	t.Run("timeline days out of range", func(t *testing.T) {
		path := fmt.Sprintf(
			"/v1/phase3/drift/timeline?agent_id=%s&agent_version=%s&days=400", agentID, version)
		status, _ := doJSON(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("unknown baseline is 404", func(t *testing.T) {
		status, _ := doJSON(t, http.MethodGet, "/v1/phase3/baselines/"+uuid.NewString(), nil)
		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("deactivate", func(t *testing.T) {
		status, body := doJSON(t, http.MethodPost,
			fmt.Sprintf("/v1/phase3/baselines/%s/deactivate", baseline.BaselineID), nil)
		require.Equal(t, http.StatusOK, status, "body: %s", body)
		assert.False(t, decode[model.BehaviorBaseline](t, body).IsActive)
	})
}

func TestDetectDriftValidation(t *testing.T) {
	now := time.Now().UTC()

	t.Run("missing agent triple", func(t *testing.T) {
		status, _ := doJSON(t, http.MethodPost, "/v1/phase3/drift/detect", model.DetectDriftRequest{
			WindowStart: now.Add(-time.Hour),
			WindowEnd:   now,
		})
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("inverted window", func(t *testing.T) {
		status, _ := doJSON(t, http.MethodPost, "/v1/phase3/drift/detect", model.DetectDriftRequest{
			AgentID:      "x",
			AgentVersion: "1",
			Environment:  model.EnvProduction,
			WindowStart:  now,
			WindowEnd:    now.Add(-time.Hour),
		})
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("no active baseline is 404", func(t *testing.T) {
		status, _ := doJSON(t, http.MethodPost, "/v1/phase3/drift/detect", model.DetectDriftRequest{
			AgentID:      "no-baseline-agent",
			AgentVersion: "1.0.0",
			Environment:  model.EnvProduction,
			WindowStart:  now.Add(-time.Hour),
			WindowEnd:    now,
		})
		assert.Equal(t, http.StatusNotFound, status)
	})
}

func TestBuildProfileValidation(t *testing.T) {
	now := time.Now().UTC()

	t.Run("bad environment", func(t *testing.T) {
		status, _ := doJSON(t, http.MethodPost, "/v1/phase3/profiles", map[string]any{
			"agent_id":      "x",
			"agent_version": "1",
			"environment":   "qa",
			"window_start":  now.Add(-time.Hour),
			"window_end":    now,
		})
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("non-positive min sample size", func(t *testing.T) {
		zero := 0
		status, _ := doJSON(t, http.MethodPost, "/v1/phase3/profiles", model.BuildProfileRequest{
			AgentID:       "x",
			AgentVersion:  "1",
			Environment:   model.EnvProduction,
			WindowStart:   now.Add(-time.Hour),
			WindowEnd:     now,
			MinSampleSize: &zero,
		})
		assert.Equal(t, http.StatusBadRequest, status)
	})
}
