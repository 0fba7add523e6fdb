package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"github.com/agentsight-io/agentsight/internal/model"
)

// InsertRunTree writes a full run tree (run, steps, failure, decisions,
// quality signals) in a single transaction. run_id is the idempotency
// key: if a run with the same ID already exists, nothing is written and
// created is false; the caller re-reads the stored tree.
func (db *DB) InsertRunTree(ctx context.Context, sub model.RunSubmission) (created bool, err error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	env := sub.Environment
	if env == "" {
		env = model.EnvProduction
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO agent_runs (run_id, agent_id, agent_version, environment, status, started_at, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (run_id) DO NOTHING`,
		sub.RunID, sub.AgentID, sub.AgentVersion, string(env), string(sub.Status),
		sub.StartedAt, sub.EndedAt,
	)
	if err != nil {
		return false, fmt.Errorf("storage: insert run: %w", mapPgError(err))
	}
	if tag.RowsAffected() == 0 {
		// Replay: the run exists, leave it untouched.
		return false, nil
	}

	for _, s := range sub.Steps {
		metadata := s.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO agent_steps (step_id, run_id, seq, step_type, name, latency_ms, started_at, ended_at, metadata)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			s.StepID, sub.RunID, s.Seq, string(s.StepType), s.Name, s.LatencyMS,
			s.StartedAt, s.EndedAt, metadata,
		)
		if err != nil {
			return false, fmt.Errorf("storage: insert step %s: %w", s.StepID, mapPgError(err))
		}
	}

	if sub.Failure != nil {
		f := sub.Failure
		_, err := tx.Exec(ctx,
			`INSERT INTO agent_failures (failure_id, run_id, step_id, failure_type, failure_code, message)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.New(), sub.RunID, f.StepID, string(f.FailureType), f.FailureCode, f.Message,
		)
		if err != nil {
			return false, fmt.Errorf("storage: insert failure: %w", mapPgError(err))
		}
	}

	for _, d := range sub.Decisions {
		metadata := d.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		candidates := d.Candidates
		if candidates == nil {
			candidates = []string{}
		}
		recordedAt := time.Now().UTC()
		if d.RecordedAt != nil {
			recordedAt = *d.RecordedAt
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO agent_decisions (decision_id, run_id, step_id, decision_type, selected,
			 reason_code, confidence, candidates, metadata, recorded_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			d.DecisionID, sub.RunID, d.StepID, string(d.DecisionType), d.Selected,
			d.ReasonCode, d.Confidence, candidates, metadata, recordedAt,
		)
		if err != nil {
			return false, fmt.Errorf("storage: insert decision %s: %w", d.DecisionID, mapPgError(err))
		}
	}

	for _, s := range sub.QualitySignals {
		metadata := s.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		recordedAt := time.Now().UTC()
		if s.RecordedAt != nil {
			recordedAt = *s.RecordedAt
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO agent_quality_signals (signal_id, run_id, step_id, signal_type, signal_code,
			 value, weight, metadata, recorded_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			s.SignalID, sub.RunID, s.StepID, string(s.SignalType), s.SignalCode,
			s.Value, s.Weight, metadata, recordedAt,
		)
		if err != nil {
			return false, fmt.Errorf("storage: insert signal %s: %w", s.SignalID, mapPgError(err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("storage: commit run tree: %w", err)
	}
	return true, nil
}

// GetRunTree retrieves a run with all its children, preferring the
// read replica when one is configured.
func (db *DB) GetRunTree(ctx context.Context, runID uuid.UUID) (model.RunView, error) {
	return db.getRunTree(ctx, db.reader(), runID)
}

// GetRunTreePrimary retrieves a run with all its children from the
// primary pool. Ingestion reads back through here so a freshly
// committed tree is visible regardless of replica lag.
func (db *DB) GetRunTreePrimary(ctx context.Context, runID uuid.UUID) (model.RunView, error) {
	return db.getRunTree(ctx, db.pool, runID)
}

func (db *DB) getRunTree(ctx context.Context, q querier, runID uuid.UUID) (model.RunView, error) {
	var run model.Run
	err := q.QueryRow(ctx,
		`SELECT run_id, agent_id, agent_version, environment, status, started_at, ended_at, created_at
		 FROM agent_runs WHERE run_id = $1`, runID,
	).Scan(
		&run.RunID, &run.AgentID, &run.AgentVersion, &run.Environment,
		&run.Status, &run.StartedAt, &run.EndedAt, &run.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.RunView{}, fmt.Errorf("storage: get run %s: %w", runID, ErrNotFound)
		}
		return model.RunView{}, fmt.Errorf("storage: get run: %w", err)
	}

	children, err := db.fetchChildren(ctx, q, []uuid.UUID{runID})
	if err != nil {
		return model.RunView{}, err
	}

	view := model.RunView{Run: run}
	if c, ok := children[runID]; ok {
		view.Steps = c.steps
		view.Failures = c.failures
		view.Decisions = c.decisions
		view.QualitySignals = c.signals
	}
	if view.Steps == nil {
		view.Steps = []model.Step{}
	}
	if view.Failures == nil {
		view.Failures = []model.Failure{}
	}
	return view, nil
}

// ListRuns returns runs matching the filters, newest first, with all
// children attached, plus the total match count.
func (db *DB) ListRuns(ctx context.Context, filters model.RunFilters, page, pageSize int) ([]model.RunView, int, error) {
	where, args := buildRunWhereOn(filters, "")

	var total int
	if err := db.reader().QueryRow(ctx, `SELECT COUNT(*) FROM agent_runs`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count runs: %w", err)
	}

	offset := (page - 1) * pageSize
	args = append(args, pageSize, offset)
	query := fmt.Sprintf(
		`SELECT run_id, agent_id, agent_version, environment, status, started_at, ended_at, created_at
		 FROM agent_runs%s ORDER BY started_at DESC LIMIT $%d OFFSET $%d`,
		where, len(args)-1, len(args),
	)

	rows, err := db.reader().Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list runs: %w", err)
	}
	defer rows.Close()

	var runs []model.Run
	var runIDs []uuid.UUID
	for rows.Next() {
		var r model.Run
		if err := rows.Scan(
			&r.RunID, &r.AgentID, &r.AgentVersion, &r.Environment,
			&r.Status, &r.StartedAt, &r.EndedAt, &r.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("storage: scan run: %w", err)
		}
		runs = append(runs, r)
		runIDs = append(runIDs, r.RunID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("storage: list runs: %w", err)
	}

	children, err := db.fetchChildren(ctx, db.reader(), runIDs)
	if err != nil {
		return nil, 0, err
	}

	views := make([]model.RunView, 0, len(runs))
	for _, r := range runs {
		view := model.RunView{Run: r, Steps: []model.Step{}, Failures: []model.Failure{}}
		if c, ok := children[r.RunID]; ok {
			if c.steps != nil {
				view.Steps = c.steps
			}
			if c.failures != nil {
				view.Failures = c.failures
			}
			view.Decisions = c.decisions
			view.QualitySignals = c.signals
		}
		views = append(views, view)
	}
	return views, total, nil
}

// RunExists reports whether a run is stored.
func (db *DB) RunExists(ctx context.Context, runID uuid.UUID) (bool, error) {
	var exists bool
	err := db.reader().QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM agent_runs WHERE run_id = $1)`, runID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("storage: run exists: %w", err)
	}
	return exists, nil
}

// GetSteps returns the steps of a run in sequence order. ErrNotFound if
// the run itself is absent.
func (db *DB) GetSteps(ctx context.Context, runID uuid.UUID) ([]model.Step, error) {
	exists, err := db.RunExists(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("storage: get steps for run %s: %w", runID, ErrNotFound)
	}

	children, err := db.fetchChildren(ctx, db.reader(), []uuid.UUID{runID})
	if err != nil {
		return nil, err
	}
	steps := children[runID].steps
	if steps == nil {
		steps = []model.Step{}
	}
	return steps, nil
}

// GetFailures returns the failure records of a run. ErrNotFound if the
// run itself is absent.
func (db *DB) GetFailures(ctx context.Context, runID uuid.UUID) ([]model.Failure, error) {
	exists, err := db.RunExists(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("storage: get failures for run %s: %w", runID, ErrNotFound)
	}

	children, err := db.fetchChildren(ctx, db.reader(), []uuid.UUID{runID})
	if err != nil {
		return nil, err
	}
	failures := children[runID].failures
	if failures == nil {
		failures = []model.Failure{}
	}
	return failures, nil
}

// Stats computes the aggregate counters over runs matching the filters.
// The component queries run concurrently.
func (db *DB) Stats(ctx context.Context, filters model.RunFilters) (model.StatsResponse, error) {
	where, args := buildRunWhereOn(filters, "r.")

	stats := model.StatsResponse{
		FailureBreakdown:  map[string]int{},
		StepTypeBreakdown: map[model.StepType]int{},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return db.reader().QueryRow(gctx,
			`SELECT COUNT(*), COUNT(*) FILTER (WHERE r.status = 'failure') FROM agent_runs r`+where, args...,
		).Scan(&stats.TotalRuns, &stats.TotalFailures)
	})

	g.Go(func() error {
		return db.reader().QueryRow(gctx,
			`SELECT COALESCE(AVG(s.latency_ms), 0) FROM agent_steps s
			 JOIN agent_runs r ON r.run_id = s.run_id`+where, args...,
		).Scan(&stats.AvgLatencyMS)
	})

	g.Go(func() error {
		rows, err := db.reader().Query(gctx,
			`SELECT f.failure_type || '/' || f.failure_code, COUNT(*) FROM agent_failures f
			 JOIN agent_runs r ON r.run_id = f.run_id`+where+`
			 GROUP BY f.failure_type, f.failure_code`, args...,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var key string
			var n int
			if err := rows.Scan(&key, &n); err != nil {
				return err
			}
			stats.FailureBreakdown[key] = n
		}
		return rows.Err()
	})

	g.Go(func() error {
		rows, err := db.reader().Query(gctx,
			`SELECT s.step_type, COUNT(*) FROM agent_steps s
			 JOIN agent_runs r ON r.run_id = s.run_id`+where+`
			 GROUP BY s.step_type`, args...,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var st model.StepType
			var n int
			if err := rows.Scan(&st, &n); err != nil {
				return err
			}
			stats.StepTypeBreakdown[st] = n
		}
		return rows.Err()
	})

	if err := g.Wait(); err != nil {
		return model.StatsResponse{}, fmt.Errorf("storage: stats: %w", err)
	}

	if stats.TotalRuns > 0 {
		stats.SuccessRate = float64(stats.TotalRuns-stats.TotalFailures) / float64(stats.TotalRuns) * 100
	}
	return stats, nil
}

type runChildren struct {
	steps     []model.Step
	failures  []model.Failure
	decisions []model.Decision
	signals   []model.QualitySignal
}

// fetchChildren loads steps, failures, decisions and signals for a batch
// of runs in four queries against q, grouped by run_id.
func (db *DB) fetchChildren(ctx context.Context, q querier, runIDs []uuid.UUID) (map[uuid.UUID]*runChildren, error) {
	out := make(map[uuid.UUID]*runChildren, len(runIDs))
	if len(runIDs) == 0 {
		return out, nil
	}
	get := func(id uuid.UUID) *runChildren {
		if c, ok := out[id]; ok {
			return c
		}
		c := &runChildren{}
		out[id] = c
		return c
	}

	rows, err := q.Query(ctx,
		`SELECT step_id, run_id, seq, step_type, name, latency_ms, started_at, ended_at, metadata
		 FROM agent_steps WHERE run_id = ANY($1) ORDER BY run_id, seq`, runIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch steps: %w", err)
	}
	for rows.Next() {
		var s model.Step
		if err := rows.Scan(
			&s.StepID, &s.RunID, &s.Seq, &s.StepType, &s.Name, &s.LatencyMS,
			&s.StartedAt, &s.EndedAt, &s.Metadata,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("storage: scan step: %w", err)
		}
		c := get(s.RunID)
		c.steps = append(c.steps, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: fetch steps: %w", err)
	}

	rows, err = q.Query(ctx,
		`SELECT failure_id, run_id, step_id, failure_type, failure_code, message
		 FROM agent_failures WHERE run_id = ANY($1)`, runIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch failures: %w", err)
	}
	for rows.Next() {
		var f model.Failure
		if err := rows.Scan(
			&f.FailureID, &f.RunID, &f.StepID, &f.FailureType, &f.FailureCode, &f.Message,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("storage: scan failure: %w", err)
		}
		c := get(f.RunID)
		c.failures = append(c.failures, f)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: fetch failures: %w", err)
	}

	rows, err = q.Query(ctx,
		`SELECT decision_id, run_id, step_id, decision_type, selected, reason_code,
		 confidence, candidates, metadata, recorded_at
		 FROM agent_decisions WHERE run_id = ANY($1) ORDER BY run_id, recorded_at`, runIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch decisions: %w", err)
	}
	for rows.Next() {
		var d model.Decision
		if err := rows.Scan(
			&d.DecisionID, &d.RunID, &d.StepID, &d.DecisionType, &d.Selected,
			&d.ReasonCode, &d.Confidence, &d.Candidates, &d.Metadata, &d.RecordedAt,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("storage: scan decision: %w", err)
		}
		c := get(d.RunID)
		c.decisions = append(c.decisions, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: fetch decisions: %w", err)
	}

	rows, err = q.Query(ctx,
		`SELECT signal_id, run_id, step_id, signal_type, signal_code, value, weight, metadata, recorded_at
		 FROM agent_quality_signals WHERE run_id = ANY($1) ORDER BY run_id, recorded_at`, runIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch signals: %w", err)
	}
	for rows.Next() {
		var s model.QualitySignal
		if err := rows.Scan(
			&s.SignalID, &s.RunID, &s.StepID, &s.SignalType, &s.SignalCode,
			&s.Value, &s.Weight, &s.Metadata, &s.RecordedAt,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("storage: scan signal: %w", err)
		}
		c := get(s.RunID)
		c.signals = append(c.signals, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: fetch signals: %w", err)
	}

	return out, nil
}

// buildRunWhereOn builds the WHERE clause for run filters with positional
// placeholders starting at $1, qualifying columns with the given table
// prefix (e.g. "r."). Always returns a WHERE so callers can append AND.
func buildRunWhereOn(f model.RunFilters, prefix string) (string, []any) {
	clauses := []string{"TRUE"}
	var args []any

	add := func(col, op string, val any) {
		args = append(args, val)
		clauses = append(clauses, fmt.Sprintf("%s%s %s $%d", prefix, col, op, len(args)))
	}

	if f.AgentID != "" {
		add("agent_id", "=", f.AgentID)
	}
	if f.AgentVersion != "" {
		add("agent_version", "=", f.AgentVersion)
	}
	if f.Status != "" {
		add("status", "=", string(f.Status))
	}
	if f.Environment != "" {
		add("environment", "=", string(f.Environment))
	}
	if f.StartTime != nil {
		add("started_at", ">=", *f.StartTime)
	}
	if f.EndTime != nil {
		add("started_at", "<=", *f.EndTime)
	}

	return " WHERE " + strings.Join(clauses, " AND "), args
}
