package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"github.com/agentsight-io/agentsight/internal/model"
)

// InsertDrift stores one drift record.
func (db *DB) InsertDrift(ctx context.Context, d model.BehaviorDrift) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO behavior_drift (drift_id, baseline_id, agent_id, agent_version, environment,
		 drift_type, metric, baseline_value, observed_value, delta, delta_percent, significance,
		 test_method, severity, detected_at, observation_window_start, observation_window_end,
		 observation_sample_size, resolved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		d.DriftID, d.BaselineID, d.AgentID, d.AgentVersion, string(d.Environment),
		string(d.DriftType), d.Metric, d.BaselineValue, d.ObservedValue, d.Delta,
		d.DeltaPercent, d.Significance, string(d.TestMethod), string(d.Severity),
		d.DetectedAt, d.ObservationWindowStart, d.ObservationWindowEnd,
		d.ObservationSampleSize, d.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert drift: %w", mapPgError(err))
	}
	return nil
}

// GetDrift retrieves a drift record by ID.
func (db *DB) GetDrift(ctx context.Context, driftID uuid.UUID) (model.BehaviorDrift, error) {
	d, err := scanDrift(db.reader().QueryRow(ctx, driftSelect+` WHERE drift_id = $1`, driftID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.BehaviorDrift{}, fmt.Errorf("storage: get drift %s: %w", driftID, ErrNotFound)
		}
		return model.BehaviorDrift{}, fmt.Errorf("storage: get drift: %w", err)
	}
	return d, nil
}

// ListDrift returns drift records matching the filters, newest first.
func (db *DB) ListDrift(ctx context.Context, f model.DriftFilters, page, pageSize int) ([]model.BehaviorDrift, int, error) {
	clauses := "WHERE TRUE"
	var args []any
	add := func(cond string, val any) {
		args = append(args, val)
		clauses += fmt.Sprintf(" AND "+cond, len(args))
	}

	if f.AgentID != "" {
		add("agent_id = $%d", f.AgentID)
	}
	if f.AgentVersion != "" {
		add("agent_version = $%d", f.AgentVersion)
	}
	if f.Environment != "" {
		add("environment = $%d", string(f.Environment))
	}
	if f.DriftType != "" {
		add("drift_type = $%d", string(f.DriftType))
	}
	if f.Severity != "" {
		add("severity = $%d", string(f.Severity))
	}
	if f.Resolved != nil {
		if *f.Resolved {
			clauses += " AND resolved_at IS NOT NULL"
		} else {
			clauses += " AND resolved_at IS NULL"
		}
	}
	if f.StartTime != nil {
		add("detected_at >= $%d", *f.StartTime)
	}
	if f.EndTime != nil {
		add("detected_at <= $%d", *f.EndTime)
	}

	var total int
	if err := db.reader().QueryRow(ctx,
		`SELECT COUNT(*) FROM behavior_drift `+clauses, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count drift: %w", err)
	}

	args = append(args, pageSize, (page-1)*pageSize)
	rows, err := db.reader().Query(ctx, fmt.Sprintf(
		`%s %s ORDER BY detected_at DESC LIMIT $%d OFFSET $%d`,
		driftSelect, clauses, len(args)-1, len(args)), args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list drift: %w", err)
	}
	defer rows.Close()

	drifts := []model.BehaviorDrift{}
	for rows.Next() {
		d, err := scanDrift(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("storage: scan drift: %w", err)
		}
		drifts = append(drifts, d)
	}
	return drifts, total, rows.Err()
}

// ResolveDrift marks a drift record resolved. Resolution is write-once:
// an already-resolved record maps to ErrConflict.
func (db *DB) ResolveDrift(ctx context.Context, driftID uuid.UUID) (model.BehaviorDrift, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE behavior_drift SET resolved_at = $1 WHERE drift_id = $2 AND resolved_at IS NULL`,
		time.Now().UTC(), driftID,
	)
	if err != nil {
		return model.BehaviorDrift{}, fmt.Errorf("storage: resolve drift: %w", mapPgError(err))
	}
	if tag.RowsAffected() == 0 {
		d, err := db.GetDrift(ctx, driftID)
		if err != nil {
			return model.BehaviorDrift{}, err
		}
		if d.ResolvedAt != nil {
			return model.BehaviorDrift{}, fmt.Errorf("storage: drift %s already resolved: %w", driftID, ErrConflict)
		}
		return model.BehaviorDrift{}, fmt.Errorf("storage: resolve drift %s: %w", driftID, ErrNotFound)
	}
	return db.GetDrift(ctx, driftID)
}

// DriftTimeline returns drift events for an agent triple in a time
// range, oldest first, shaped as chronological points.
func (db *DB) DriftTimeline(ctx context.Context, agentID, agentVersion string, env model.Environment, start, end time.Time) ([]model.DriftTimelinePoint, error) {
	rows, err := db.reader().Query(ctx,
		`SELECT drift_id, detected_at, metric, observed_value
		 FROM behavior_drift
		 WHERE agent_id = $1 AND agent_version = $2 AND environment = $3
		   AND detected_at >= $4 AND detected_at <= $5
		 ORDER BY detected_at ASC`,
		agentID, agentVersion, string(env), start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: drift timeline: %w", err)
	}
	defer rows.Close()

	points := []model.DriftTimelinePoint{}
	for rows.Next() {
		var p model.DriftTimelinePoint
		var driftID uuid.UUID
		if err := rows.Scan(&driftID, &p.Timestamp, &p.Metric, &p.Value); err != nil {
			return nil, fmt.Errorf("storage: scan timeline point: %w", err)
		}
		p.DriftDetected = true
		p.DriftID = &driftID
		points = append(points, p)
	}
	return points, rows.Err()
}

// DriftSummaryStats computes the aggregate drift counters, optionally
// scoped to an agent, environment, and detection cutoff. The component
// queries run concurrently.
func (db *DB) DriftSummaryStats(ctx context.Context, f model.DriftSummaryFilters) (model.DriftSummary, error) {
	summary := model.DriftSummary{
		DriftBySeverity: map[model.Severity]int{},
		DriftByType:     map[model.DriftType]int{},
	}

	where := "WHERE TRUE"
	var args []any
	if f.AgentID != "" {
		args = append(args, f.AgentID)
		where += fmt.Sprintf(" AND agent_id = $%d", len(args))
	}
	if f.Environment != "" {
		args = append(args, string(f.Environment))
		where += fmt.Sprintf(" AND environment = $%d", len(args))
	}
	if f.Since != nil {
		args = append(args, *f.Since)
		where += fmt.Sprintf(" AND detected_at >= $%d", len(args))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return db.reader().QueryRow(gctx,
			`SELECT COUNT(*), COUNT(*) FILTER (WHERE resolved_at IS NULL),
			 COUNT(DISTINCT agent_id) FILTER (WHERE resolved_at IS NULL)
			 FROM behavior_drift `+where, args...,
		).Scan(&summary.TotalDriftEvents, &summary.UnresolvedDriftEvents, &summary.AgentsWithDrift)
	})

	g.Go(func() error {
		rows, err := db.reader().Query(gctx,
			`SELECT severity, COUNT(*) FROM behavior_drift `+where+` GROUP BY severity`, args...,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var sev model.Severity
			var n int
			if err := rows.Scan(&sev, &n); err != nil {
				return err
			}
			summary.DriftBySeverity[sev] = n
		}
		return rows.Err()
	})

	g.Go(func() error {
		rows, err := db.reader().Query(gctx,
			`SELECT drift_type, COUNT(*) FROM behavior_drift `+where+` GROUP BY drift_type`, args...,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var dt model.DriftType
			var n int
			if err := rows.Scan(&dt, &n); err != nil {
				return err
			}
			summary.DriftByType[dt] = n
		}
		return rows.Err()
	})

	if err := g.Wait(); err != nil {
		return model.DriftSummary{}, fmt.Errorf("storage: drift summary: %w", err)
	}
	return summary, nil
}

const driftSelect = `SELECT drift_id, baseline_id, agent_id, agent_version, environment,
 drift_type, metric, baseline_value, observed_value, delta, delta_percent, significance,
 test_method, severity, detected_at, observation_window_start, observation_window_end,
 observation_sample_size, resolved_at
 FROM behavior_drift`

func scanDrift(row pgx.Row) (model.BehaviorDrift, error) {
	var d model.BehaviorDrift
	err := row.Scan(
		&d.DriftID, &d.BaselineID, &d.AgentID, &d.AgentVersion, &d.Environment,
		&d.DriftType, &d.Metric, &d.BaselineValue, &d.ObservedValue, &d.Delta,
		&d.DeltaPercent, &d.Significance, &d.TestMethod, &d.Severity,
		&d.DetectedAt, &d.ObservationWindowStart, &d.ObservationWindowEnd,
		&d.ObservationSampleSize, &d.ResolvedAt,
	)
	return d, err
}
