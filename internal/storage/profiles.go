package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/agentsight-io/agentsight/internal/model"
)

// InsertProfile stores a behavior profile. A profile for the same
// (agent_id, agent_version, environment, window) already existing maps
// to ErrConflict.
func (db *DB) InsertProfile(ctx context.Context, p model.BehaviorProfile) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO behavior_profiles (profile_id, agent_id, agent_version, environment,
		 window_start, window_end, sample_size, decision_distributions, signal_distributions,
		 latency_stats, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ProfileID, p.AgentID, p.AgentVersion, string(p.Environment),
		p.WindowStart, p.WindowEnd, p.SampleSize,
		p.DecisionDistributions, p.SignalDistributions, p.LatencyStats, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert profile: %w", mapPgError(err))
	}
	return nil
}

// GetProfile retrieves a profile by ID.
func (db *DB) GetProfile(ctx context.Context, profileID uuid.UUID) (model.BehaviorProfile, error) {
	var p model.BehaviorProfile
	err := db.reader().QueryRow(ctx,
		`SELECT profile_id, agent_id, agent_version, environment, window_start, window_end,
		 sample_size, decision_distributions, signal_distributions, latency_stats, created_at
		 FROM behavior_profiles WHERE profile_id = $1`, profileID,
	).Scan(
		&p.ProfileID, &p.AgentID, &p.AgentVersion, &p.Environment,
		&p.WindowStart, &p.WindowEnd, &p.SampleSize,
		&p.DecisionDistributions, &p.SignalDistributions, &p.LatencyStats, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.BehaviorProfile{}, fmt.Errorf("storage: get profile %s: %w", profileID, ErrNotFound)
		}
		return model.BehaviorProfile{}, fmt.Errorf("storage: get profile: %w", err)
	}
	return p, nil
}

// ListProfiles returns profiles matching the filters, newest window first.
func (db *DB) ListProfiles(ctx context.Context, f model.ProfileFilters, page, pageSize int) ([]model.BehaviorProfile, int, error) {
	clauses := "WHERE TRUE"
	var args []any
	if f.AgentID != "" {
		args = append(args, f.AgentID)
		clauses += fmt.Sprintf(" AND agent_id = $%d", len(args))
	}
	if f.AgentVersion != "" {
		args = append(args, f.AgentVersion)
		clauses += fmt.Sprintf(" AND agent_version = $%d", len(args))
	}
	if f.Environment != "" {
		args = append(args, string(f.Environment))
		clauses += fmt.Sprintf(" AND environment = $%d", len(args))
	}

	var total int
	if err := db.reader().QueryRow(ctx,
		`SELECT COUNT(*) FROM behavior_profiles `+clauses, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count profiles: %w", err)
	}

	args = append(args, pageSize, (page-1)*pageSize)
	rows, err := db.reader().Query(ctx, fmt.Sprintf(
		`SELECT profile_id, agent_id, agent_version, environment, window_start, window_end,
		 sample_size, decision_distributions, signal_distributions, latency_stats, created_at
		 FROM behavior_profiles %s ORDER BY window_end DESC LIMIT $%d OFFSET $%d`,
		clauses, len(args)-1, len(args)), args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list profiles: %w", err)
	}
	defer rows.Close()

	profiles := []model.BehaviorProfile{}
	for rows.Next() {
		var p model.BehaviorProfile
		if err := rows.Scan(
			&p.ProfileID, &p.AgentID, &p.AgentVersion, &p.Environment,
			&p.WindowStart, &p.WindowEnd, &p.SampleSize,
			&p.DecisionDistributions, &p.SignalDistributions, &p.LatencyStats, &p.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("storage: scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, total, rows.Err()
}

// AgentWindow identifies the run population a profile or observation is
// computed over.
type AgentWindow struct {
	AgentID      string
	AgentVersion string
	Environment  model.Environment
	WindowStart  time.Time
	WindowEnd    time.Time
}

func (w AgentWindow) runFilter() (string, []any) {
	return `r.agent_id = $1 AND r.agent_version = $2 AND r.environment = $3
	        AND r.started_at >= $4 AND r.started_at < $5`,
		[]any{w.AgentID, w.AgentVersion, string(w.Environment), w.WindowStart, w.WindowEnd}
}

// CountRunsInWindow returns the number of runs in the window.
func (db *DB) CountRunsInWindow(ctx context.Context, w AgentWindow) (int, error) {
	filter, args := w.runFilter()
	var n int
	err := db.reader().QueryRow(ctx,
		`SELECT COUNT(*) FROM agent_runs r WHERE `+filter, args...,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count runs in window: %w", err)
	}
	return n, nil
}

// DecisionCountsInWindow returns, per decision type, the count of each
// selected option across runs in the window.
func (db *DB) DecisionCountsInWindow(ctx context.Context, w AgentWindow) (map[string]map[string]int, error) {
	filter, args := w.runFilter()
	rows, err := db.reader().Query(ctx,
		`SELECT d.decision_type, d.selected, COUNT(*)
		 FROM agent_decisions d JOIN agent_runs r ON r.run_id = d.run_id
		 WHERE `+filter+` GROUP BY d.decision_type, d.selected`, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: decision counts: %w", err)
	}
	defer rows.Close()

	counts := map[string]map[string]int{}
	for rows.Next() {
		var decisionType, selected string
		var n int
		if err := rows.Scan(&decisionType, &selected, &n); err != nil {
			return nil, fmt.Errorf("storage: scan decision count: %w", err)
		}
		if counts[decisionType] == nil {
			counts[decisionType] = map[string]int{}
		}
		counts[decisionType][selected] = n
	}
	return counts, rows.Err()
}

// SignalCountsInWindow returns, per signal type, the count of each
// signal code across runs in the window, regardless of the boolean value.
func (db *DB) SignalCountsInWindow(ctx context.Context, w AgentWindow) (map[string]map[string]int, error) {
	filter, args := w.runFilter()
	rows, err := db.reader().Query(ctx,
		`SELECT s.signal_type, s.signal_code, COUNT(*)
		 FROM agent_quality_signals s JOIN agent_runs r ON r.run_id = s.run_id
		 WHERE `+filter+` GROUP BY s.signal_type, s.signal_code`, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: signal counts: %w", err)
	}
	defer rows.Close()

	counts := map[string]map[string]int{}
	for rows.Next() {
		var signalType, signalCode string
		var n int
		if err := rows.Scan(&signalType, &signalCode, &n); err != nil {
			return nil, fmt.Errorf("storage: scan signal count: %w", err)
		}
		if counts[signalType] == nil {
			counts[signalType] = map[string]int{}
		}
		counts[signalType][signalCode] = n
	}
	return counts, rows.Err()
}

// RunDurationsInWindow returns the wall-clock duration in milliseconds
// of every completed run in the window, ascending.
func (db *DB) RunDurationsInWindow(ctx context.Context, w AgentWindow) ([]float64, error) {
	filter, args := w.runFilter()
	rows, err := db.reader().Query(ctx,
		`SELECT EXTRACT(EPOCH FROM (r.ended_at - r.started_at)) * 1000
		 FROM agent_runs r
		 WHERE `+filter+` AND r.ended_at IS NOT NULL
		 ORDER BY 1`, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: run durations: %w", err)
	}
	defer rows.Close()

	var durations []float64
	for rows.Next() {
		var d float64
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("storage: scan duration: %w", err)
		}
		durations = append(durations, d)
	}
	return durations, rows.Err()
}
