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

// CreateBaseline stores a new baseline. Baselines are created inactive;
// activation is a separate step so the single-active invariant always
// toggles atomically.
func (db *DB) CreateBaseline(ctx context.Context, b model.BehaviorBaseline) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO behavior_baselines (baseline_id, profile_id, agent_id, agent_version,
		 environment, baseline_type, approved_by, approved_at, description, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false, $10)`,
		b.BaselineID, b.ProfileID, b.AgentID, b.AgentVersion, string(b.Environment),
		string(b.BaselineType), b.ApprovedBy, b.ApprovedAt, b.Description, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: create baseline: %w", mapPgError(err))
	}
	return nil
}

// GetBaseline retrieves a baseline by ID.
func (db *DB) GetBaseline(ctx context.Context, baselineID uuid.UUID) (model.BehaviorBaseline, error) {
	b, err := db.scanBaseline(db.reader().QueryRow(ctx,
		baselineSelect+` WHERE baseline_id = $1`, baselineID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.BehaviorBaseline{}, fmt.Errorf("storage: get baseline %s: %w", baselineID, ErrNotFound)
		}
		return model.BehaviorBaseline{}, fmt.Errorf("storage: get baseline: %w", err)
	}
	return b, nil
}

// GetActiveBaseline retrieves the single active baseline for an agent
// triple, or ErrNotFound when none is active.
func (db *DB) GetActiveBaseline(ctx context.Context, agentID, agentVersion string, env model.Environment) (model.BehaviorBaseline, error) {
	b, err := db.scanBaseline(db.reader().QueryRow(ctx,
		baselineSelect+` WHERE agent_id = $1 AND agent_version = $2 AND environment = $3 AND is_active`,
		agentID, agentVersion, string(env),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.BehaviorBaseline{}, fmt.Errorf("storage: no active baseline for %s/%s/%s: %w",
				agentID, agentVersion, env, ErrNotFound)
		}
		return model.BehaviorBaseline{}, fmt.Errorf("storage: get active baseline: %w", err)
	}
	return b, nil
}

// ListBaselines returns baselines matching the filters, newest first.
func (db *DB) ListBaselines(ctx context.Context, f model.BaselineFilters, page, pageSize int) ([]model.BehaviorBaseline, int, error) {
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
	if f.IsActive != nil {
		args = append(args, *f.IsActive)
		clauses += fmt.Sprintf(" AND is_active = $%d", len(args))
	}

	var total int
	if err := db.reader().QueryRow(ctx,
		`SELECT COUNT(*) FROM behavior_baselines `+clauses, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count baselines: %w", err)
	}

	args = append(args, pageSize, (page-1)*pageSize)
	rows, err := db.reader().Query(ctx, fmt.Sprintf(
		`%s %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		baselineSelect, clauses, len(args)-1, len(args)), args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list baselines: %w", err)
	}
	defer rows.Close()

	baselines := []model.BehaviorBaseline{}
	for rows.Next() {
		b, err := db.scanBaseline(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("storage: scan baseline: %w", err)
		}
		baselines = append(baselines, b)
	}
	return baselines, total, rows.Err()
}

// ActivateBaseline makes the given baseline the active one for its agent
// triple, deactivating any previously active baseline in the same
// transaction.
func (db *DB) ActivateBaseline(ctx context.Context, baselineID uuid.UUID) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var agentID, agentVersion, environment string
	err = tx.QueryRow(ctx,
		`SELECT agent_id, agent_version, environment FROM behavior_baselines WHERE baseline_id = $1`,
		baselineID,
	).Scan(&agentID, &agentVersion, &environment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("storage: activate baseline %s: %w", baselineID, ErrNotFound)
		}
		return fmt.Errorf("storage: activate baseline: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE behavior_baselines SET is_active = false
		 WHERE agent_id = $1 AND agent_version = $2 AND environment = $3 AND is_active`,
		agentID, agentVersion, environment,
	); err != nil {
		return fmt.Errorf("storage: deactivate previous baseline: %w", mapPgError(err))
	}

	if _, err := tx.Exec(ctx,
		`UPDATE behavior_baselines SET is_active = true WHERE baseline_id = $1`, baselineID,
	); err != nil {
		return fmt.Errorf("storage: activate baseline: %w", mapPgError(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit activation: %w", err)
	}
	return nil
}

// DeactivateBaseline clears the active flag. Deactivating an already
// inactive baseline is a no-op, not an error.
func (db *DB) DeactivateBaseline(ctx context.Context, baselineID uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE behavior_baselines SET is_active = false WHERE baseline_id = $1`, baselineID,
	)
	if err != nil {
		return fmt.Errorf("storage: deactivate baseline: %w", mapPgError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: deactivate baseline %s: %w", baselineID, ErrNotFound)
	}
	return nil
}

// ApproveBaseline records a first-time approval. A baseline already
// approved maps to ErrConflict; approval is write-once.
func (db *DB) ApproveBaseline(ctx context.Context, baselineID uuid.UUID, approvedBy string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE behavior_baselines SET approved_by = $1, approved_at = $2
		 WHERE baseline_id = $3 AND approved_by IS NULL`,
		approvedBy, time.Now().UTC(), baselineID,
	)
	if err != nil {
		return fmt.Errorf("storage: approve baseline: %w", mapPgError(err))
	}
	if tag.RowsAffected() == 0 {
		if _, err := db.GetBaseline(ctx, baselineID); err != nil {
			return err
		}
		return fmt.Errorf("storage: baseline %s already approved: %w", baselineID, ErrConflict)
	}
	return nil
}

const baselineSelect = `SELECT baseline_id, profile_id, agent_id, agent_version, environment,
 baseline_type, approved_by, approved_at, description, is_active, created_at
 FROM behavior_baselines`

func (db *DB) scanBaseline(row pgx.Row) (model.BehaviorBaseline, error) {
	var b model.BehaviorBaseline
	err := row.Scan(
		&b.BaselineID, &b.ProfileID, &b.AgentID, &b.AgentVersion, &b.Environment,
		&b.BaselineType, &b.ApprovedBy, &b.ApprovedAt, &b.Description, &b.IsActive, &b.CreatedAt,
	)
	return b, err
}
