// Package baseline manages the lifecycle of behavior baselines: creation
// from a stored profile, activation, deactivation, and write-once
// approval.
package baseline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agentsight-io/agentsight/internal/model"
	"github.com/agentsight-io/agentsight/internal/storage"
)

// Manager coordinates baseline lifecycle operations against storage.
type Manager struct {
	db     *storage.DB
	logger *slog.Logger
}

// NewManager creates a baseline manager.
func NewManager(db *storage.DB, logger *slog.Logger) *Manager {
	return &Manager{db: db, logger: logger}
}

// Create promotes a profile to a baseline. The agent triple is copied
// from the profile, never taken from the caller. Baselines start
// inactive unless auto-activation is requested.
func (m *Manager) Create(ctx context.Context, req model.CreateBaselineRequest) (model.BehaviorBaseline, error) {
	p, err := m.db.GetProfile(ctx, req.ProfileID)
	if err != nil {
		return model.BehaviorBaseline{}, err
	}

	b := model.BehaviorBaseline{
		BaselineID:   uuid.New(),
		ProfileID:    p.ProfileID,
		AgentID:      p.AgentID,
		AgentVersion: p.AgentVersion,
		Environment:  p.Environment,
		BaselineType: req.BaselineType,
		Description:  req.Description,
		CreatedAt:    time.Now().UTC(),
	}
	if req.ApprovedBy != nil && *req.ApprovedBy != "" {
		now := time.Now().UTC()
		b.ApprovedBy = req.ApprovedBy
		b.ApprovedAt = &now
	}

	if err := m.db.CreateBaseline(ctx, b); err != nil {
		return model.BehaviorBaseline{}, err
	}
	if req.AutoActivate {
		if err := m.db.ActivateBaseline(ctx, b.BaselineID); err != nil {
			return model.BehaviorBaseline{}, err
		}
		b.IsActive = true
	}

	m.logger.Info("baseline created",
		"baseline_id", b.BaselineID,
		"agent_id", b.AgentID,
		"agent_version", b.AgentVersion,
		"environment", b.Environment,
		"active", b.IsActive,
	)
	return b, nil
}

// Activate makes the baseline the active one for its agent triple and
// returns the updated record.
func (m *Manager) Activate(ctx context.Context, baselineID uuid.UUID) (model.BehaviorBaseline, error) {
	if err := m.db.ActivateBaseline(ctx, baselineID); err != nil {
		return model.BehaviorBaseline{}, err
	}
	m.logger.Info("baseline activated", "baseline_id", baselineID)
	return m.db.GetBaseline(ctx, baselineID)
}

// Deactivate clears the active flag and returns the updated record.
func (m *Manager) Deactivate(ctx context.Context, baselineID uuid.UUID) (model.BehaviorBaseline, error) {
	if err := m.db.DeactivateBaseline(ctx, baselineID); err != nil {
		return model.BehaviorBaseline{}, err
	}
	m.logger.Info("baseline deactivated", "baseline_id", baselineID)
	return m.db.GetBaseline(ctx, baselineID)
}

// Approve records a write-once approval and returns the updated record.
func (m *Manager) Approve(ctx context.Context, baselineID uuid.UUID, approvedBy string) (model.BehaviorBaseline, error) {
	if err := m.db.ApproveBaseline(ctx, baselineID, approvedBy); err != nil {
		return model.BehaviorBaseline{}, err
	}
	m.logger.Info("baseline approved", "baseline_id", baselineID, "approved_by", approvedBy)
	return m.db.GetBaseline(ctx, baselineID)
}
