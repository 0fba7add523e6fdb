// Package ingest implements the run ingestion service: contract
// validation followed by a transactional write of the full run tree.
package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/agentsight-io/agentsight/internal/model"
	"github.com/agentsight-io/agentsight/internal/storage"
)

// ValidationError marks a submission rejected by the ingestion contract
// before any database work. Transport maps it to 400.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

// Service validates and persists run submissions.
type Service struct {
	db     *storage.DB
	logger *slog.Logger
}

// New creates an ingestion service.
func New(db *storage.DB, logger *slog.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// Ingest validates a submission and writes it in a single transaction.
// run_id is the idempotency key: a replayed run_id leaves the stored
// tree untouched and returns created=false with the original tree.
func (s *Service) Ingest(ctx context.Context, sub model.RunSubmission) (model.RunView, bool, error) {
	if err := model.ValidateSubmission(sub); err != nil {
		return model.RunView{}, false, &ValidationError{msg: err.Error()}
	}

	created, err := s.db.InsertRunTree(ctx, sub)
	if err != nil {
		return model.RunView{}, false, fmt.Errorf("ingest: %w", err)
	}

	// Read back from the primary: the replica may not have replayed
	// the commit yet.
	view, err := s.db.GetRunTreePrimary(ctx, sub.RunID)
	if err != nil {
		return model.RunView{}, false, fmt.Errorf("ingest: read back run: %w", err)
	}

	if created {
		s.logger.Info("run ingested",
			"run_id", sub.RunID,
			"agent_id", sub.AgentID,
			"agent_version", sub.AgentVersion,
			"status", sub.Status,
			"steps", len(sub.Steps),
			"decisions", len(sub.Decisions),
			"signals", len(sub.QualitySignals),
		)
	} else {
		s.logger.Info("run replayed", "run_id", sub.RunID)
	}
	return view, created, nil
}
