package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/agentsight-io/agentsight/internal/model"
)

// InsertAlert records one alert dispatch attempt.
func (db *DB) InsertAlert(ctx context.Context, a model.AlertLog) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO alert_log (alert_id, drift_id, alert_message, alert_channel, sent_at, delivery_status)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.AlertID, a.DriftID, a.AlertMessage, string(a.AlertChannel), a.SentAt, string(a.DeliveryStatus),
	)
	if err != nil {
		return fmt.Errorf("storage: insert alert: %w", mapPgError(err))
	}
	return nil
}

// ListAlertsByDrift returns the alerts recorded for a drift event,
// oldest first.
func (db *DB) ListAlertsByDrift(ctx context.Context, driftID uuid.UUID) ([]model.AlertLog, error) {
	rows, err := db.reader().Query(ctx,
		`SELECT alert_id, drift_id, alert_message, alert_channel, sent_at, delivery_status
		 FROM alert_log WHERE drift_id = $1 ORDER BY sent_at ASC`, driftID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list alerts: %w", err)
	}
	defer rows.Close()

	alerts := []model.AlertLog{}
	for rows.Next() {
		var a model.AlertLog
		if err := rows.Scan(
			&a.AlertID, &a.DriftID, &a.AlertMessage, &a.AlertChannel, &a.SentAt, &a.DeliveryStatus,
		); err != nil {
			return nil, fmt.Errorf("storage: scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
