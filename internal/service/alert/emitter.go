// Package alert dispatches drift notifications to configured sinks and
// records every attempt in the alert log. Alert text is strictly
// neutral: magnitudes and identifiers, never judgments.
package alert

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/agentsight-io/agentsight/internal/model"
	"github.com/agentsight-io/agentsight/internal/storage"
)

// Config selects which sinks an emitter dispatches to. The log sink is
// always on.
type Config struct {
	DatabaseEnabled     bool
	WebhookURL          string
	SlackWebhookURL     string
	PagerDutyRoutingKey string
	WebhookTimeout      time.Duration
}

// Emitter fans one drift record out to every configured sink.
type Emitter struct {
	db              *storage.DB
	sinks           []Sink
	databaseEnabled bool
	logger          *slog.Logger
}

// NewEmitter creates an emitter with the sinks the config enables.
func NewEmitter(db *storage.DB, cfg Config, logger *slog.Logger) *Emitter {
	timeout := cfg.WebhookTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	sinks := []Sink{&logSink{logger: logger}}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, &webhookSink{url: cfg.WebhookURL, client: client})
	}
	if cfg.SlackWebhookURL != "" {
		sinks = append(sinks, &slackSink{webhookURL: cfg.SlackWebhookURL})
	}
	if cfg.PagerDutyRoutingKey != "" {
		sinks = append(sinks, &pagerDutySink{routingKey: cfg.PagerDutyRoutingKey, client: client})
	}

	return &Emitter{
		db:              db,
		sinks:           sinks,
		databaseEnabled: cfg.DatabaseEnabled,
		logger:          logger,
	}
}

// DriftDetected dispatches an alert for a stored drift record. Delivery
// failures are logged and recorded, never propagated: alerting must not
// fail drift detection.
func (e *Emitter) DriftDetected(ctx context.Context, d model.BehaviorDrift) {
	message := FormatMessage(d)
	if ContainsJudgment(message) {
		// The formatter is neutral by construction; this guards future edits.
		e.logger.Error("alert message contains evaluative language, dropping", "drift_id", d.DriftID)
		return
	}

	for _, sink := range e.sinks {
		status := model.DeliverySent
		if err := sink.Send(ctx, message, d); err != nil {
			status = model.DeliveryFailed
			e.logger.Error("alert delivery failed",
				"drift_id", d.DriftID,
				"channel", sink.Channel(),
				"error", err,
			)
		}
		e.record(ctx, d, message, sink.Channel(), status)
	}

	if e.databaseEnabled {
		e.record(ctx, d, message, model.AlertChannelDatabase, model.DeliverySent)
	}
}

func (e *Emitter) record(ctx context.Context, d model.BehaviorDrift, message string, channel model.AlertChannel, status model.DeliveryStatus) {
	if e.db == nil {
		return
	}
	a := model.AlertLog{
		AlertID:        uuid.New(),
		DriftID:        d.DriftID,
		AlertMessage:   message,
		AlertChannel:   channel,
		SentAt:         time.Now().UTC(),
		DeliveryStatus: status,
	}
	if err := e.db.InsertAlert(ctx, a); err != nil {
		e.logger.Error("record alert failed", "drift_id", d.DriftID, "channel", channel, "error", err)
	}
}
