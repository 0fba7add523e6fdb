package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/slack-go/slack"

	"github.com/agentsight-io/agentsight/internal/model"
)

// Sink delivers one alert to an external or local channel.
type Sink interface {
	Channel() model.AlertChannel
	Send(ctx context.Context, message string, d model.BehaviorDrift) error
}

// logSink writes alerts to the structured log. Always enabled.
type logSink struct {
	logger *slog.Logger
}

func (s *logSink) Channel() model.AlertChannel { return model.AlertChannelLog }

func (s *logSink) Send(_ context.Context, message string, d model.BehaviorDrift) error {
	s.logger.Warn("drift alert",
		"drift_id", d.DriftID,
		"agent_id", d.AgentID,
		"agent_version", d.AgentVersion,
		"environment", d.Environment,
		"drift_type", d.DriftType,
		"metric", d.Metric,
		"delta_percent", d.DeltaPercent,
		"severity", d.Severity,
		"message", message,
	)
	return nil
}

// webhookSink POSTs the alert as JSON to a configured URL.
type webhookSink struct {
	url    string
	client *http.Client
}

func (s *webhookSink) Channel() model.AlertChannel { return model.AlertChannelWebhook }

func (s *webhookSink) Send(ctx context.Context, message string, d model.BehaviorDrift) error {
	payload, err := json.Marshal(map[string]any{
		"message":  message,
		"drift":    d,
		"source":   "agentsight",
		"sent_at":  time.Now().UTC().Format(time.RFC3339),
		"severity": d.Severity,
	})
	if err != nil {
		return fmt.Errorf("alert: marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("alert: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("alert: post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("alert: webhook returned %d", resp.StatusCode)
	}
	return nil
}

// slackSink posts the alert text to a Slack incoming webhook.
type slackSink struct {
	webhookURL string
}

func (s *slackSink) Channel() model.AlertChannel { return model.AlertChannelSlack }

func (s *slackSink) Send(ctx context.Context, message string, _ model.BehaviorDrift) error {
	err := slack.PostWebhookContext(ctx, s.webhookURL, &slack.WebhookMessage{Text: message})
	if err != nil {
		return fmt.Errorf("alert: post slack webhook: %w", err)
	}
	return nil
}

// pagerDutySink triggers a PagerDuty Events API v2 alert.
type pagerDutySink struct {
	routingKey string
	endpoint   string
	client     *http.Client
}

const pagerDutyEventsURL = "https://events.pagerduty.com/v2/enqueue"

func (s *pagerDutySink) Channel() model.AlertChannel { return model.AlertChannelPagerDuty }

func (s *pagerDutySink) Send(ctx context.Context, message string, d model.BehaviorDrift) error {
	payload, err := json.Marshal(map[string]any{
		"routing_key":  s.routingKey,
		"event_action": "trigger",
		"dedup_key":    d.DriftID.String(),
		"payload": map[string]any{
			"summary":  message,
			"source":   "agentsight",
			"severity": pagerDutySeverity(d.Severity),
			"custom_details": map[string]any{
				"agent_id":      d.AgentID,
				"agent_version": d.AgentVersion,
				"environment":   d.Environment,
				"drift_type":    d.DriftType,
				"metric":        d.Metric,
				"delta_percent": d.DeltaPercent,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("alert: marshal pagerduty payload: %w", err)
	}

	endpoint := s.endpoint
	if endpoint == "" {
		endpoint = pagerDutyEventsURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("alert: build pagerduty request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("alert: post pagerduty event: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("alert: pagerduty returned %d", resp.StatusCode)
	}
	return nil
}

func pagerDutySeverity(s model.Severity) string {
	switch s {
	case model.SeverityHigh:
		return "critical"
	case model.SeverityMedium:
		return "error"
	default:
		return "warning"
	}
}
