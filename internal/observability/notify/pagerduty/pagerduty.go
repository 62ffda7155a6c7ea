// Package pagerduty raises PagerDuty incidents for failed transcription tasks.
package pagerduty

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/laviprog/speech-api/internal/observability/notify"
)

// APIEndpoint is the PagerDuty Events API v2 ingest URL.
const APIEndpoint = "https://events.pagerduty.com/v2/enqueue"

// Config captures runtime configuration for the PagerDuty sink.
type Config struct {
	RoutingKey string
	Source     string
	Component  string
	Timeout    time.Duration
	RetryLimit int
	Client     *http.Client
	// Endpoint overrides APIEndpoint.
	Endpoint string
}

// Client publishes events via PagerDuty's Events API v2.
type Client struct {
	routingKey string
	source     string
	component  string
	endpoint   string
	retryLimit int
	client     *http.Client
}

var _ notify.Sink = (*Client)(nil)

// NewClient constructs a PagerDuty events client. A routing key is required.
func NewClient(cfg Config) (*Client, error) {
	key := strings.TrimSpace(cfg.RoutingKey)
	if key == "" {
		return nil, errors.New("pagerduty routing key is required")
	}

	return &Client{
		routingKey: key,
		source:     notify.Fallback(strings.TrimSpace(cfg.Source), "speech-api"),
		component:  notify.Fallback(strings.TrimSpace(cfg.Component), "transcription-worker"),
		endpoint:   notify.Fallback(strings.TrimSpace(cfg.Endpoint), APIEndpoint),
		retryLimit: max(cfg.RetryLimit, 0),
		client:     notify.HTTPClient(cfg.Client, cfg.Timeout),
	}, nil
}

// SendTaskFailure submits a trigger event. Repeated failures of one task
// collapse into one incident through the dedup key.
func (c *Client) SendTaskFailure(ctx context.Context, payload notify.TaskFailurePayload) error {
	body, err := json.Marshal(c.buildEvent(payload))
	if err != nil {
		return fmt.Errorf("encode pagerduty payload: %w", err)
	}
	return notify.Delivery{
		Client:  c.client,
		URL:     c.endpoint,
		Body:    body,
		Retries: c.retryLimit,
		Name:    "pagerduty api",
	}.Post(ctx)
}

func (c *Client) buildEvent(payload notify.TaskFailurePayload) map[string]any {
	severity := strings.ToLower(notify.Fallback(payload.Severity, notify.SeverityCritical))

	occurredAt := payload.OccurredAt.UTC()
	if payload.OccurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	custom := map[string]any{
		"task_id":     payload.TaskID,
		"api_key_id":  payload.APIKeyID,
		"model":       payload.Model,
		"language":    payload.Language,
		"error":       payload.Error,
		"error_class": payload.ErrorClass,
	}
	for k, v := range payload.Metadata {
		if _, exists := custom[k]; !exists {
			custom[k] = v
		}
	}

	taskID := notify.Fallback(payload.TaskID, "unknown")
	return map[string]any{
		"routing_key":  c.routingKey,
		"event_action": "trigger",
		"dedup_key":    "transcription:" + taskID,
		"payload": map[string]any{
			"summary":        fmt.Sprintf("Transcription task %s failed", taskID),
			"severity":       severity,
			"source":         c.source,
			"component":      c.component,
			"class":          payload.ErrorClass,
			"timestamp":      occurredAt.Format(time.RFC3339),
			"custom_details": custom,
		},
	}
}
