// Package slack posts task failure notifications to a Slack incoming webhook.
package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/laviprog/speech-api/internal/observability/notify"
)

// Config captures the subset of Slack webhook behaviour we need.
type Config struct {
	WebhookURL string
	Channel    string
	Username   string
	Timeout    time.Duration
	RetryLimit int
	Client     *http.Client
	// TaskURLPrefix turns the task id into a link, e.g. an operator dashboard.
	TaskURLPrefix string
}

// Client delivers task failure notifications to a Slack webhook.
type Client struct {
	webhookURL    string
	channel       string
	username      string
	retryLimit    int
	taskURLPrefix string
	client        *http.Client
}

var _ notify.Sink = (*Client)(nil)

// NewClient builds a Slack webhook client.
func NewClient(cfg Config) (*Client, error) {
	webhookURL := strings.TrimSpace(cfg.WebhookURL)
	if webhookURL == "" {
		return nil, errors.New("slack webhook url is required")
	}

	return &Client{
		webhookURL:    webhookURL,
		channel:       strings.TrimSpace(cfg.Channel),
		username:      notify.Fallback(strings.TrimSpace(cfg.Username), "speech-api"),
		retryLimit:    max(cfg.RetryLimit, 0),
		taskURLPrefix: strings.TrimSpace(cfg.TaskURLPrefix),
		client:        notify.HTTPClient(cfg.Client, cfg.Timeout),
	}, nil
}

// SendTaskFailure posts a formatted message to Slack.
func (c *Client) SendTaskFailure(ctx context.Context, payload notify.TaskFailurePayload) error {
	body, err := json.Marshal(c.formatMessage(payload))
	if err != nil {
		return fmt.Errorf("encode slack payload: %w", err)
	}
	return notify.Delivery{
		Client:  c.client,
		URL:     c.webhookURL,
		Body:    body,
		Retries: c.retryLimit,
		Name:    "slack webhook",
	}.Post(ctx)
}

func (c *Client) formatMessage(payload notify.TaskFailurePayload) map[string]any {
	timestamp := payload.OccurredAt
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	var text strings.Builder
	text.WriteString("*Transcription failed* ")
	text.WriteString(c.taskRef(payload.TaskID))
	text.WriteByte('\n')

	for _, field := range []struct{ label, value string }{
		{"Severity", notify.Fallback(payload.Severity, notify.SeverityCritical)},
		{"Model", payload.Model},
		{"Language", payload.Language},
		{"API key", payload.APIKeyID},
		{"Error class", payload.ErrorClass},
		{"Error", escape(payload.Error)},
	} {
		appendField(&text, field.label, field.value)
	}
	appendMetadata(&text, payload.Metadata)
	text.WriteString("• Timestamp: ")
	text.WriteString(timestamp.UTC().Format(time.RFC3339))

	msg := map[string]any{
		"text":     text.String(),
		"username": c.username,
	}
	if c.channel != "" {
		msg["channel"] = c.channel
	}
	return msg
}

// taskRef renders the task id, linked when a valid prefix is configured.
func (c *Client) taskRef(taskID string) string {
	id := escape(strings.TrimSpace(taskID))
	if id == "" {
		return "`unknown`"
	}
	if c.taskURLPrefix == "" {
		return "`" + id + "`"
	}
	u, err := url.Parse(c.taskURLPrefix)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "`" + id + "`"
	}
	link, err := url.JoinPath(u.String(), strings.TrimSpace(taskID))
	if err != nil {
		return "`" + id + "`"
	}
	return fmt.Sprintf("<%s|%s>", link, id)
}

func escape(value string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(value)
}

func appendField(text *strings.Builder, label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	text.WriteString("• ")
	text.WriteString(label)
	text.WriteString(": ")
	text.WriteString(value)
	text.WriteByte('\n')
}

func appendMetadata(text *strings.Builder, metadata map[string]string) {
	if len(metadata) == 0 {
		return
	}
	text.WriteString("• Metadata:\n")
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		text.WriteString("    • ")
		text.WriteString(k)
		text.WriteString(": ")
		text.WriteString(escape(metadata[k]))
		text.WriteByte('\n')
	}
}
