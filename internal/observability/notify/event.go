// Package notify defines the payload and sink contract for operator
// notifications about transcription tasks that failed for good.
package notify

import (
	"context"
	"time"
)

// Severity constants recognised by downstream sinks.
const (
	SeverityCritical = "critical"
	SeverityError    = "error"
	SeverityWarning  = "warning"
)

// TaskFailurePayload describes one task that reached FAILED.
type TaskFailurePayload struct {
	TaskID     string
	APIKeyID   string
	Model      string
	Language   string
	Error      string
	ErrorClass string
	Severity   string
	OccurredAt time.Time
	Metadata   map[string]string
}

// Sink describes a destination capable of consuming task failure notifications.
type Sink interface {
	SendTaskFailure(ctx context.Context, payload TaskFailurePayload) error
}

// SinkFunc adapts a function to the Sink interface (useful for tests).
type SinkFunc func(ctx context.Context, payload TaskFailurePayload) error

// SendTaskFailure implements the Sink interface.
func (f SinkFunc) SendTaskFailure(ctx context.Context, payload TaskFailurePayload) error {
	if f == nil {
		return nil
	}
	return f(ctx, payload)
}
