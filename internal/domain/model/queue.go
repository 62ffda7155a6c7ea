package model

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNoMessageAvailable is returned by a broker when nothing is ready for delivery.
var ErrNoMessageAvailable = errors.New("no message available")

// TaskNameTranscribe is the broker task name for transcription descriptors.
const TaskNameTranscribe = "transcribe"

// QueueMessage is one delivery of a brokered task. Attempt counts deliveries,
// starting at 1 for the first.
type QueueMessage struct {
	ID         string          `json:"id"`
	Task       string          `json:"task"`
	Attempt    int             `json:"attempt"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// QueueStats is a snapshot of broker backlog.
type QueueStats struct {
	Pending  int64 `json:"pending"`
	InFlight int64 `json:"in_flight"`
	Delayed  int64 `json:"delayed"`
	Dead     int64 `json:"dead"`
}

// Sections returns the stats keyed by queue section, for gauges.
func (s QueueStats) Sections() map[string]int64 {
	return map[string]int64{
		"pending":   s.Pending,
		"in_flight": s.InFlight,
		"delayed":   s.Delayed,
		"dead":      s.Dead,
	}
}
