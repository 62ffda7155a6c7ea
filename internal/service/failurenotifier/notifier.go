// Package failurenotifier fans task failure notifications out to every configured sink.
package failurenotifier

import (
	"context"
	"log/slog"
	"sync"

	"github.com/laviprog/speech-api/internal/observability/notify"
)

// SinkRegistration pairs a sink implementation with a human-readable name for logging.
type SinkRegistration struct {
	Name string
	Sink notify.Sink
}

// Options configures the failure notifier service.
type Options struct {
	Logger *slog.Logger
	Sinks  []SinkRegistration
	// IgnoreClasses lists error classes that never notify, typically bad
	// caller input such as undecodable audio.
	IgnoreClasses []string
}

// Service dispatches failure events to all registered sinks.
type Service struct {
	logger  *slog.Logger
	sinks   []SinkRegistration
	ignored map[string]struct{}
}

// NewService constructs a failure notifier.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var sinks []SinkRegistration
	for _, entry := range opts.Sinks {
		if entry.Sink == nil {
			continue
		}
		name := entry.Name
		if name == "" {
			name = "sink"
		}
		sinks = append(sinks, SinkRegistration{Name: name, Sink: entry.Sink})
	}

	ignored := make(map[string]struct{}, len(opts.IgnoreClasses))
	for _, class := range opts.IgnoreClasses {
		if class != "" {
			ignored[class] = struct{}{}
		}
	}

	return &Service{
		logger:  logger.With("component", "failure_notifier"),
		sinks:   sinks,
		ignored: ignored,
	}
}

// NotifyTaskFailure delivers the payload to all sinks concurrently and waits
// for them. Delivery errors are logged.
func (s *Service) NotifyTaskFailure(ctx context.Context, payload notify.TaskFailurePayload) {
	if s == nil || len(s.sinks) == 0 {
		return
	}

	if _, skip := s.ignored[payload.ErrorClass]; skip {
		s.logger.DebugContext(ctx, "skipping notification for ignored error class",
			"task_id", payload.TaskID,
			"error_class", payload.ErrorClass,
		)
		return
	}

	if payload.Severity == "" {
		payload.Severity = notify.SeverityCritical
	}

	var wg sync.WaitGroup
	for _, entry := range s.sinks {
		wg.Go(func() {
			if err := entry.Sink.SendTaskFailure(ctx, payload); err != nil {
				s.logger.ErrorContext(ctx, "failure notifier delivery error",
					"sink", entry.Name,
					"task_id", payload.TaskID,
					"error", err,
				)
			}
		})
	}
	wg.Wait()
}

// Enabled reports whether the notifier has any active sinks.
func (s *Service) Enabled() bool {
	return s != nil && len(s.sinks) > 0
}
