package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the submission and status API.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeWorker runs the transcription worker.
	ServiceModeWorker ServiceMode = "worker"
	// ServiceModeReaper runs the broker and task reaper.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeWorker,
		ServiceModeReaper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for part := range strings.SplitSeq(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeWorker, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, worker, reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

const (
	minTimeLimit = 2 * time.Minute
	softMargin   = time.Minute
	// visibilityMargin is added to the hard limit so an in-flight delivery is
	// never handed to a second worker while the first may still be running.
	visibilityMargin = 10 * time.Minute
)

// WorkerConfig contains transcription worker configuration.
type WorkerConfig struct {
	// Concurrency is the number of tasks processed in parallel by one process.
	Concurrency int `env:"WORKER_CONCURRENCY" envDefault:"1"`

	// QueueName is the broker queue the worker consumes.
	QueueName string `env:"WORKER_QUEUE" envDefault:"transcription"`

	// MaxAttempts is the total number of executions allowed per task.
	MaxAttempts int `env:"WORKER_MAX_ATTEMPTS" envDefault:"3"`

	// RetryDelay is the fixed wait before a failed attempt is redelivered.
	RetryDelay time.Duration `env:"WORKER_RETRY_DELAY" envDefault:"60s"`

	// TimeLimit is the hard execution limit of one attempt.
	TimeLimit time.Duration `env:"WORKER_TIME_LIMIT" envDefault:"600s"`

	// PollInterval is how long an idle worker waits before polling again.
	PollInterval time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"1s"`

	// DB sizes the worker's dedicated connection pool.
	DB PoolConfig `envPrefix:"WORKER_DB_"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if w.Concurrency < 1 {
		w.Concurrency = 1
	}
	if strings.TrimSpace(w.QueueName) == "" {
		w.QueueName = "transcription"
	}
	if w.MaxAttempts < 1 {
		w.MaxAttempts = 1
	}
	if w.RetryDelay < 0 {
		w.RetryDelay = 0
	}
	if w.TimeLimit < minTimeLimit {
		w.TimeLimit = minTimeLimit
	}
	if w.PollInterval <= 0 {
		w.PollInterval = time.Second
	}
	w.DB.Sanitize()
}

// SoftTimeLimit is the point at which an attempt is asked to stop cooperatively.
func (w WorkerConfig) SoftTimeLimit() time.Duration {
	return w.TimeLimit - softMargin
}

// VisibilityTimeout is how long a reserved delivery stays invisible to other consumers.
func (w WorkerConfig) VisibilityTimeout() time.Duration {
	return w.TimeLimit + visibilityMargin
}

// ReaperConfig contains reaper service configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"30s"`

	// StaleMaxAge is how long a task may stay IN_PROGRESS after its last start
	// before it is failed. See StaleAfter for the effective value.
	StaleMaxAge time.Duration `env:"REAPER_STALE_MAX_AGE" envDefault:"24h"`

	// BatchSize is the maximum number of rows or deliveries handled per step.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"500"`
}

// StaleAfter is the effective stale age: StaleMaxAge, raised to the longest
// time a worker could legitimately spend on one task across all its attempts
// including a visibility-timeout redelivery.
func (r ReaperConfig) StaleAfter(w WorkerConfig) time.Duration {
	bound := time.Duration(max(w.MaxAttempts, 1))*(w.TimeLimit+w.RetryDelay) + w.VisibilityTimeout()
	return max(r.StaleMaxAge, bound)
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	if r.Interval < 5*time.Second {
		r.Interval = 5 * time.Second
	}
	if r.StaleMaxAge < time.Hour {
		r.StaleMaxAge = time.Hour
	}
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}
