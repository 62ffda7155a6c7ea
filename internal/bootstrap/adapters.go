package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/laviprog/speech-api/config"
	"github.com/laviprog/speech-api/internal/adapters/reaper"
	"github.com/laviprog/speech-api/internal/core"
	"github.com/laviprog/speech-api/internal/observability/statsd"
	"github.com/laviprog/speech-api/internal/service"
	"github.com/laviprog/speech-api/internal/worker"
)

// WorkerConfig contains configuration for the transcription worker.
type WorkerConfig struct {
	Config   *config.AppConfig
	Broker   core.TaskBroker
	Logger   *slog.Logger
	Metrics  statsd.Sink
	Notifier service.FailureNotifier
}

// RunWorker builds the worker's process state, consumes tasks until ctx is
// cancelled and then releases models and its database pool.
func RunWorker(ctx context.Context, cfg WorkerConfig) error {
	if cfg.Config == nil {
		return fmt.Errorf("create worker: %w", errMissingAppConfig)
	}
	lc, err := worker.New(worker.Options{
		Config:   *cfg.Config,
		Broker:   cfg.Broker,
		OpenDB:   OpenWorkerDB(cfg.Logger),
		Logger:   cfg.Logger,
		Metrics:  cfg.Metrics,
		Tracer:   otel.Tracer("github.com/laviprog/speech-api/worker"),
		Notifier: cfg.Notifier,
	})
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}

	if runErr := lc.Run(ctx); runErr != nil {
		return fmt.Errorf("run worker: %w", runErr)
	}
	return nil
}

// ReaperConfig contains configuration for reaper.
type ReaperConfig struct {
	DB        *sql.DB
	Broker    core.BrokerMaintainer
	QueueName string
	Logger    *slog.Logger
	Config    config.ReaperConfig
	Metrics   statsd.Sink
	Notifier  service.FailureNotifier
}

// RunReaper starts the reaper service for broker redelivery and stale task cleanup.
func RunReaper(ctx context.Context, cfg ReaperConfig) error {
	runner, err := reaper.NewRunner(reaper.RunnerOptions{
		DB:        cfg.DB,
		Broker:    cfg.Broker,
		QueueName: cfg.QueueName,
		Config:    cfg.Config,
		Logger:    cfg.Logger,
		Metrics:   cfg.Metrics,
		Notifier:  cfg.Notifier,
	})
	if err != nil {
		return fmt.Errorf("create reaper runner: %w", err)
	}

	return runner.Run(ctx)
}
