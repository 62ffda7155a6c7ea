// Package reaper provides adapters for running the task and broker reaper.
package reaper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/laviprog/speech-api/config"
	"github.com/laviprog/speech-api/internal/core"
	"github.com/laviprog/speech-api/internal/data"
	"github.com/laviprog/speech-api/internal/observability/statsd"
	"github.com/laviprog/speech-api/internal/service"
)

// Runner provides a simple adapter to run the reaper loop.
// It constructs the reaper service and runs the cleanup loop.
type Runner struct {
	reaper *service.ReaperService
	logger *slog.Logger
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	DB        *sql.DB
	Broker    core.BrokerMaintainer
	QueueName string
	Config    config.ReaperConfig
	Logger    *slog.Logger

	// Optional dependency injection for testing/decoupling
	Repo     core.TaskReaperRepository
	Metrics  statsd.Sink
	Notifier service.FailureNotifier
}

// NewRunner creates a new reaper runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if err := validateRunnerOptions(&opts); err != nil {
		return nil, err
	}

	reaper, err := wireReaperService(opts)
	if err != nil {
		return nil, fmt.Errorf("wire reaper service: %w", err)
	}

	return &Runner{
		reaper: reaper,
		logger: opts.Logger,
	}, nil
}

// validateRunnerOptions validates and sets defaults for RunnerOptions.
func validateRunnerOptions(opts *RunnerOptions) error {
	if opts.DB == nil && opts.Repo == nil {
		return errors.New("database connection is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return nil
}

// wireReaperService wires up all dependencies for the reaper service.
func wireReaperService(opts RunnerOptions) (*service.ReaperService, error) {
	repo := opts.Repo
	if repo == nil {
		repo = data.NewTaskRepo(opts.DB, data.TaskRepoConfig{Logger: opts.Logger})
	}

	return service.NewReaperService(service.ReaperServiceOptions{
		Repo:      repo,
		Broker:    opts.Broker,
		Config:    opts.Config,
		Logger:    opts.Logger,
		Metrics:   opts.Metrics,
		Notifier:  opts.Notifier,
		QueueName: opts.QueueName,
	})
}

// Run starts the reaper loop and runs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting reaper runner")
	return r.reaper.Run(ctx)
}
