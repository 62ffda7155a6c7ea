// Package worker owns the process-lifetime state of a transcription worker:
// its dedicated status-reporting pool, the model cache and the job runner.
package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"

	"github.com/laviprog/speech-api/config"
	"github.com/laviprog/speech-api/internal/adapters/jobrunner"
	"github.com/laviprog/speech-api/internal/adapters/sidecar"
	"github.com/laviprog/speech-api/internal/audio"
	"github.com/laviprog/speech-api/internal/core"
	"github.com/laviprog/speech-api/internal/data"
	"github.com/laviprog/speech-api/internal/domain/model"
	"github.com/laviprog/speech-api/internal/inference"
	"github.com/laviprog/speech-api/internal/observability/statsd"
	"github.com/laviprog/speech-api/internal/service"
	"github.com/laviprog/speech-api/internal/transcriber"
)

// OpenDBFunc opens the worker's status-reporting pool.
type OpenDBFunc func(ctx context.Context, db config.DBConfig, pool config.PoolConfig) (*sql.DB, error)

// Options configures a Lifecycle.
type Options struct {
	Config config.AppConfig
	Broker core.TaskBroker
	OpenDB OpenDBFunc

	Logger  *slog.Logger
	Metrics statsd.Sink
	Tracer  trace.Tracer

	// Loader overrides the sidecar client as the model backend.
	Loader inference.Loader
	// Decoder overrides the ffmpeg decoder.
	Decoder transcriber.AudioDecoder
	// Notifier announces tasks that failed for good. Optional.
	Notifier service.FailureNotifier
	// RemoveFile overrides deletion of staged audio.
	RemoveFile func(path string) error
}

// State is everything a worker process builds once at start and releases at stop.
type State struct {
	DB          *sql.DB
	Models      *inference.Cache
	Transcriber *transcriber.Transcriber
	Runner      *jobrunner.Runner
}

// Lifecycle constructs the worker State at most once and tears it down on shutdown.
type Lifecycle struct {
	opts   Options
	logger *slog.Logger

	mu    sync.Mutex
	state atomic.Pointer[State]
}

// New validates options and returns an uninitialized Lifecycle.
func New(opts Options) (*Lifecycle, error) {
	if opts.Broker == nil {
		return nil, errors.New("broker is required")
	}
	if opts.OpenDB == nil {
		return nil, errors.New("database opener is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{opts: opts, logger: logger.With("component", "worker_lifecycle")}, nil
}

// State returns the current state, or nil before Init and after Shutdown.
func (l *Lifecycle) State() *State {
	return l.state.Load()
}

// Init builds the worker state. Concurrent and repeated calls return the same instance.
func (l *Lifecycle) Init(ctx context.Context) (*State, error) {
	if s := l.state.Load(); s != nil {
		return s, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if s := l.state.Load(); s != nil {
		return s, nil
	}

	s, err := l.build(ctx)
	if err != nil {
		return nil, err
	}
	l.state.Store(s)
	return s, nil
}

func (l *Lifecycle) build(ctx context.Context) (*State, error) {
	cfg := l.opts.Config

	db, err := l.opts.OpenDB(ctx, cfg.Postgres, cfg.Worker.DB)
	if err != nil {
		return nil, fmt.Errorf("open worker database: %w", err)
	}

	loader := l.opts.Loader
	if loader == nil {
		loader = sidecar.NewClient(sidecar.Config{
			ASRURL:         cfg.Inference.ASRURL,
			DiarizationURL: cfg.Inference.DiarizationURL,
			Device:         cfg.Inference.Device,
			ComputeType:    cfg.Inference.ComputeType,
			DownloadRoot:   cfg.Inference.DownloadRoot,
			HFToken:        cfg.Inference.HFToken,
			Timeout:        cfg.Inference.Timeout,
			Logger:         l.logger,
		})
	}
	decoder := l.opts.Decoder
	if decoder == nil {
		decoder = audio.NewDecoder(cfg.Inference.FFmpegPath)
	}

	models := inference.NewCache(inference.CacheOptions{
		Loader:  loader,
		Logger:  l.logger,
		Metrics: l.opts.Metrics,
	})
	tr, err := transcriber.New(transcriber.Options{
		Decoder:   decoder,
		Models:    models,
		BatchSize: cfg.Inference.BatchSize,
		ChunkSize: cfg.Inference.ChunkSize,
		HFToken:   cfg.Inference.HFToken,
		Logger:    l.logger,
		Tracer:    l.opts.Tracer,
	})
	if err != nil {
		return nil, errors.Join(err, closeDB(db))
	}

	l.preload(ctx, tr)

	runner, err := l.buildRunner(db, tr)
	if err != nil {
		return nil, errors.Join(err, tr.Close(ctx), closeDB(db))
	}

	l.logger.InfoContext(ctx, "worker initialized",
		"device", cfg.Inference.Device,
		"compute_type", cfg.Inference.ComputeType,
		"preloaded", models.Len(),
	)
	return &State{DB: db, Models: models, Transcriber: tr, Runner: runner}, nil
}

// preload warms the configured models. A failed preload only costs latency on
// the first job that needs the model, so it is logged and not fatal.
func (l *Lifecycle) preload(ctx context.Context, tr *transcriber.Transcriber) {
	inf := l.opts.Config.Inference
	languages := make([]string, 0, len(model.SupportedLanguages()))
	for _, lang := range model.SupportedLanguages() {
		languages = append(languages, string(lang))
	}
	keys := transcriber.PreloadKeys(inf.PreloadModels, inf.PreloadAll, languages)
	if len(keys) == 0 {
		return
	}
	if err := tr.Preload(ctx, keys...); err != nil {
		l.logger.WarnContext(ctx, "model preload incomplete", "error", err)
	}
}

func (l *Lifecycle) buildRunner(db *sql.DB, tr *transcriber.Transcriber) (*jobrunner.Runner, error) {
	cfg := l.opts.Config.Worker
	repo := data.NewTaskRepo(db, data.TaskRepoConfig{Logger: l.logger})

	hooks, err := service.NewStatusReporter(service.StatusReporterOptions{
		Repo:     repo,
		Logger:   l.logger,
		Notifier: l.opts.Notifier,
	})
	if err != nil {
		return nil, fmt.Errorf("create status reporter: %w", err)
	}
	executor, err := service.NewTranscriptionExecutor(service.TranscriptionExecutorOptions{
		Pipeline:   tr,
		Logger:     l.logger,
		RemoveFile: l.opts.RemoveFile,
	})
	if err != nil {
		return nil, fmt.Errorf("create executor: %w", err)
	}

	return jobrunner.NewRunner(jobrunner.RunnerOptions{
		Broker:        l.opts.Broker,
		Tasks:         repo,
		Executor:      executor,
		Hooks:         hooks,
		Logger:        l.logger,
		Metrics:       l.opts.Metrics,
		Concurrency:   cfg.Concurrency,
		MaxAttempts:   cfg.MaxAttempts,
		RetryDelay:    cfg.RetryDelay,
		SoftTimeLimit: cfg.SoftTimeLimit(),
		HardTimeLimit: cfg.TimeLimit,
		PollInterval:  cfg.PollInterval,
	})
}

// Run initializes the worker if needed, processes tasks until ctx is
// cancelled and then shuts down.
func (l *Lifecycle) Run(ctx context.Context) error {
	s, err := l.Init(ctx)
	if err != nil {
		return err
	}
	runErr := s.Runner.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	// Model handles and the pool are released even though ctx is done.
	if err := l.Shutdown(context.WithoutCancel(ctx)); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

// Shutdown releases every cached model and then closes the status-reporting
// pool. It is a no-op when the worker was never initialized.
func (l *Lifecycle) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.state.Swap(nil)
	if s == nil {
		return nil
	}

	var errs []error
	if err := s.Transcriber.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("release models: %w", err))
	}
	if err := closeDB(s.DB); err != nil {
		errs = append(errs, err)
	}
	l.logger.InfoContext(ctx, "worker shut down")
	return errors.Join(errs...)
}

func closeDB(db *sql.DB) error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return fmt.Errorf("close worker database: %w", err)
	}
	return nil
}
