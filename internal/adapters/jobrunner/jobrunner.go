// Package jobrunner pulls transcription descriptors from the broker and runs
// them with late acknowledgment, fixed-delay retries and soft/hard time limits.
package jobrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/sync/errgroup"

	"github.com/laviprog/speech-api/internal/core"
	"github.com/laviprog/speech-api/internal/data"
	"github.com/laviprog/speech-api/internal/domain/model"
	"github.com/laviprog/speech-api/internal/observability/metrics"
	"github.com/laviprog/speech-api/internal/observability/statsd"
)

// ErrHardTimeLimit is the failure recorded when an attempt outlives the hard limit.
var ErrHardTimeLimit = errors.New("hard time limit exceeded")

// ErrSoftTimeLimit wraps the error of an attempt cancelled by the soft limit.
var ErrSoftTimeLimit = errors.New("soft time limit exceeded")

// ErrAttemptsExhausted is recorded when a delivery arrives after the attempt
// limit was spent, typically by workers that died mid-attempt.
var ErrAttemptsExhausted = errors.New("max attempts exceeded")

const (
	defaultMaxAttempts            = 3
	defaultRetryDelay             = 60 * time.Second
	defaultHardTimeLimit          = 600 * time.Second
	defaultPollInterval           = time.Second
	maxConsecutiveReserveFailures = 5
	finalizeTimeout               = 30 * time.Second
)

// TaskReader loads a task record for the redelivery check.
type TaskReader interface {
	GetByID(ctx context.Context, id string) (*model.TranscriptionTask, error)
}

// RunnerOptions configures the job runner adapter.
type RunnerOptions struct {
	Broker   core.TaskBroker
	Tasks    TaskReader
	Executor core.TaskExecutor
	Hooks    core.StatusHooks
	Logger   *slog.Logger
	Metrics  statsd.Sink

	Concurrency int // number of worker goroutines; defaults to 1
	MaxAttempts int // total attempts including the first; defaults to 3
	RetryDelay  time.Duration
	// SoftTimeLimit cancels the attempt context; the attempt is then retried.
	SoftTimeLimit time.Duration
	// HardTimeLimit abandons the attempt and fails the task without retry.
	HardTimeLimit time.Duration
	PollInterval  time.Duration
}

// Runner executes brokered transcription tasks.
type Runner struct {
	broker   core.TaskBroker
	tasks    TaskReader
	executor core.TaskExecutor
	hooks    core.StatusHooks
	logger   *slog.Logger
	metrics  statsd.Sink
	schema   *jsonschema.Schema

	workers     int
	maxAttempts int
	retryDelay  time.Duration
	softLimit   time.Duration
	hardLimit   time.Duration
	poll        time.Duration
}

func resolveLogger(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}

func validateRunnerOptions(opts RunnerOptions) error {
	switch {
	case opts.Broker == nil:
		return errors.New("broker is required")
	case opts.Executor == nil:
		return errors.New("executor is required")
	case opts.Hooks == nil:
		return errors.New("status hooks are required")
	}
	return nil
}

// NewRunner constructs a job runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if err := validateRunnerOptions(opts); err != nil {
		return nil, err
	}
	schema, err := compileDescriptorSchema()
	if err != nil {
		return nil, err
	}

	r := &Runner{
		broker:      opts.Broker,
		tasks:       opts.Tasks,
		executor:    opts.Executor,
		hooks:       opts.Hooks,
		logger:      resolveLogger(opts.Logger).With("component", "job_runner"),
		metrics:     opts.Metrics,
		schema:      schema,
		workers:     max(opts.Concurrency, 1),
		maxAttempts: opts.MaxAttempts,
		retryDelay:  opts.RetryDelay,
		softLimit:   opts.SoftTimeLimit,
		hardLimit:   opts.HardTimeLimit,
		poll:        opts.PollInterval,
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = defaultMaxAttempts
	}
	if r.retryDelay < 0 {
		r.retryDelay = defaultRetryDelay
	}
	if r.hardLimit <= 0 {
		r.hardLimit = defaultHardTimeLimit
	}
	if r.softLimit <= 0 || r.softLimit > r.hardLimit {
		r.softLimit = r.hardLimit
	}
	if r.poll <= 0 {
		r.poll = defaultPollInterval
	}
	return r, nil
}

// Run starts worker goroutines and processes tasks until the context is
// cancelled. The first worker error cancels the others.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting job runner",
		"workers", r.workers,
		"max_attempts", r.maxAttempts,
		"retry_delay", r.retryDelay,
		"soft_time_limit", r.softLimit,
		"hard_time_limit", r.hardLimit,
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := range r.workers {
		g.Go(func() error {
			return r.workerLoop(gctx, i)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (r *Runner) workerLoop(ctx context.Context, worker int) error {
	failures := 0
	for ctx.Err() == nil {
		msg, err := r.broker.Reserve(ctx)
		switch {
		case err == nil:
			failures = 0
			r.processMessage(ctx, msg)
		case errors.Is(err, model.ErrNoMessageAvailable):
			failures = 0
			if !r.wait(ctx) {
				return nil
			}
		case ctx.Err() != nil:
			return nil
		default:
			failures++
			r.logger.WarnContext(ctx, "reserve failed", "worker", worker, "error", err, "consecutive", failures)
			if failures >= maxConsecutiveReserveFailures {
				return fmt.Errorf("reserve next: %w", err)
			}
			if !r.wait(ctx) {
				return nil
			}
		}
	}
	return nil
}

func (r *Runner) wait(ctx context.Context) bool {
	t := time.NewTimer(r.poll)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// ProcessMessage handles a single delivery.
func (r *Runner) ProcessMessage(ctx context.Context, msg *model.QueueMessage) {
	r.processMessage(ctx, msg)
}

func (r *Runner) processMessage(ctx context.Context, msg *model.QueueMessage) {
	start := time.Now()
	emit := func(transition, result string, err error) {
		metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
			JobType:    metrics.JobTypeTranscription,
			Transition: transition,
			Result:     result,
			Attempt:    msg.Attempt,
			Duration:   time.Since(start),
			Err:        err,
		})
	}
	logger := r.logger.With("message_id", msg.ID, "attempt", msg.Attempt)

	if msg.Task != model.TaskNameTranscribe {
		err := fmt.Errorf("unknown task %q", msg.Task)
		r.deadLetter(ctx, logger, msg.ID, err)
		emit(metrics.TransitionFail, metrics.ResultError, err)
		return
	}
	desc, err := decodeDescriptor(r.schema, msg.Payload)
	if err != nil {
		r.deadLetter(ctx, logger, msg.ID, err)
		emit(metrics.TransitionFail, metrics.ResultError, err)
		return
	}
	logger = logger.With("task_id", desc.JobID)

	if skip := r.checkRedelivery(ctx, logger, desc); skip {
		r.ack(ctx, logger, msg.ID)
		emit(metrics.TransitionSkip, metrics.ResultNoop, nil)
		return
	}

	if msg.Attempt > r.maxAttempts {
		err := fmt.Errorf("%w (%d)", ErrAttemptsExhausted, r.maxAttempts)
		logger.ErrorContext(ctx, "task failed", "error", err, "final", true)
		r.hooks.OnFailure(ctx, desc.JobID, err)
		r.executor.Release(ctx, desc)
		r.ack(ctx, logger, msg.ID)
		emit(metrics.TransitionFail, metrics.ResultError, err)
		return
	}

	r.hooks.BeforeStart(ctx, desc.JobID)
	emit(metrics.TransitionStart, metrics.ResultSuccess, nil)

	res, err := r.runAttempt(ctx, desc)

	// Finalization must survive a shutdown signal that arrives mid-attempt.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	switch {
	case err == nil:
		r.hooks.OnSuccess(fctx, desc.JobID, res)
		r.executor.Release(fctx, desc)
		r.ack(fctx, logger, msg.ID)
		emit(metrics.TransitionComplete, metrics.ResultSuccess, nil)

	case ctx.Err() != nil && !errors.Is(err, ErrHardTimeLimit):
		// Shutdown: hand the message back without spending an attempt.
		logger.InfoContext(fctx, "worker stopping, requeueing task")
		if rerr := r.broker.Requeue(fctx, msg.ID); rerr != nil {
			logger.ErrorContext(fctx, "failed to requeue task on shutdown", "error", rerr)
		}
		emit(metrics.TransitionRetry, metrics.ResultRetry, err)

	case errors.Is(err, ErrHardTimeLimit) || msg.Attempt >= r.maxAttempts:
		logger.ErrorContext(fctx, "task failed", "error", err, "final", true)
		r.hooks.OnFailure(fctx, desc.JobID, err)
		r.executor.Release(fctx, desc)
		r.ack(fctx, logger, msg.ID)
		emit(metrics.TransitionFail, metrics.ResultError, err)

	default:
		logger.WarnContext(fctx, "attempt failed, retrying",
			"error", err,
			"retry_in", r.retryDelay,
			"max_attempts", r.maxAttempts,
		)
		if rerr := r.broker.Retry(fctx, msg.ID, r.retryDelay); rerr != nil {
			logger.ErrorContext(fctx, "failed to schedule retry", "error", rerr)
		}
		emit(metrics.TransitionRetry, metrics.ResultRetry, err)
	}
}

// checkRedelivery reports whether the task must not run: it is already
// terminal or its record no longer exists.
func (r *Runner) checkRedelivery(ctx context.Context, logger *slog.Logger, desc *model.TaskDescriptor) bool {
	if r.tasks == nil {
		return false
	}
	task, err := r.tasks.GetByID(ctx, desc.JobID)
	switch {
	case errors.Is(err, data.ErrTaskNotFound):
		logger.WarnContext(ctx, "task record missing, dropping delivery")
		r.executor.Release(ctx, desc)
		return true
	case err != nil:
		logger.WarnContext(ctx, "could not load task before start", "error", err)
		return false
	case task.Status.Terminal():
		logger.InfoContext(ctx, "task already finalized, acknowledging redelivery", "status", task.Status)
		r.executor.Release(ctx, desc)
		return true
	}
	return false
}

type attemptOutcome struct {
	res *model.TaskResult
	err error
}

// runAttempt runs the executor under the soft limit. When the hard limit
// fires first the attempt goroutine is abandoned.
func (r *Runner) runAttempt(ctx context.Context, desc *model.TaskDescriptor) (*model.TaskResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.softLimit)
	defer cancel()

	done := make(chan attemptOutcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- attemptOutcome{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		res, err := r.executor.Execute(attemptCtx, desc)
		done <- attemptOutcome{res: res, err: err}
	}()

	hard := time.NewTimer(r.hardLimit)
	defer hard.Stop()

	select {
	case out := <-done:
		if out.err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w (%s): %w", ErrSoftTimeLimit, r.softLimit, out.err)
		}
		return out.res, out.err
	case <-hard.C:
		return nil, fmt.Errorf("%w (%s)", ErrHardTimeLimit, r.hardLimit)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Runner) ack(ctx context.Context, logger *slog.Logger, id string) {
	if err := r.broker.Ack(ctx, id); err != nil {
		logger.WarnContext(ctx, "ack failed", "error", err)
	}
}

func (r *Runner) deadLetter(ctx context.Context, logger *slog.Logger, id string, cause error) {
	logger.ErrorContext(ctx, "dead-lettering undeliverable message", "error", cause)
	if err := r.broker.DeadLetter(ctx, id, cause.Error()); err != nil {
		logger.ErrorContext(ctx, "dead-letter failed", "error", err)
	}
}
