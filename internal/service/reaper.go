package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/laviprog/speech-api/config"
	"github.com/laviprog/speech-api/internal/core"
	"github.com/laviprog/speech-api/internal/data"
	"github.com/laviprog/speech-api/internal/domain/model"
	obserrors "github.com/laviprog/speech-api/internal/observability/errors"
	"github.com/laviprog/speech-api/internal/observability/metrics"
	"github.com/laviprog/speech-api/internal/observability/statsd"
)

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Repo    core.TaskReaperRepository // Required: stale task cleanup
	Broker  core.BrokerMaintainer     // Optional: broker housekeeping
	Config  config.ReaperConfig       // Required: reaper configuration
	Logger  *slog.Logger              // Optional: structured logger
	Metrics statsd.Sink               // Optional: metrics sink (StatsD-compatible)
	// Notifier announces reaped tasks the same way the status hooks announce failures.
	Notifier FailureNotifier
	// QueueName tags queue depth gauges.
	QueueName string
}

// ReaperService keeps the broker and the task table consistent with worker loss.
//
// Each pass:
// - Returns in-flight deliveries whose visibility deadline passed to pending.
// - Promotes delayed retries whose backoff elapsed.
// - Fails tasks stuck IN_PROGRESS longer than the stale max age. Their
// deliveries, if any remain, are acknowledged and their audio released by the
// job runner once redelivered.
type ReaperService struct {
	repo      core.TaskReaperRepository
	notifier  FailureNotifier
	broker    core.BrokerMaintainer
	config    config.ReaperConfig
	logger    *slog.Logger
	metrics   statsd.Sink
	queueName string
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("TaskReaperRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "reaper_service")
		logger.Debug("ReaperService initialized",
			"interval", opts.Config.Interval,
			"stale_max_age", opts.Config.StaleMaxAge,
			"batch_size", opts.Config.BatchSize,
			"broker", opts.Broker != nil,
		)
	}

	return &ReaperService{
		repo:      opts.Repo,
		notifier:  opts.Notifier,
		broker:    opts.Broker,
		config:    opts.Config,
		logger:    logger,
		metrics:   opts.Metrics,
		queueName: opts.QueueName,
	}, nil
}

// Run starts the reaper loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting reaper service", "interval", s.config.Interval)
	}

	// Jitter keeps several reapers started together from running in lockstep.
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if err := s.RunOnce(ctx); err != nil {
		s.logCleanupError(err, "initial cleanup")
	}

	return s.runLoop(ctx, ticker)
}

// waitWithJitter adds a random delay up to 10% of the interval.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

func (s *ReaperService) runLoop(ctx context.Context, ticker *time.Ticker) error {
	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logCleanupError(err, "cleanup")
			}
		}
	}
}

// RunOnce performs a single cleanup pass. Every step runs even when an
// earlier one fails.
func (s *ReaperService) RunOnce(ctx context.Context) error {
	start := time.Now()
	var (
		errs               []error
		allContextCanceled = true
		metricsData        = cleanupMetrics{}
	)

	steps := []cleanupStep{
		{
			fn:        s.requeueExpired,
			label:     "requeue expired deliveries",
			operation: "requeue_expired",
		},
		{
			fn:        s.promoteDue,
			label:     "promote due retries",
			operation: "promote_due",
		},
		{
			fn:        s.failStaleTasks,
			label:     "fail stale tasks",
			operation: "fail_stale",
		},
	}

	for _, step := range steps {
		outcome := s.executeCleanupStep(ctx, step.fn, step.label)
		metricsData.ops = append(metricsData.ops, operationMetric{
			name:  step.operation,
			count: outcome.count,
			err:   outcome.metricErr,
		})
		if outcome.aggregateErr != nil {
			errs = append(errs, outcome.aggregateErr)
			allContextCanceled = allContextCanceled && outcome.canceled
		}
	}

	metricsData.Elapsed = time.Since(start)
	s.emitCleanupMetrics(metricsData)
	s.emitQueueDepth(ctx)

	if len(errs) > 0 {
		joined := errors.Join(errs...)
		if allContextCanceled && isContextCancellation(joined) {
			return context.Canceled
		}
		return fmt.Errorf("cleanup failed: %w", joined)
	}

	return nil
}

type cleanupFunc func(context.Context) (int64, error)

type cleanupStep struct {
	fn        cleanupFunc
	label     string
	operation string
}

type cleanupStepOutcome struct {
	count        int64
	metricErr    error
	aggregateErr error
	canceled     bool
}

func (s *ReaperService) executeCleanupStep(
	ctx context.Context,
	fn cleanupFunc,
	label string,
) cleanupStepOutcome {
	count, err := fn(ctx)
	outcome := cleanupStepOutcome{
		count:     count,
		metricErr: suppressContextCancellation(err),
		canceled:  isContextCancellation(err),
	}
	if err != nil {
		outcome.aggregateErr = fmt.Errorf("%s: %w", label, err)
	}
	return outcome
}

// drain calls fn until a batch comes back smaller than the batch size.
func (s *ReaperService) drain(ctx context.Context, fn func(context.Context, int) (int64, error)) (int64, error) {
	var total int64
	for {
		count, err := fn(ctx, s.config.BatchSize)
		if err != nil {
			return total, err
		}
		total += count
		if count < int64(s.config.BatchSize) || count == 0 {
			return total, nil
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
}

func (s *ReaperService) requeueExpired(ctx context.Context) (int64, error) {
	if s.broker == nil {
		return 0, nil
	}
	total, err := s.drain(ctx, func(ctx context.Context, limit int) (int64, error) {
		n, err := s.broker.RequeueExpired(ctx, limit)
		return int64(n), err
	})
	if total > 0 && s.logger != nil {
		s.logger.WarnContext(ctx, "requeued deliveries abandoned by workers", "count", total)
	}
	return total, err
}

func (s *ReaperService) promoteDue(ctx context.Context) (int64, error) {
	if s.broker == nil {
		return 0, nil
	}
	return s.drain(ctx, func(ctx context.Context, limit int) (int64, error) {
		n, err := s.broker.PromoteDue(ctx, limit)
		return int64(n), err
	})
}

func (s *ReaperService) failStaleTasks(ctx context.Context) (int64, error) {
	total, err := s.drain(ctx, func(ctx context.Context, limit int) (int64, error) {
		tasks, err := s.repo.FailStaleTasks(ctx, s.config.StaleMaxAge, limit)
		for _, task := range tasks {
			s.notifyStale(ctx, task)
		}
		return int64(len(tasks)), err
	})
	if total > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "failed stale tasks",
			"count", total,
			"max_age", s.config.StaleMaxAge,
		)
	}
	return total, err
}

func (s *ReaperService) notifyStale(ctx context.Context, task *model.TranscriptionTask) {
	if s.logger != nil {
		s.logger.WarnContext(ctx, "task failed by reaper", "task_id", task.ID, "started_at", task.StartedAt)
	}
	if s.notifier == nil {
		return
	}
	at := time.Now()
	if task.CompletedAt != nil {
		at = *task.CompletedAt
	}
	s.notifier.NotifyTaskFailure(ctx, failurePayload(task, data.StaleTaskMessage, "timeout", at))
}

type operationMetric struct {
	name  string
	count int64
	err   error
}

type cleanupMetrics struct {
	ops     []operationMetric
	Elapsed time.Duration
}

func (s *ReaperService) emitCleanupMetrics(m cleanupMetrics) {
	if s.metrics == nil {
		return
	}

	var (
		totalCount int64
		firstErr   error
	)
	for _, op := range m.ops {
		totalCount += op.count
		if firstErr == nil {
			firstErr = op.err
		}
	}

	result := metrics.ResultSuccess
	if firstErr != nil {
		result = metrics.ResultError
	} else if totalCount == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{
		"result": result,
	}
	if firstErr != nil {
		if class := obserrors.Classify(firstErr); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("reaper.cleanup", 1, tags)
	if m.Elapsed > 0 {
		s.metrics.Timing("reaper.cleanup_duration", m.Elapsed, maps.Clone(tags))
	}

	for _, op := range m.ops {
		s.emitCleanupOperationMetric(op.name, op.count, op.err)
	}

	if firstErr == nil {
		s.metrics.Gauge("reaper.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

func (s *ReaperService) emitCleanupOperationMetric(operation string, count int64, err error) {
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	} else if count == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{
		"operation": operation,
		"result":    result,
	}
	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("reaper.cleanup_operation", 1, tags)
	if err == nil && count > 0 {
		s.metrics.Count("reaper.items_processed", count, maps.Clone(tags))
	}
}

func (s *ReaperService) emitQueueDepth(ctx context.Context) {
	if s.metrics == nil || s.broker == nil {
		return
	}
	stats, err := s.broker.Stats(ctx)
	if err != nil {
		if s.logger != nil && !isContextCancellation(err) {
			s.logger.WarnContext(ctx, "queue stats unavailable", "error", err)
		}
		return
	}
	metrics.EmitQueueDepth(s.metrics, s.queueName, stats.Sections())
}

func (s *ReaperService) logCleanupError(err error, label string) {
	if err == nil || s.logger == nil {
		return
	}

	if isContextCancellation(err) {
		s.logger.Debug(label+" cancelled by context", "error", err)
		return
	}

	s.logger.Error(label+" failed", "error", err)
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func suppressContextCancellation(err error) error {
	if isContextCancellation(err) {
		return nil
	}
	return err
}
