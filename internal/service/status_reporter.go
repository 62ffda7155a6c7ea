package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/laviprog/speech-api/internal/core"
	"github.com/laviprog/speech-api/internal/data"
	"github.com/laviprog/speech-api/internal/domain/model"
	obserrors "github.com/laviprog/speech-api/internal/observability/errors"
	"github.com/laviprog/speech-api/internal/observability/notify"
)

// FailureNotifier announces tasks that reached FAILED to operators.
type FailureNotifier interface {
	NotifyTaskFailure(ctx context.Context, payload notify.TaskFailurePayload)
}

// StatusReporterOptions groups dependencies for StatusReporter.
type StatusReporterOptions struct {
	Repo         core.TaskRepository // Required: task repository on the worker's own pool
	TimeProvider data.TimeProvider   // Optional: defaults to the system clock
	Logger       *slog.Logger        // Optional: structured logger
	Notifier     FailureNotifier     // Optional: operator notifications for failed tasks
}

// StatusReporter records task state transitions on behalf of the job runner.
// Persistence errors are logged and swallowed so they never change the outcome
// of the pipeline run.
type StatusReporter struct {
	repo     core.TaskRepository
	clock    data.TimeProvider
	logger   *slog.Logger
	notifier FailureNotifier
}

var _ core.StatusHooks = (*StatusReporter)(nil)

// NewStatusReporter constructs a new StatusReporter.
func NewStatusReporter(opts StatusReporterOptions) (*StatusReporter, error) {
	if opts.Repo == nil {
		return nil, errors.New("TaskRepository is required")
	}
	clock := opts.TimeProvider
	if clock == nil {
		clock = &data.RealTimeProvider{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusReporter{
		repo:     opts.Repo,
		clock:    clock,
		logger:   logger.With("component", "status_reporter"),
		notifier: opts.Notifier,
	}, nil
}

// BeforeStart marks the task IN_PROGRESS. Called once per attempt.
func (r *StatusReporter) BeforeStart(ctx context.Context, taskID string) {
	if err := r.repo.MarkInProgress(ctx, taskID, r.clock.Now()); err != nil {
		r.logTransitionError(ctx, taskID, model.TaskStatusInProgress, err)
		return
	}
	r.logger.InfoContext(ctx, "task started", "task_id", taskID)
}

// OnSuccess marks the task COMPLETED and stores its segments.
func (r *StatusReporter) OnSuccess(ctx context.Context, taskID string, result *model.TaskResult) {
	var segments []model.Segment
	if result == nil {
		r.logger.WarnContext(ctx, "task finished without a result payload, storing empty result", "task_id", taskID)
	} else {
		segments = result.Result
	}
	if segments == nil {
		segments = []model.Segment{}
	}

	if err := r.repo.MarkCompleted(ctx, taskID, segments, r.clock.Now()); err != nil {
		r.logTransitionError(ctx, taskID, model.TaskStatusCompleted, err)
		return
	}
	r.logger.InfoContext(ctx, "task completed", "task_id", taskID, "segments", len(segments))
}

// OnFailure marks the task FAILED with the error text as its message.
func (r *StatusReporter) OnFailure(ctx context.Context, taskID string, cause error) {
	msg := FailureMessage(cause)
	now := r.clock.Now()
	if err := r.repo.MarkFailed(ctx, taskID, msg, now); err != nil {
		r.logTransitionError(ctx, taskID, model.TaskStatusFailed, err)
		return
	}
	r.logger.ErrorContext(ctx, "task failed", "task_id", taskID, "error", msg)
	r.notifyFailure(ctx, taskID, msg, obserrors.Classify(cause), now)
}

func (r *StatusReporter) notifyFailure(ctx context.Context, taskID, msg, class string, at time.Time) {
	if r.notifier == nil {
		return
	}
	task, err := r.repo.GetByID(ctx, taskID)
	if err != nil {
		r.logger.WarnContext(ctx, "failed to load task for failure notification", "task_id", taskID, "error", err)
		task = &model.TranscriptionTask{ID: taskID}
	}
	r.notifier.NotifyTaskFailure(ctx, failurePayload(task, msg, class, at))
}

// failurePayload builds the operator notification for a task that reached FAILED.
func failurePayload(task *model.TranscriptionTask, msg, class string, at time.Time) notify.TaskFailurePayload {
	payload := notify.TaskFailurePayload{
		TaskID:     task.ID,
		APIKeyID:   task.APIKeyID,
		Model:      string(task.Model),
		Error:      msg,
		ErrorClass: class,
		OccurredAt: at,
	}
	if task.Language != nil {
		payload.Language = string(*task.Language)
	}
	return payload
}

func (r *StatusReporter) logTransitionError(ctx context.Context, taskID string, to model.TaskStatus, err error) {
	if errors.Is(err, data.ErrTaskFinalized) {
		r.logger.WarnContext(ctx, "task already finalized, transition skipped",
			"task_id", taskID, "to", to)
		return
	}
	r.logger.ErrorContext(ctx, "failed to record task transition",
		"task_id", taskID, "to", to, "error", err)
}

// FailureMessage is the message stored for a failed task: the error text, or
// a generic message when there is none.
func FailureMessage(err error) string {
	if err == nil {
		return model.MessageFailed
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return model.MessageFailed
	}
	return msg
}
