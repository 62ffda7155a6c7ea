package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/laviprog/speech-api/internal/audio"
	"github.com/laviprog/speech-api/internal/core"
	"github.com/laviprog/speech-api/internal/data"
	"github.com/laviprog/speech-api/internal/domain/model"
	apperrors "github.com/laviprog/speech-api/internal/errors"
	"github.com/laviprog/speech-api/internal/observability/metrics"
	"github.com/laviprog/speech-api/internal/observability/statsd"
)

// DispatchServiceOptions groups dependencies for DispatchService.
type DispatchServiceOptions struct {
	Repo         core.TaskRepository // Required: task repository
	Queue        core.TaskQueue      // Required: broker submission side
	Stager       core.AudioStager    // Required: upload staging
	Prober       core.MediaProber    // Optional: best-effort duration and size
	Logger       *slog.Logger        // Optional: structured logger
	Metrics      statsd.Sink         // Optional: metrics sink
	TimeProvider data.TimeProvider   // Optional: defaults to the system clock
	// RemoveFile deletes a staged file when submission fails. Defaults to audio.Remove.
	RemoveFile func(path string) error
}

// DispatchService is the submission side: it records a PENDING task and
// enqueues its descriptor under the same id.
type DispatchService struct {
	repo    core.TaskRepository
	queue   core.TaskQueue
	stager  core.AudioStager
	prober  core.MediaProber
	logger  *slog.Logger
	metrics statsd.Sink
	clock   data.TimeProvider
	remove  func(path string) error
}

// NewDispatchService constructs a new DispatchService.
func NewDispatchService(opts DispatchServiceOptions) (*DispatchService, error) {
	if opts.Repo == nil {
		return nil, errors.New("TaskRepository is required")
	}
	if opts.Queue == nil {
		return nil, errors.New("TaskQueue is required")
	}
	if opts.Stager == nil {
		return nil, errors.New("AudioStager is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "dispatch_service")
	}
	remove := opts.RemoveFile
	if remove == nil {
		remove = audio.Remove
	}
	clock := opts.TimeProvider
	if clock == nil {
		clock = &data.RealTimeProvider{}
	}

	return &DispatchService{
		repo:    opts.Repo,
		queue:   opts.Queue,
		stager:  opts.Stager,
		prober:  opts.Prober,
		logger:  logger,
		metrics: opts.Metrics,
		clock:   clock,
		remove:  remove,
	}, nil
}

// SubmitInput is one transcription submission.
type SubmitInput struct {
	APIKeyID        string
	Filename        string
	Audio           io.Reader
	Model           model.ASRModel
	Language        *model.Language
	RecognitionMode bool
	NumSpeakers     *int
	AlignMode       bool
}

// Submit validates the options, stages the audio, creates the task and
// enqueues its descriptor. It never waits for processing.
func (s *DispatchService) Submit(ctx context.Context, in SubmitInput) (*model.TranscriptionTask, error) {
	if in.Model == "" {
		in.Model = model.DefaultASRModel
	}
	req := &model.CreateTaskRequest{
		APIKeyID:        in.APIKeyID,
		Model:           in.Model,
		Language:        in.Language,
		RecognitionMode: in.RecognitionMode,
		NumSpeakers:     in.NumSpeakers,
		AlignMode:       in.AlignMode,
	}
	if err := req.Validate(); err != nil {
		return nil, validationError(err)
	}
	if in.Audio == nil {
		return nil, fmt.Errorf("stage audio: %w", audio.ErrInvalidAudioFile)
	}

	path, err := s.stager.Stage(in.Filename, in.Audio)
	if err != nil {
		return nil, fmt.Errorf("stage audio: %w", err)
	}

	if s.prober != nil {
		md := s.prober.Probe(ctx, path)
		req.DurationSeconds = md.DurationSeconds
		req.FileSizeBytes = md.FileSizeBytes
	}

	task, err := s.repo.Create(ctx, req)
	if err != nil {
		s.discard(ctx, path)
		s.count("error")
		return nil, fmt.Errorf("create task: %w", err)
	}

	desc := model.TaskDescriptor{
		JobID:           task.ID,
		AudioPath:       path,
		Model:           task.Model,
		Language:        task.Language,
		RecognitionMode: task.RecognitionMode,
		NumSpeakers:     task.NumSpeakers,
		AlignMode:       task.AlignMode,
	}
	if err := s.queue.Enqueue(ctx, model.TaskNameTranscribe, task.ID, desc); err != nil {
		s.failEnqueue(ctx, task.ID, err)
		s.discard(ctx, path)
		s.count("enqueue_error")
		return nil, fmt.Errorf("enqueue task %s: %w", task.ID, err)
	}

	s.count(metrics.ResultSuccess)
	if s.logger != nil {
		s.logger.InfoContext(ctx, "task submitted",
			"task_id", task.ID,
			"model", task.Model,
			"align", task.AlignMode,
			"diarize", task.RecognitionMode,
		)
	}
	return task, nil
}

func (s *DispatchService) failEnqueue(ctx context.Context, taskID string, cause error) {
	if s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to enqueue task", "task_id", taskID, "error", cause)
	}
	if err := s.repo.MarkFailed(ctx, taskID, model.MessageEnqueueFailed, s.clock.Now()); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to mark unqueued task as failed", "task_id", taskID, "error", err)
	}
}

func (s *DispatchService) discard(ctx context.Context, path string) {
	if err := s.remove(path); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "failed to remove staged audio", "path", path, "error", err)
	}
}

func (s *DispatchService) count(result string) {
	if s.metrics == nil {
		return
	}
	s.metrics.Count("task.submitted", 1, map[string]string{
		"job_type": metrics.JobTypeTranscription,
		"result":   result,
	})
}

// Get returns the caller's task. A malformed id is a validation error; a
// missing task and a task owned by another key are both not found.
func (s *DispatchService) Get(ctx context.Context, id, apiKeyID string) (*model.TranscriptionTask, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.ValidationField("task_id", "invalid task id")
	}
	task, err := s.repo.GetForOwner(ctx, id, apiKeyID)
	if err != nil {
		if errors.Is(err, data.ErrTaskNotFound) {
			return nil, apperrors.NotFound("Task not found")
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// Lookup returns any task by id. Used by operator tooling.
func (s *DispatchService) Lookup(ctx context.Context, id string) (*model.TranscriptionTask, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.ValidationField("task_id", "invalid task id")
	}
	task, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, data.ErrTaskNotFound) {
			return nil, apperrors.NotFound("Task not found")
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// Stats counts tasks per status.
func (s *DispatchService) Stats(ctx context.Context) (model.TaskStats, error) {
	stats, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	return stats, nil
}

// validationError reports the first failing field of a validator error.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid request")
	}
	fe := verrs[0]
	field := toSnake(fe.Field())
	switch fe.Tag() {
	case "oneof":
		return apperrors.ValidationField(field, fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", ")))
	case "min", "max":
		return apperrors.ValidationField(field, fmt.Sprintf("%s must be between %d and %d", field, model.MinSpeakers, model.MaxSpeakers))
	case "required":
		return apperrors.ValidationField(field, field+" is required")
	default:
		return apperrors.ValidationField(field, fmt.Sprintf("%s is invalid", field))
	}
}

// toSnake converts an exported Go field name to its JSON-style name.
func toSnake(name string) string {
	if name == "APIKeyID" {
		return "api_key_id"
	}
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
