// Package core defines the ports between the transcription services and
// their adapters (Postgres, Redis, inference sidecars, ffmpeg).
package core

import (
	"context"
	"io"
	"time"

	"github.com/laviprog/speech-api/internal/audio"
	"github.com/laviprog/speech-api/internal/domain/model"
)

// This file contains repository and adapter interface definitions (ports in hexagonal architecture).
// Service implementations depend on these interfaces, not on concrete adapters.

// TaskRepository defines the durable JobRecord operations.
type TaskRepository interface {
	Create(ctx context.Context, req *model.CreateTaskRequest) (*model.TranscriptionTask, error)
	// GetForOwner returns the task only when it belongs to apiKeyID.
	GetForOwner(ctx context.Context, id, apiKeyID string) (*model.TranscriptionTask, error)
	GetByID(ctx context.Context, id string) (*model.TranscriptionTask, error)
	MarkInProgress(ctx context.Context, id string, at time.Time) error
	MarkCompleted(ctx context.Context, id string, segments []model.Segment, at time.Time) error
	MarkFailed(ctx context.Context, id, message string, at time.Time) error
	CountByStatus(ctx context.Context) (model.TaskStats, error)
}

// TaskReaperRepository fails records whose worker was lost mid-attempt.
type TaskReaperRepository interface {
	// FailStaleTasks fails IN_PROGRESS records started before now-maxAge and returns them.
	FailStaleTasks(ctx context.Context, maxAge time.Duration, batchSize int) ([]*model.TranscriptionTask, error)
}

// APIKeyRepository defines credential storage.
type APIKeyRepository interface {
	Create(ctx context.Context, req *model.CreateAPIKeyRequest) (*model.APIKey, error)
	FindActiveByHash(ctx context.Context, keyHash string) (*model.APIKey, error)
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
	Revoke(ctx context.Context, id string) error
}

// TaskQueue is the submission side of the broker.
type TaskQueue interface {
	// Enqueue publishes payload under id. Re-enqueueing an id replaces its payload.
	Enqueue(ctx context.Context, task, id string, payload any) error
}

// TaskBroker is the worker side of the broker. Reserve returns
// model.ErrNoMessageAvailable when nothing is ready.
type TaskBroker interface {
	Reserve(ctx context.Context) (*model.QueueMessage, error)
	Ack(ctx context.Context, id string) error
	Retry(ctx context.Context, id string, delay time.Duration) error
	// Requeue hands a reserved message back to the head of the queue without
	// counting the interrupted delivery as an attempt.
	Requeue(ctx context.Context, id string) error
	DeadLetter(ctx context.Context, id, reason string) error
}

// BrokerMaintainer covers the periodic broker housekeeping.
type BrokerMaintainer interface {
	// RequeueExpired returns in-flight messages whose visibility deadline passed to pending.
	RequeueExpired(ctx context.Context, limit int) (int, error)
	// PromoteDue moves delayed retries whose delay elapsed to pending.
	PromoteDue(ctx context.Context, limit int) (int, error)
	Stats(ctx context.Context) (model.QueueStats, error)
}

// MediaProber computes best-effort metadata for a staged upload.
type MediaProber interface {
	Probe(ctx context.Context, path string) audio.Metadata
}

// AudioStager writes an upload to the transient audio directory.
type AudioStager interface {
	Stage(filename string, r io.Reader) (string, error)
}

// TaskExecutor runs the pipeline for one descriptor.
type TaskExecutor interface {
	Execute(ctx context.Context, desc *model.TaskDescriptor) (*model.TaskResult, error)
	// Release drops per-task resources once the final outcome is known.
	Release(ctx context.Context, desc *model.TaskDescriptor)
}

// StatusHooks are the state transitions invoked around task execution.
// Implementations must log and swallow their own persistence errors.
type StatusHooks interface {
	BeforeStart(ctx context.Context, taskID string)
	OnSuccess(ctx context.Context, taskID string, result *model.TaskResult)
	OnFailure(ctx context.Context, taskID string, err error)
}
