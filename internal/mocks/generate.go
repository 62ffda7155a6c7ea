// Package mocks provides mock implementations of the core ports for testing
// the transcription services and the job runner.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for our port interfaces.
// The mocks are generated using go:generate directives and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	mockRepo := mocks.NewMockTaskRepository(ctrl)
//	mockRepo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(task, nil)
package mocks

// Generate mock for TaskRepository interface from internal/core package.
// This creates MockTaskRepository with methods for all TaskRepository interface methods:
// Create, GetForOwner, GetByID, MarkInProgress, MarkCompleted, MarkFailed, CountByStatus
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=task_repository_mock.go github.com/laviprog/speech-api/internal/core TaskRepository

// Generate mock for APIKeyRepository interface from internal/core package.
// This creates MockAPIKeyRepository with methods for all APIKeyRepository interface methods:
// Create, FindActiveByHash, TouchLastUsed, Revoke
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=api_key_repository_mock.go github.com/laviprog/speech-api/internal/core APIKeyRepository

// Generate mocks for the broker ports from internal/core package.
// MockTaskQueue: Enqueue
// MockTaskBroker: Reserve, Ack, Retry, Requeue, DeadLetter
// MockBrokerMaintainer: RequeueExpired, PromoteDue, Stats
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=task_queue_mock.go github.com/laviprog/speech-api/internal/core TaskQueue
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=task_broker_mock.go github.com/laviprog/speech-api/internal/core TaskBroker
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=broker_maintainer_mock.go github.com/laviprog/speech-api/internal/core BrokerMaintainer

// Generate mocks for the worker ports from internal/core package.
// MockTaskExecutor: Execute, Release
// MockStatusHooks: BeforeStart, OnSuccess, OnFailure
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=task_executor_mock.go github.com/laviprog/speech-api/internal/core TaskExecutor
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=status_hooks_mock.go github.com/laviprog/speech-api/internal/core StatusHooks

// Generate mocks for the submission-side audio ports from internal/core package.
// MockMediaProber: Probe
// MockAudioStager: Stage
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=media_prober_mock.go github.com/laviprog/speech-api/internal/core MediaProber
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=audio_stager_mock.go github.com/laviprog/speech-api/internal/core AudioStager
