// Package model defines the transcription task, API key and pipeline data types shared across layers.
package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// TaskStatus is the lifecycle state of a transcription task.
type TaskStatus string

const (
	// TaskStatusPending is set at creation; the descriptor is waiting in the broker.
	TaskStatusPending TaskStatus = "PENDING"
	// TaskStatusInProgress is set by the before-start hook of each attempt.
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	// TaskStatusCompleted is terminal and carries a result.
	TaskStatusCompleted TaskStatus = "COMPLETED"
	// TaskStatusFailed is terminal and carries an error message.
	TaskStatusFailed TaskStatus = "FAILED"
	// TaskStatusCanceled is a reserved terminal state; nothing transitions to it yet.
	TaskStatusCanceled TaskStatus = "CANCELED"
)

// Valid returns true if the TaskStatus is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted, TaskStatusFailed, TaskStatusCanceled:
		return true
	}
	return false
}

// Terminal reports whether no further transition may happen from s.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCanceled
}

// ASRModel names a speech recognition model.
type ASRModel string

const (
	ASRModelSmall  ASRModel = "small"
	ASRModelMedium ASRModel = "medium"
	ASRModelTurbo  ASRModel = "turbo"
)

// DefaultASRModel is used when a submission does not name one.
const DefaultASRModel = ASRModelTurbo

// SupportedModels lists the models a caller may request.
func SupportedModels() []ASRModel {
	return []ASRModel{ASRModelSmall, ASRModelMedium, ASRModelTurbo}
}

// Valid returns true if m is a supported model.
func (m ASRModel) Valid() bool {
	return m == ASRModelSmall || m == ASRModelMedium || m == ASRModelTurbo
}

// Language is an ISO 639-1 language code accepted for transcription.
type Language string

const (
	LanguageRussian Language = "ru"
	LanguageEnglish Language = "en"
)

// SupportedLanguages lists the languages a caller may request. Each has an alignment model.
func SupportedLanguages() []Language {
	return []Language{LanguageRussian, LanguageEnglish}
}

// Valid returns true if l is a supported language.
func (l Language) Valid() bool {
	return l == LanguageRussian || l == LanguageEnglish
}

// Status messages recorded on the task as it moves through its lifecycle.
const (
	MessageQueued        = "queued"
	MessageProcessing    = "processing"
	MessageCompleted     = "completed successfully"
	MessageFailed        = "Failed transcription"
	MessageEnqueueFailed = "failed to enqueue task"
)

// MinSpeakers and MaxSpeakers bound the diarization speaker hint.
const (
	MinSpeakers = 1
	MaxSpeakers = 15
)

// Segment is one timed utterance of a transcript.
type Segment struct {
	Number  int     `json:"number"`
	Content string  `json:"content"`
	Speaker *int    `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// TranscriptionTask is the durable record of one transcription job.
type TranscriptionTask struct {
	ID              string     `json:"task_id"                    db:"id"`
	APIKeyID        string     `json:"-"                          db:"api_key_id"`
	Status          TaskStatus `json:"status"                     db:"status"`
	Message         *string    `json:"message,omitempty"          db:"message"`
	Model           ASRModel   `json:"model"                      db:"model"`
	Language        *Language  `json:"language,omitempty"         db:"language"`
	RecognitionMode bool       `json:"recognition_mode"           db:"recognition_mode"`
	NumSpeakers     *int       `json:"num_speakers,omitempty"     db:"num_speakers"`
	AlignMode       bool       `json:"align_mode"                 db:"align_mode"`
	DurationSeconds *float64   `json:"duration_seconds,omitempty" db:"duration_seconds"`
	FileSizeBytes   *int64     `json:"file_size_bytes,omitempty"  db:"file_size_bytes"`
	Result          []Segment  `json:"result,omitempty"           db:"-"`
	StartedAt       *time.Time `json:"started_at,omitempty"       db:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"     db:"completed_at"`
	CreatedAt       time.Time  `json:"created_at"                 db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"                 db:"updated_at"`
}

// CreateTaskRequest carries validated submission options plus best-effort media metadata.
type CreateTaskRequest struct {
	APIKeyID        string    `validate:"required,uuid"`
	Model           ASRModel  `validate:"required,oneof=small medium turbo"`
	Language        *Language `validate:"omitempty,oneof=ru en"`
	RecognitionMode bool
	NumSpeakers     *int `validate:"omitempty,min=1,max=15"`
	AlignMode       bool
	DurationSeconds *float64 `validate:"omitempty,gte=0"`
	FileSizeBytes   *int64   `validate:"omitempty,gte=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the request against its struct tags. Failures are
// validator.ValidationErrors so callers can report the offending field.
func (r *CreateTaskRequest) Validate() error {
	return validate.Struct(r)
}

// TaskDescriptor is the payload handed to the broker. JobID always equals the task record id.
type TaskDescriptor struct {
	JobID           string    `json:"job_id"`
	AudioPath       string    `json:"audio_path"`
	Model           ASRModel  `json:"model"`
	Language        *Language `json:"language"`
	RecognitionMode bool      `json:"recognition_mode"`
	NumSpeakers     *int      `json:"num_speakers"`
	AlignMode       bool      `json:"align_mode"`
}

// TaskResult is what a successful worker execution returns.
type TaskResult struct {
	Result []Segment `json:"result"`
}

// TaskStats counts non-deleted tasks per status.
type TaskStats map[TaskStatus]int

// ErrInvalidSpeakerLabel is returned for labels without a trailing index.
var ErrInvalidSpeakerLabel = errors.New("invalid speaker label")

// SpeakerNumber converts a diarization label such as "SPEAKER_02" into a
// 1-based speaker number (3).
func SpeakerNumber(label string) (int, error) {
	idx := strings.LastIndexByte(label, '_')
	if idx < 0 || idx == len(label)-1 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSpeakerLabel, label)
	}
	n, err := strconv.Atoi(label[idx+1:])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSpeakerLabel, label)
	}
	return n + 1, nil
}
