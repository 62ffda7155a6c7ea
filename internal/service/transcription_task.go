package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/laviprog/speech-api/internal/audio"
	"github.com/laviprog/speech-api/internal/core"
	"github.com/laviprog/speech-api/internal/domain/model"
	"github.com/laviprog/speech-api/internal/inference"
	"github.com/laviprog/speech-api/internal/transcriber"
)

// Pipeline runs speech recognition for one request.
type Pipeline interface {
	Transcribe(ctx context.Context, req transcriber.Request) ([]inference.Segment, error)
}

// TranscriptionExecutorOptions groups dependencies for TranscriptionExecutor.
type TranscriptionExecutorOptions struct {
	Pipeline Pipeline     // Required: the worker's transcriber
	Logger   *slog.Logger // Optional: structured logger
	// RemoveFile deletes the staged audio. Defaults to audio.Remove.
	RemoveFile func(path string) error
}

// TranscriptionExecutor turns a task descriptor into formatted result segments.
type TranscriptionExecutor struct {
	pipeline Pipeline
	logger   *slog.Logger
	remove   func(path string) error
}

var _ core.TaskExecutor = (*TranscriptionExecutor)(nil)

// NewTranscriptionExecutor constructs a new TranscriptionExecutor.
func NewTranscriptionExecutor(opts TranscriptionExecutorOptions) (*TranscriptionExecutor, error) {
	if opts.Pipeline == nil {
		return nil, errors.New("Pipeline is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	remove := opts.RemoveFile
	if remove == nil {
		remove = audio.Remove
	}
	return &TranscriptionExecutor{
		pipeline: opts.Pipeline,
		logger:   logger.With("component", "transcription_executor"),
		remove:   remove,
	}, nil
}

// Execute runs the full pipeline from scratch.
func (e *TranscriptionExecutor) Execute(ctx context.Context, desc *model.TaskDescriptor) (*model.TaskResult, error) {
	if desc == nil {
		return nil, errors.New("task descriptor is required")
	}

	req := transcriber.Request{
		AudioPath:   desc.AudioPath,
		Model:       string(desc.Model),
		Align:       desc.AlignMode,
		Diarize:     desc.RecognitionMode,
		NumSpeakers: desc.NumSpeakers,
	}
	if desc.Language != nil {
		req.Language = string(*desc.Language)
	}

	e.logger.InfoContext(ctx, "starting transcription",
		"task_id", desc.JobID,
		"model", desc.Model,
		"language", req.Language,
		"align", desc.AlignMode,
		"diarize", desc.RecognitionMode,
	)

	raw, err := e.pipeline.Transcribe(ctx, req)
	if err != nil {
		return nil, err
	}
	return &model.TaskResult{Result: e.FormatSegments(ctx, desc.JobID, raw)}, nil
}

// Release deletes the staged audio file. A missing file is not an error.
func (e *TranscriptionExecutor) Release(ctx context.Context, desc *model.TaskDescriptor) {
	if desc == nil || desc.AudioPath == "" {
		return
	}
	if err := e.remove(desc.AudioPath); err != nil {
		e.logger.WarnContext(ctx, "failed to remove audio file",
			"task_id", desc.JobID, "path", desc.AudioPath, "error", err)
		return
	}
	e.logger.DebugContext(ctx, "audio file removed", "task_id", desc.JobID, "path", desc.AudioPath)
}

// FormatSegments numbers segments from 1, trims their text and converts
// diarization labels into 1-based speaker numbers.
func (e *TranscriptionExecutor) FormatSegments(ctx context.Context, taskID string, raw []inference.Segment) []model.Segment {
	out := make([]model.Segment, 0, len(raw))
	for i, seg := range raw {
		s := model.Segment{
			Number:  i + 1,
			Content: strings.TrimSpace(seg.Text),
			Start:   seg.Start,
			End:     seg.End,
		}
		if seg.Speaker != "" {
			n, err := model.SpeakerNumber(seg.Speaker)
			if err != nil {
				e.logger.WarnContext(ctx, "dropping unparseable speaker label",
					"task_id", taskID, "label", seg.Speaker, "error", err)
			} else {
				s.Speaker = &n
			}
		}
		out = append(out, s)
	}
	return out
}
