package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laviprog/speech-api/internal/domain/model"
	"github.com/laviprog/speech-api/internal/inference"
	"github.com/laviprog/speech-api/internal/testutil"
	"github.com/laviprog/speech-api/internal/transcriber"
)

type stubPipeline struct {
	got      transcriber.Request
	segments []inference.Segment
	err      error
}

func (p *stubPipeline) Transcribe(_ context.Context, req transcriber.Request) ([]inference.Segment, error) {
	p.got = req
	return p.segments, p.err
}

func TestTranscriptionExecutor_Execute(t *testing.T) {
	lang := model.LanguageEnglish
	pipe := &stubPipeline{segments: []inference.Segment{
		{Start: 0, End: 1.5, Text: "  hello ", Speaker: "SPEAKER_02"},
		{Start: 1.5, End: 3, Text: "world"},
		{Start: 3, End: 4, Text: "again", Speaker: "nobody"},
	}}
	exec, err := NewTranscriptionExecutor(TranscriptionExecutorOptions{Pipeline: pipe})
	require.NoError(t, err)

	res, err := exec.Execute(context.Background(), &model.TaskDescriptor{
		JobID:           "task-1",
		AudioPath:       "/tmp/a.wav",
		Model:           model.ASRModelTurbo,
		Language:        &lang,
		RecognitionMode: true,
		NumSpeakers:     testutil.IntPtr(2),
		AlignMode:       true,
	})
	require.NoError(t, err)

	assert.Equal(t, transcriber.Request{
		AudioPath:   "/tmp/a.wav",
		Model:       "turbo",
		Language:    "en",
		Align:       true,
		Diarize:     true,
		NumSpeakers: testutil.IntPtr(2),
	}, pipe.got)

	require.Len(t, res.Result, 3)
	assert.Equal(t, model.Segment{Number: 1, Content: "hello", Speaker: testutil.IntPtr(3), Start: 0, End: 1.5}, res.Result[0])
	assert.Equal(t, 2, res.Result[1].Number)
	assert.Nil(t, res.Result[1].Speaker)
	assert.Equal(t, 3, res.Result[2].Number)
	assert.Nil(t, res.Result[2].Speaker, "unparseable labels are dropped")
}

func TestTranscriptionExecutor_ExecuteAutoDetect(t *testing.T) {
	pipe := &stubPipeline{}
	exec, err := NewTranscriptionExecutor(TranscriptionExecutorOptions{Pipeline: pipe})
	require.NoError(t, err)

	res, err := exec.Execute(context.Background(), &model.TaskDescriptor{JobID: "t", Model: model.ASRModelSmall})
	require.NoError(t, err)
	assert.Empty(t, pipe.got.Language)
	assert.NotNil(t, res.Result)
	assert.Empty(t, res.Result)
}

func TestTranscriptionExecutor_ExecutePropagatesErrors(t *testing.T) {
	cause := &transcriber.StageError{Stage: transcriber.StageASR, Err: errors.New("decode failed")}
	exec, err := NewTranscriptionExecutor(TranscriptionExecutorOptions{Pipeline: &stubPipeline{err: cause}})
	require.NoError(t, err)

	_, err = exec.Execute(context.Background(), &model.TaskDescriptor{JobID: "t"})
	require.Error(t, err)
	assert.Equal(t, "decode failed", err.Error())
}

func TestTranscriptionExecutor_Release(t *testing.T) {
	var removed []string
	exec, err := NewTranscriptionExecutor(TranscriptionExecutorOptions{
		Pipeline: &stubPipeline{},
		RemoveFile: func(path string) error {
			removed = append(removed, path)
			if path == "/tmp/locked.wav" {
				return errors.New("permission denied")
			}
			return nil
		},
	})
	require.NoError(t, err)

	exec.Release(context.Background(), &model.TaskDescriptor{JobID: "a", AudioPath: "/tmp/a.wav"})
	exec.Release(context.Background(), &model.TaskDescriptor{JobID: "b", AudioPath: "/tmp/locked.wav"})
	exec.Release(context.Background(), &model.TaskDescriptor{JobID: "c"})
	exec.Release(context.Background(), nil)

	assert.Equal(t, []string{"/tmp/a.wav", "/tmp/locked.wav"}, removed)
}

func TestNewTranscriptionExecutor_RequiresPipeline(t *testing.T) {
	_, err := NewTranscriptionExecutor(TranscriptionExecutorOptions{})
	require.Error(t, err)
}
