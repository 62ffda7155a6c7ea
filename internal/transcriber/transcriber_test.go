package transcriber

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/laviprog/speech-api/internal/audio"
	"github.com/laviprog/speech-api/internal/inference"
	obserrors "github.com/laviprog/speech-api/internal/observability/errors"
)

type stubDecoder struct {
	err   error
	paths []string
}

func (d *stubDecoder) Decode(_ context.Context, path string) (*audio.Buffer, error) {
	d.paths = append(d.paths, path)
	if d.err != nil {
		return nil, d.err
	}
	return &audio.Buffer{Samples: make([]float32, audio.SampleRate), SampleRate: audio.SampleRate}, nil
}

type stubHandle struct{}

func (stubHandle) Close(context.Context) error { return nil }

type stubRecognizer struct {
	stubHandle
	out  *inference.Transcript
	err  error
	opts inference.TranscribeOptions
}

func (r *stubRecognizer) Transcribe(_ context.Context, _ *audio.Buffer, opts inference.TranscribeOptions) (*inference.Transcript, error) {
	r.opts = opts
	return r.out, r.err
}

type stubAligner struct {
	stubHandle
	err   error
	empty bool
}

func (a *stubAligner) Align(_ context.Context, _ *audio.Buffer, segs []inference.Segment) ([]inference.Segment, error) {
	if a.err != nil {
		return nil, a.err
	}
	if a.empty {
		return nil, nil
	}
	out := make([]inference.Segment, len(segs))
	for i, s := range segs {
		s.Start += 0.25
		s.Text = "  " + s.Text + "  "
		out[i] = s
	}
	return out, nil
}

type stubDiarizer struct {
	stubHandle
	turns []inference.SpeakerTurn
	err   error
	opts  inference.DiarizeOptions
}

func (d *stubDiarizer) Diarize(_ context.Context, _ *audio.Buffer, opts inference.DiarizeOptions) ([]inference.SpeakerTurn, error) {
	d.opts = opts
	return d.turns, d.err
}

type stubModels struct {
	rec       *stubRecognizer
	recErr    error
	aligner   *stubAligner
	alignErr  error
	alignLang string
	diar      *stubDiarizer
	diarErr   error
	preloaded []inference.Key
	cleaned   bool
}

func (m *stubModels) Recognizer(context.Context, string) (inference.Recognizer, error) {
	if m.recErr != nil {
		return nil, m.recErr
	}
	return m.rec, nil
}

func (m *stubModels) Aligner(_ context.Context, lang string) (inference.Aligner, error) {
	m.alignLang = lang
	if m.alignErr != nil {
		return nil, m.alignErr
	}
	return m.aligner, nil
}

func (m *stubModels) Diarizer(context.Context) (inference.Diarizer, error) {
	if m.diarErr != nil {
		return nil, m.diarErr
	}
	return m.diar, nil
}

func (m *stubModels) Preload(_ context.Context, keys ...inference.Key) error {
	m.preloaded = append(m.preloaded, keys...)
	return nil
}

func (m *stubModels) Cleanup(context.Context) error {
	m.cleaned = true
	return nil
}

func rawSegments() []inference.Segment {
	return []inference.Segment{
		{Start: 0, End: 2, Text: "hello"},
		{Start: 2, End: 4, Text: "world"},
	}
}

func newModels() *stubModels {
	return &stubModels{
		rec:     &stubRecognizer{out: &inference.Transcript{Segments: rawSegments(), Language: "en"}},
		aligner: &stubAligner{},
		diar: &stubDiarizer{turns: []inference.SpeakerTurn{
			{Start: 0, End: 2.1, Speaker: "SPEAKER_00"},
			{Start: 2.1, End: 4, Speaker: "SPEAKER_02"},
		}},
	}
}

func newTranscriber(t *testing.T, models *stubModels, dec *stubDecoder, token string) (*Transcriber, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	tr, err := New(Options{
		Decoder:   dec,
		Models:    models,
		BatchSize: 4,
		ChunkSize: 10,
		HFToken:   token,
		Tracer:    tp.Tracer("test"),
	})
	require.NoError(t, err)
	return tr, rec
}

func spanNames(rec *tracetest.SpanRecorder) []string {
	var names []string
	for _, s := range rec.Ended() {
		names = append(names, s.Name())
	}
	return names
}

func TestTranscribe_PlainRun(t *testing.T) {
	t.Parallel()
	models := newModels()
	dec := &stubDecoder{}
	tr, rec := newTranscriber(t, models, dec, "")

	segs, err := tr.Transcribe(context.Background(), Request{AudioPath: "/tmp/a.wav", Model: "turbo"})
	require.NoError(t, err)
	assert.Equal(t, rawSegments(), segs)
	assert.Equal(t, []string{"/tmp/a.wav"}, dec.paths)
	assert.Equal(t, inference.TranscribeOptions{BatchSize: 4, ChunkSize: 10}, models.rec.opts)
	assert.Equal(t, []string{"transcriber.load_audio", "transcriber.asr"}, spanNames(rec))
}

func TestTranscribe_LoadAudioFailureIsFatal(t *testing.T) {
	t.Parallel()
	tr, _ := newTranscriber(t, newModels(), &stubDecoder{err: errors.New("failed to load audio: no such file")}, "")

	_, err := tr.Transcribe(context.Background(), Request{AudioPath: "x", Model: "small"})
	require.Error(t, err)
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageLoadAudio, se.Stage)
	assert.Equal(t, "pipeline_load_audio", obserrors.Classify(err))
}

func TestTranscribe_ASRFailureKeepsMessage(t *testing.T) {
	t.Parallel()
	models := newModels()
	models.rec.err = errors.New("decode failed")
	tr, _ := newTranscriber(t, models, &stubDecoder{}, "")

	_, err := tr.Transcribe(context.Background(), Request{AudioPath: "x", Model: "turbo"})
	require.Error(t, err)
	assert.Equal(t, "decode failed", err.Error())
	assert.Equal(t, "pipeline_asr", obserrors.Classify(err))
}

func TestTranscribe_AlignUsesDetectedLanguage(t *testing.T) {
	t.Parallel()
	models := newModels()
	tr, rec := newTranscriber(t, models, &stubDecoder{}, "")

	segs, err := tr.Transcribe(context.Background(), Request{AudioPath: "x", Model: "turbo", Align: true})
	require.NoError(t, err)
	assert.Equal(t, "en", models.alignLang)
	require.Len(t, segs, 2)
	assert.InDelta(t, 0.25, segs[0].Start, 1e-9)
	assert.Equal(t, "hello", segs[0].Text)
	assert.Contains(t, spanNames(rec), "transcriber.align")
}

func TestTranscribe_AlignPrefersRequestedLanguage(t *testing.T) {
	t.Parallel()
	models := newModels()
	tr, _ := newTranscriber(t, models, &stubDecoder{}, "")

	_, err := tr.Transcribe(context.Background(), Request{AudioPath: "x", Model: "turbo", Language: "ru", Align: true})
	require.NoError(t, err)
	assert.Equal(t, "ru", models.alignLang)
}

func TestTranscribe_AlignFailureFallsBack(t *testing.T) {
	t.Parallel()
	for name, models := range map[string]*stubModels{
		"load":  func() *stubModels { m := newModels(); m.alignErr = errors.New("no model"); return m }(),
		"run":   func() *stubModels { m := newModels(); m.aligner.err = errors.New("cuda oom"); return m }(),
		"empty": func() *stubModels { m := newModels(); m.aligner.empty = true; return m }(),
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			tr, _ := newTranscriber(t, models, &stubDecoder{}, "")
			segs, err := tr.Transcribe(context.Background(), Request{AudioPath: "x", Model: "turbo", Align: true})
			require.NoError(t, err)
			assert.Equal(t, rawSegments(), segs)
		})
	}
}

func TestTranscribe_Diarize(t *testing.T) {
	t.Parallel()
	models := newModels()
	tr, _ := newTranscriber(t, models, &stubDecoder{}, "hf_token")
	n := 2

	segs, err := tr.Transcribe(context.Background(), Request{AudioPath: "x", Model: "turbo", Diarize: true, NumSpeakers: &n})
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, "SPEAKER_00", segs[0].Speaker)
	assert.Equal(t, "SPEAKER_02", segs[1].Speaker)
	require.NotNil(t, models.diar.opts.NumSpeakers)
	assert.Equal(t, 2, *models.diar.opts.NumSpeakers)
}

func TestTranscribe_DiarizeRunFailureFallsBack(t *testing.T) {
	t.Parallel()
	models := newModels()
	models.diar.err = errors.New("pipeline crashed")
	tr, _ := newTranscriber(t, models, &stubDecoder{}, "hf_token")

	segs, err := tr.Transcribe(context.Background(), Request{AudioPath: "x", Model: "turbo", Diarize: true})
	require.NoError(t, err)
	for _, s := range segs {
		assert.Empty(t, s.Speaker)
	}
}

func TestTranscribe_DiarizeWithoutTokenIsFatal(t *testing.T) {
	t.Parallel()
	tr, _ := newTranscriber(t, newModels(), &stubDecoder{}, "")

	_, err := tr.Transcribe(context.Background(), Request{AudioPath: "x", Model: "turbo", Diarize: true})
	require.ErrorIs(t, err, ErrMissingHubToken)
	assert.Equal(t, "pipeline_diarize", obserrors.Classify(err))
}

func TestTranscribe_DiarizerLoadFailureIsFatal(t *testing.T) {
	t.Parallel()
	models := newModels()
	models.diarErr = errors.New("401 unauthorized")
	tr, _ := newTranscriber(t, models, &stubDecoder{}, "hf_token")

	_, err := tr.Transcribe(context.Background(), Request{AudioPath: "x", Model: "turbo", Diarize: true})
	require.Error(t, err)
	assert.Equal(t, "401 unauthorized", err.Error())
}

func TestAssignSpeakers(t *testing.T) {
	t.Parallel()
	segs := []inference.Segment{
		{Start: 0, End: 3},
		{Start: 3, End: 5},
		{Start: 10, End: 11},
	}
	turns := []inference.SpeakerTurn{
		{Start: 0, End: 1, Speaker: "A"},
		{Start: 1, End: 3.5, Speaker: "B"},
		{Start: 3.5, End: 5, Speaker: "A"},
	}
	out := AssignSpeakers(turns, segs)
	assert.Equal(t, "B", out[0].Speaker)
	assert.Equal(t, "A", out[1].Speaker)
	assert.Empty(t, out[2].Speaker)
	assert.Empty(t, segs[0].Speaker, "input must not be modified")
}

func TestPreload(t *testing.T) {
	t.Parallel()
	keys := PreloadKeys([]string{"small"}, true, []string{"ru", "en"})
	assert.Equal(t, []inference.Key{
		inference.ASRKey("small"),
		inference.AlignmentKey("ru"),
		inference.AlignmentKey("en"),
		inference.DiarizationKey(),
	}, keys)

	models := newModels()
	tr, _ := newTranscriber(t, models, &stubDecoder{}, "")
	err := tr.Preload(context.Background(), keys...)
	require.ErrorIs(t, err, ErrMissingHubToken)
	assert.Equal(t, keys[:3], models.preloaded)

	require.NoError(t, tr.Close(context.Background()))
	assert.True(t, models.cleaned)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()
	_, err := New(Options{Models: newModels()})
	require.Error(t, err)
	_, err = New(Options{Decoder: &stubDecoder{}})
	require.Error(t, err)
}
