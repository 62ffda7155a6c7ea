// Package transcriber runs the speech pipeline for one audio file: decode,
// recognise, optionally align and optionally diarize.
//
// Decode and recognition failures abort the run. Alignment and diarization
// failures degrade to the best intermediate result, except that a diarization
// pipeline which cannot be loaded (including a missing hub token) is fatal.
package transcriber

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/laviprog/speech-api/internal/audio"
	"github.com/laviprog/speech-api/internal/inference"
)

const tracerName = "github.com/laviprog/speech-api/internal/transcriber"

// ErrMissingHubToken is returned when diarization is requested without a configured hub token.
var ErrMissingHubToken = errors.New("HF_TOKEN is required for diarization")

// Pipeline stage names.
const (
	StageLoadAudio = "load_audio"
	StageASR       = "asr"
	StageAlign     = "align"
	StageDiarize   = "diarize"
)

// StageError marks the stage a fatal failure came from. It prints as the
// underlying error so task messages carry the original text.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return e.Err.Error() }
func (e *StageError) Unwrap() error { return e.Err }

// ErrorClass reports the failing stage for metrics.
func (e *StageError) ErrorClass() string { return "pipeline_" + e.Stage }

// AudioDecoder decodes a file into samples.
type AudioDecoder interface {
	Decode(ctx context.Context, path string) (*audio.Buffer, error)
}

// Models provides loaded model handles. *inference.Cache implements it.
type Models interface {
	Recognizer(ctx context.Context, model string) (inference.Recognizer, error)
	Aligner(ctx context.Context, language string) (inference.Aligner, error)
	Diarizer(ctx context.Context) (inference.Diarizer, error)
	Preload(ctx context.Context, keys ...inference.Key) error
	Cleanup(ctx context.Context) error
}

// Options configures a Transcriber.
type Options struct {
	Decoder   AudioDecoder
	Models    Models
	BatchSize int
	ChunkSize int
	HFToken   string
	Logger    *slog.Logger
	Tracer    trace.Tracer
}

// Request describes one pipeline run.
type Request struct {
	AudioPath string
	Model     string
	// Language is empty for auto-detection.
	Language    string
	Align       bool
	Diarize     bool
	NumSpeakers *int
}

// Transcriber owns the model cache for a worker process and runs the pipeline.
type Transcriber struct {
	decoder   AudioDecoder
	models    Models
	batchSize int
	chunkSize int
	hfToken   string
	logger    *slog.Logger
	tracer    trace.Tracer
}

// New creates a Transcriber.
func New(opts Options) (*Transcriber, error) {
	if opts.Decoder == nil {
		return nil, errors.New("transcriber: decoder is required")
	}
	if opts.Models == nil {
		return nil, errors.New("transcriber: models are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Transcriber{
		decoder:   opts.Decoder,
		models:    opts.Models,
		batchSize: opts.BatchSize,
		chunkSize: opts.ChunkSize,
		hfToken:   strings.TrimSpace(opts.HFToken),
		logger:    logger.With("component", "transcriber"),
		tracer:    tracer,
	}, nil
}

// PreloadKeys lists the models to warm at worker start. With all set, every
// supported alignment language and the diarization pipeline are added.
func PreloadKeys(models []string, all bool, languages []string) []inference.Key {
	keys := make([]inference.Key, 0, len(models)+len(languages)+1)
	for _, m := range models {
		keys = append(keys, inference.ASRKey(m))
	}
	if all {
		for _, lang := range languages {
			keys = append(keys, inference.AlignmentKey(lang))
		}
		keys = append(keys, inference.DiarizationKey())
	}
	return keys
}

// Preload warms the cache. Failures are joined and returned; successfully
// loaded models stay cached.
func (t *Transcriber) Preload(ctx context.Context, keys ...inference.Key) error {
	var errs []error
	load := make([]inference.Key, 0, len(keys))
	for _, k := range keys {
		if k.Kind == inference.KindDiarization && t.hfToken == "" {
			errs = append(errs, fmt.Errorf("preload %s: %w", k, ErrMissingHubToken))
			continue
		}
		load = append(load, k)
	}
	if err := t.models.Preload(ctx, load...); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close releases every cached model.
func (t *Transcriber) Close(ctx context.Context) error {
	return t.models.Cleanup(ctx)
}

// Transcribe runs the pipeline and returns the final ordered segments.
func (t *Transcriber) Transcribe(ctx context.Context, req Request) ([]inference.Segment, error) {
	logger := t.logger.With("audio_path", req.AudioPath, "model", req.Model)

	buf, err := t.loadAudio(ctx, req.AudioPath)
	if err != nil {
		logger.ErrorContext(ctx, "failed to load audio", "error", err)
		return nil, &StageError{Stage: StageLoadAudio, Err: err}
	}

	transcript, err := t.recognize(ctx, buf, req)
	if err != nil {
		logger.ErrorContext(ctx, "transcription failed", "error", err)
		return nil, &StageError{Stage: StageASR, Err: err}
	}
	segments := transcript.Segments

	if req.Align {
		lang := req.Language
		if lang == "" {
			lang = transcript.Language
		}
		segments = t.align(ctx, logger, buf, lang, segments)
	}

	if req.Diarize {
		segments, err = t.diarize(ctx, logger, buf, req.NumSpeakers, segments)
		if err != nil {
			return nil, &StageError{Stage: StageDiarize, Err: err}
		}
	}
	return segments, nil
}

func (t *Transcriber) loadAudio(ctx context.Context, path string) (*audio.Buffer, error) {
	ctx, span := t.tracer.Start(ctx, "transcriber."+StageLoadAudio)
	defer span.End()

	buf, err := t.decoder.Decode(ctx, path)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Float64("audio.duration_seconds", buf.Duration()))
	return buf, nil
}

func (t *Transcriber) recognize(ctx context.Context, buf *audio.Buffer, req Request) (*inference.Transcript, error) {
	ctx, span := t.tracer.Start(ctx, "transcriber."+StageASR, trace.WithAttributes(
		attribute.String("asr.model", req.Model),
		attribute.String("asr.language", req.Language),
	))
	defer span.End()

	rec, err := t.models.Recognizer(ctx, req.Model)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	out, err := rec.Transcribe(ctx, buf, inference.TranscribeOptions{
		Language:  req.Language,
		BatchSize: t.batchSize,
		ChunkSize: t.chunkSize,
	})
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	if out == nil {
		out = &inference.Transcript{}
	}
	span.SetAttributes(attribute.Int("asr.segments", len(out.Segments)))
	return out, nil
}

// align never fails the run; on any error, or when the aligner drops every
// segment, the input segments are returned.
func (t *Transcriber) align(
	ctx context.Context,
	logger *slog.Logger,
	buf *audio.Buffer,
	lang string,
	segments []inference.Segment,
) []inference.Segment {
	ctx, span := t.tracer.Start(ctx, "transcriber."+StageAlign, trace.WithAttributes(
		attribute.String("align.language", lang),
	))
	defer span.End()

	if lang == "" {
		logger.WarnContext(ctx, "alignment skipped: language unknown")
		return segments
	}
	aligner, err := t.models.Aligner(ctx, lang)
	if err == nil {
		var aligned []inference.Segment
		aligned, err = aligner.Align(ctx, buf, segments)
		if err == nil && len(aligned) == 0 && len(segments) > 0 {
			span.SetAttributes(attribute.Bool("align.degraded", true))
			logger.WarnContext(ctx, "alignment returned no segments, using unaligned segments",
				"language", lang, "segments", len(segments))
			return segments
		}
		if err == nil {
			for i := range aligned {
				aligned[i].Text = strings.TrimSpace(aligned[i].Text)
			}
			return aligned
		}
	}
	recordSpanError(span, err)
	logger.WarnContext(ctx, "alignment failed, using unaligned segments", "language", lang, "error", err)
	return segments
}

// diarize returns an error only when the pipeline cannot be obtained.
// Failures while running it fall back to the unlabelled segments.
func (t *Transcriber) diarize(
	ctx context.Context,
	logger *slog.Logger,
	buf *audio.Buffer,
	numSpeakers *int,
	segments []inference.Segment,
) ([]inference.Segment, error) {
	ctx, span := t.tracer.Start(ctx, "transcriber."+StageDiarize)
	defer span.End()
	if numSpeakers != nil {
		span.SetAttributes(attribute.Int("diarize.num_speakers", *numSpeakers))
	}

	if t.hfToken == "" {
		recordSpanError(span, ErrMissingHubToken)
		logger.ErrorContext(ctx, "diarization unavailable", "error", ErrMissingHubToken)
		return nil, ErrMissingHubToken
	}
	diarizer, err := t.models.Diarizer(ctx)
	if err != nil {
		recordSpanError(span, err)
		logger.ErrorContext(ctx, "failed to load diarization pipeline", "error", err)
		return nil, err
	}

	turns, err := diarizer.Diarize(ctx, buf, inference.DiarizeOptions{NumSpeakers: numSpeakers})
	if err != nil {
		recordSpanError(span, err)
		logger.ErrorContext(ctx, "diarization failed, using unlabelled segments", "error", err)
		return segments, nil
	}
	return AssignSpeakers(turns, segments), nil
}

// AssignSpeakers labels each segment with the speaker whose turns overlap it
// the most. Segments without any overlapping turn keep an empty label.
func AssignSpeakers(turns []inference.SpeakerTurn, segments []inference.Segment) []inference.Segment {
	out := make([]inference.Segment, len(segments))
	for i, seg := range segments {
		overlap := map[string]float64{}
		for _, turn := range turns {
			d := min(seg.End, turn.End) - max(seg.Start, turn.Start)
			if d > 0 {
				overlap[turn.Speaker] += d
			}
		}
		best, bestDur := "", 0.0
		for speaker, dur := range overlap {
			if dur > bestDur || (dur == bestDur && speaker < best) {
				best, bestDur = speaker, dur
			}
		}
		seg.Speaker = best
		out[i] = seg
	}
	return out
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
