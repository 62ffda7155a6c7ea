// Package inference defines the model capabilities the transcription pipeline
// consumes and the per-process cache that owns loaded model handles.
package inference

import (
	"context"
	"fmt"

	"github.com/laviprog/speech-api/internal/audio"
)

// Kind identifies a family of models.
type Kind string

const (
	KindASR         Kind = "asr"
	KindAlignment   Kind = "alignment"
	KindDiarization Kind = "diarization"
)

// DiarizationModel is the single diarization pipeline a worker loads.
const DiarizationModel = "pyannote/speaker-diarization-3.1"

// Key addresses one cached model: ASR by model name, alignment by language
// code, diarization as a singleton.
type Key struct {
	Kind Kind
	ID   string
}

// ASRKey returns the cache key for a speech recognition model.
func ASRKey(model string) Key { return Key{Kind: KindASR, ID: model} }

// AlignmentKey returns the cache key for the alignment model of a language.
func AlignmentKey(language string) Key { return Key{Kind: KindAlignment, ID: language} }

// DiarizationKey returns the key of the diarization pipeline.
func DiarizationKey() Key { return Key{Kind: KindDiarization, ID: DiarizationModel} }

func (k Key) String() string { return fmt.Sprintf("%s/%s", k.Kind, k.ID) }

// Handle is a loaded model. Close releases whatever the backend holds for it
// (device memory, sidecar slots).
type Handle interface {
	Close(ctx context.Context) error
}

// Loader materialises a model handle for a key.
type Loader interface {
	Load(ctx context.Context, key Key) (Handle, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, key Key) (Handle, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, key Key) (Handle, error) { return f(ctx, key) }

// Segment is a raw timed span produced by a model.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker,omitempty"`
}

// Transcript is the output of the ASR stage.
type Transcript struct {
	Segments []Segment `json:"segments"`
	Language string    `json:"language"`
}

// SpeakerTurn is one diarized interval.
type SpeakerTurn struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// TranscribeOptions tune a recognition call. An empty Language asks the model to detect it.
type TranscribeOptions struct {
	Language  string
	BatchSize int
	ChunkSize int
}

// DiarizeOptions carries the optional speaker-count hint.
type DiarizeOptions struct {
	NumSpeakers *int
}

// Recognizer turns audio into timed text.
type Recognizer interface {
	Handle
	Transcribe(ctx context.Context, buf *audio.Buffer, opts TranscribeOptions) (*Transcript, error)
}

// Aligner refines segment boundaries against the audio signal.
type Aligner interface {
	Handle
	Align(ctx context.Context, buf *audio.Buffer, segments []Segment) ([]Segment, error)
}

// Diarizer attributes intervals of audio to speakers.
type Diarizer interface {
	Handle
	Diarize(ctx context.Context, buf *audio.Buffer, opts DiarizeOptions) ([]SpeakerTurn, error)
}
