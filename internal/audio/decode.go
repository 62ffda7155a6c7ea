package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
)

// SampleRate is the rate every decoded buffer is resampled to.
const SampleRate = 16000

// Buffer is mono PCM audio normalised to [-1, 1].
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the buffer length in seconds.
func (b *Buffer) Duration() float64 {
	if b == nil || b.SampleRate == 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.SampleRate)
}

// PCM16 encodes the samples as signed 16-bit little-endian PCM.
func (b *Buffer) PCM16() []byte {
	out := make([]byte, 2*len(b.Samples))
	for i, s := range b.Samples {
		v := math.Round(float64(s) * 32768)
		v = max(math.MinInt16, min(math.MaxInt16, v))
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(v)))
	}
	return out
}

// FromPCM16 builds a Buffer from signed 16-bit little-endian PCM.
func FromPCM16(pcm []byte, rate int) *Buffer {
	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(pcm[2*i:]))) / 32768
	}
	return &Buffer{Samples: samples, SampleRate: rate}
}

// ErrEmptyAudio is returned when a file decodes to no samples.
var ErrEmptyAudio = errors.New("audio contains no samples")

// Decoder turns an audio file into a 16 kHz mono Buffer using ffmpeg.
type Decoder struct {
	ffmpegPath string
	runner     commandRunner
}

// NewDecoder creates a Decoder. An empty path resolves ffmpeg from PATH.
func NewDecoder(ffmpegPath string) *Decoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Decoder{ffmpegPath: ffmpegPath, runner: execRunner{}}
}

// Decode reads path and returns its samples.
func (d *Decoder) Decode(ctx context.Context, path string) (*Buffer, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to load audio: %w", err)
	}
	pcm, err := d.runner.Run(ctx, d.ffmpegPath,
		"-nostdin",
		"-threads", "0",
		"-i", path,
		"-f", "s16le",
		"-ac", "1",
		"-acodec", "pcm_s16le",
		"-ar", fmt.Sprint(SampleRate),
		"-",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load audio: %w", err)
	}
	if len(pcm) < 2 {
		return nil, fmt.Errorf("failed to load audio: %w", ErrEmptyAudio)
	}
	return FromPCM16(pcm, SampleRate), nil
}
