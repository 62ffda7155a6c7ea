package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Metadata is best-effort information about an audio file. Nil fields could not be computed.
type Metadata struct {
	DurationSeconds *float64
	FileSizeBytes   *int64
}

// ErrInvalidWAV is returned for files without a readable RIFF/WAVE header.
var ErrInvalidWAV = errors.New("invalid wav header")

// Prober computes audio duration and size.
type Prober struct {
	ffprobePath string
	runner      commandRunner
	logger      *slog.Logger
}

// NewProber creates a Prober. An empty path resolves ffprobe from PATH.
func NewProber(ffprobePath string, logger *slog.Logger) *Prober {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{ffprobePath: ffprobePath, runner: execRunner{}, logger: logger.With("component", "audio_prober")}
}

// Probe never fails: errors are logged and the corresponding field is left nil.
func (p *Prober) Probe(ctx context.Context, path string) Metadata {
	var md Metadata
	if d, err := p.Duration(ctx, path); err != nil {
		p.logger.WarnContext(ctx, "could not determine audio duration", "path", path, "error", err)
	} else {
		md.DurationSeconds = &d
	}
	if s, err := FileSize(path); err != nil {
		p.logger.WarnContext(ctx, "could not determine audio size", "path", path, "error", err)
	} else {
		md.FileSizeBytes = &s
	}
	return md
}

// Duration returns the length of path in seconds. WAV headers are parsed
// directly; other formats are measured with ffprobe.
func (p *Prober) Duration(ctx context.Context, path string) (float64, error) {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		f, err := os.Open(path)
		if err != nil {
			return 0, err
		}
		defer f.Close()
		return WAVDuration(f)
	}

	out, err := p.runner.Run(ctx, p.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration: %w", err)
	}
	d, err := strconv.ParseFloat(string(bytes.TrimSpace(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffprobe duration %q: %w", bytes.TrimSpace(out), err)
	}
	return d, nil
}

// WAVDuration computes frames / sample rate from a RIFF/WAVE stream.
func WAVDuration(r io.Reader) (float64, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidWAV, err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return 0, ErrInvalidWAV
	}

	var (
		sampleRate uint32
		blockAlign uint16
	)
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return 0, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
		}
		id := string(hdr[0:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))

		switch id {
		case "fmt ":
			if size < 16 {
				return 0, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
			}
			var fmtChunk [16]byte
			if _, err := io.ReadFull(r, fmtChunk[:]); err != nil {
				return 0, fmt.Errorf("%w: %w", ErrInvalidWAV, err)
			}
			sampleRate = binary.LittleEndian.Uint32(fmtChunk[4:8])
			blockAlign = binary.LittleEndian.Uint16(fmtChunk[12:14])
			size -= 16
		case "data":
			if sampleRate == 0 || blockAlign == 0 {
				return 0, fmt.Errorf("%w: data before fmt", ErrInvalidWAV)
			}
			frames := size / int64(blockAlign)
			return float64(frames) / float64(sampleRate), nil
		}

		// Chunks are word aligned.
		if size%2 == 1 {
			size++
		}
		if _, err := io.CopyN(io.Discard, r, size); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrInvalidWAV, err)
		}
	}
}

// FileSize returns the size of path in bytes.
func FileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
