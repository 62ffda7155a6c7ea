package audio

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrInvalidAudioFile is returned for uploads with an unsupported name or extension.
var ErrInvalidAudioFile = errors.New("Invalid audio file") //nolint:staticcheck // surfaced verbatim to callers

// ErrFileTooLarge is returned when an upload exceeds the configured limit.
var ErrFileTooLarge = errors.New("audio file too large")

const (
	maxFilenameLen = 128
	stagePrefix    = "stt_"
)

var (
	unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
	allowedExtensions   = map[string]bool{".wav": true, ".mp3": true}
)

// SanitizeFilename replaces runs of unsafe characters with "_" and truncates
// the result to 128 characters.
func SanitizeFilename(name string) string {
	name = unsafeFilenameChars.ReplaceAllString(filepath.Base(strings.TrimSpace(name)), "_")
	if len(name) > maxFilenameLen {
		name = name[:maxFilenameLen]
	}
	return name
}

// Stager writes uploads into a directory shared with the workers.
type Stager struct {
	dir      string
	maxBytes int64
}

// NewStager creates a Stager rooted at dir. maxBytes <= 0 disables the size limit.
func NewStager(dir string, maxBytes int64) *Stager {
	return &Stager{dir: dir, maxBytes: maxBytes}
}

// Dir returns the staging directory.
func (s *Stager) Dir() string { return s.dir }

// Stage copies r into a new stt_*.<ext> file and returns its path. On error
// nothing is left on disk.
func (s *Stager) Stage(filename string, r io.Reader) (path string, err error) {
	clean := SanitizeFilename(filename)
	ext := strings.ToLower(filepath.Ext(clean))
	if clean == "" || clean == "." || !allowedExtensions[ext] {
		return "", ErrInvalidAudioFile
	}

	if mkErr := os.MkdirAll(s.dir, 0o750); mkErr != nil {
		return "", fmt.Errorf("create staging dir: %w", mkErr)
	}
	f, err := os.CreateTemp(s.dir, stagePrefix+"*"+ext)
	if err != nil {
		return "", fmt.Errorf("create staged file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close staged file: %w", cerr)
		}
		if err != nil {
			_ = os.Remove(f.Name())
		}
	}()

	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, s.maxBytes+1)
	}
	n, err := io.Copy(f, src)
	if err != nil {
		return "", fmt.Errorf("write staged file: %w", err)
	}
	if s.maxBytes > 0 && n > s.maxBytes {
		return "", ErrFileTooLarge
	}
	if n == 0 {
		return "", ErrInvalidAudioFile
	}
	return f.Name(), nil
}

// Remove deletes a staged file. A file that is already gone is not an error.
func Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove audio file: %w", err)
	}
	return nil
}
