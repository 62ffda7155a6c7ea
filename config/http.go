package config

import "strings"

// HTTPConfig contains HTTP API configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// RootPath prefixes every API route.
	RootPath string `env:"HTTP_ROOT_PATH" envDefault:"/api/v1"`

	// MaxConnections caps concurrently accepted connections (0 disables the cap).
	MaxConnections int `env:"HTTP_MAX_CONNECTIONS" envDefault:"256"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	h.RootPath = "/" + strings.Trim(strings.TrimSpace(h.RootPath), "/")
	if h.RootPath == "/" {
		h.RootPath = ""
	}
	if h.MaxConnections < 0 {
		h.MaxConnections = 0
	}
}

// UploadConfig controls how uploaded audio is staged before a worker picks it up.
type UploadConfig struct {
	// TempDir must be shared between the API and the workers.
	TempDir string `env:"TRANSCRIBE_TMP_DIR" envDefault:"/tmp/transcribe"`

	// MaxBytes bounds a single upload.
	MaxBytes int64 `env:"UPLOAD_MAX_BYTES" envDefault:"524288000"`

	// FFprobePath reads the duration of compressed uploads.
	FFprobePath string `env:"FFPROBE_PATH" envDefault:"ffprobe"`
}

// Sanitize applies guardrails to upload configuration values.
func (u *UploadConfig) Sanitize() {
	if strings.TrimSpace(u.TempDir) == "" {
		u.TempDir = "/tmp/transcribe"
	}
	if u.MaxBytes <= 0 {
		u.MaxBytes = 500 << 20
	}
}
