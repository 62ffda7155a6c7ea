package config

import (
	"strings"
	"time"
)

// InferenceConfig configures the model sidecars used by the worker.
type InferenceConfig struct {
	// ASRURL is the base URL of the speech recognition / alignment sidecar.
	ASRURL string `env:"INFERENCE_ASR_URL" envDefault:"http://localhost:9000"`

	// DiarizationURL is the base URL of the diarization sidecar. Empty reuses ASRURL.
	DiarizationURL string `env:"INFERENCE_DIARIZATION_URL" envDefault:""`

	Device       string `env:"DEVICE"        envDefault:"cpu"`
	ComputeType  string `env:"COMPUTE_TYPE"  envDefault:"float16"`
	DownloadRoot string `env:"DOWNLOAD_ROOT" envDefault:"models"`
	BatchSize    int    `env:"BATCH_SIZE"    envDefault:"4"`
	ChunkSize    int    `env:"CHUNK_SIZE"    envDefault:"10"`

	// FFmpegPath decodes staged audio before it is sent to the sidecars.
	FFmpegPath string `env:"FFMPEG_PATH" envDefault:"ffmpeg"`

	// HFToken authorizes the diarization model download.
	HFToken string `env:"HF_TOKEN"`

	// PreloadModels lists ASR models loaded when a worker process starts.
	PreloadModels []string `env:"PRELOAD_MODELS" envDefault:"small"`

	// PreloadAll additionally warms every alignment language and the diarization pipeline.
	PreloadAll bool `env:"PRELOAD_ALL" envDefault:"false"`

	// Timeout bounds a single sidecar request.
	Timeout time.Duration `env:"INFERENCE_TIMEOUT" envDefault:"9m"`
}

// Sanitize applies guardrails to inference configuration values.
func (c *InferenceConfig) Sanitize() {
	c.ASRURL = strings.TrimRight(strings.TrimSpace(c.ASRURL), "/")
	c.DiarizationURL = strings.TrimRight(strings.TrimSpace(c.DiarizationURL), "/")
	if c.DiarizationURL == "" {
		c.DiarizationURL = c.ASRURL
	}
	if c.BatchSize < 1 {
		c.BatchSize = 1
	}
	if c.ChunkSize < 1 {
		c.ChunkSize = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = 9 * time.Minute
	}
	models := c.PreloadModels[:0]
	for _, m := range c.PreloadModels {
		if m = strings.TrimSpace(m); m != "" {
			models = append(models, m)
		}
	}
	c.PreloadModels = models
}
