// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Loaders accept context.Context as the first parameter.
// - Validation failures wrap ErrInvalidConfig.
package config

import (
	"runtime"
	"time"

	"github.com/okian/courtside/pkg/retry"
)

// Config contains process configuration shared by the server and the CLI.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects text or json log output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// Language is the default language for analyses and user-facing messages (en, pt).
	Language string `koanf:"language"`

	// APIKey authenticates against the remote model service.
	APIKey string `koanf:"api_key"`

	// LiveModel and BatchModel name the remote models for streaming and upload analysis.
	LiveModel  string `koanf:"live_model"`
	BatchModel string `koanf:"batch_model"`

	// LiveURL is the websocket endpoint of the streaming service.
	LiveURL string `koanf:"live_url"`

	// APIBaseURL is the REST base of the batch service.
	APIBaseURL string `koanf:"api_base_url"`

	// FrameIntervalMS is the camera sampling cadence while streaming.
	FrameIntervalMS int `koanf:"frame_interval_ms"`

	// CalibrationStepMS is the dwell time per precision level.
	CalibrationStepMS int `koanf:"calibration_step_ms"`

	// MaxSessionSeconds stops a live session after this long; 0 disables the bound.
	MaxSessionSeconds int `koanf:"max_session_seconds"`

	// Retry policy for remote batch calls.
	RetryAttempts int `koanf:"retry_attempts"`
	RetryBaseMS   int `koanf:"retry_base_ms"`
	RetryMaxMS    int `koanf:"retry_max_ms"`
	RetryJitterMS int `koanf:"retry_jitter_ms"`

	// QueueSize bounds the in-memory analysis queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of analysis workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize sets the size of the upload deduplication cache.
	DedupeSize int `koanf:"dedupe_size"`

	// MaxUploadMB caps multipart uploads.
	MaxUploadMB int `koanf:"max_upload_mb"`

	// PersistBackend selects result persistence: none, postgrest, sqlite.
	PersistBackend string `koanf:"persist_backend"`
	SupabaseURL    string `koanf:"supabase_url"`
	SupabaseKey    string `koanf:"supabase_key"`
	HistoryDB      string `koanf:"history_db"`

	// Capture devices and ffmpeg input formats.
	VideoDevice string `koanf:"video_device"`
	AudioDevice string `koanf:"audio_device"`
	VideoFormat string `koanf:"video_format"`
	AudioFormat string `koanf:"audio_format"`
	DeviceLock  string `koanf:"device_lock"`
	FFmpegPath  string `koanf:"ffmpeg_path"`

	// OutputDevice receives the coach's voice, muxed as AudioFormat.
	OutputDevice string `koanf:"output_device"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:          "info",
		LogFormat:         "text",
		Addr:              ":9080",
		Language:          "en",
		LiveModel:         "models/gemini-2.5-flash-native-audio-preview-09-2025",
		BatchModel:        "gemini-2.5-flash",
		LiveURL:           "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent",
		APIBaseURL:        "https://generativelanguage.googleapis.com",
		FrameIntervalMS:   1000,
		CalibrationStepMS: 3000,
		MaxSessionSeconds: 0,
		RetryAttempts:     6,
		RetryBaseMS:       3000,
		RetryMaxMS:        60_000,
		RetryJitterMS:     2000,
		QueueSize:         64,
		WorkerCount:       runtime.NumCPU(),
		DedupeSize:        1024,
		MaxUploadMB:       200,
		PersistBackend:    "none",
		HistoryDB:         "courtside.db",
		VideoDevice:       "/dev/video0",
		AudioDevice:       "default",
		VideoFormat:       "v4l2",
		AudioFormat:       "pulse",
		DeviceLock:        "/tmp/courtside-capture.lock",
		FFmpegPath:        "ffmpeg",
		OutputDevice:      "default",
	}
}

// FrameInterval returns the sampling cadence as a duration.
func (c *Config) FrameInterval() time.Duration {
	return time.Duration(c.FrameIntervalMS) * time.Millisecond
}

// CalibrationStep returns the precision dwell time as a duration.
func (c *Config) CalibrationStep() time.Duration {
	return time.Duration(c.CalibrationStepMS) * time.Millisecond
}

// MaxSession returns the live session bound; zero means unbounded.
func (c *Config) MaxSession() time.Duration {
	return time.Duration(c.MaxSessionSeconds) * time.Second
}

// RetryBase returns the first retry delay.
func (c *Config) RetryBase() time.Duration {
	return time.Duration(c.RetryBaseMS) * time.Millisecond
}

// RetryMax caps a single retry delay.
func (c *Config) RetryMax() time.Duration {
	return time.Duration(c.RetryMaxMS) * time.Millisecond
}

// RetryJitter bounds the random delay added to each retry.
func (c *Config) RetryJitter() time.Duration {
	return time.Duration(c.RetryJitterMS) * time.Millisecond
}

// RetryPolicy returns the backoff parameters for remote batch calls. The
// caller supplies the error classifier.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.RetryAttempts,
		BaseDelay:   c.RetryBase(),
		MaxDelay:    c.RetryMax(),
		Jitter:      c.RetryJitter(),
	}
}
