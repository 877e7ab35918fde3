package media

import (
	"context"
	"os/exec"
	"time"

	"github.com/okian/courtside/pkg/logger"
)

// Default capture configuration constants.
const (
	defaultFFmpeg       = "ffmpeg"
	defaultVideoDevice  = "/dev/video0"
	defaultVideoFormat  = "v4l2"
	defaultAudioDevice  = "default"
	defaultAudioFormat  = "pulse"
	defaultLockPath     = "/tmp/courtside-capture.lock"
	defaultFrameRate    = 1
	defaultChunkSamples = 4096
	defaultStartupGrace = 500 * time.Millisecond
)

// CommandFunc builds the capture process. It exists so tests can substitute
// a stand-in for ffmpeg.
type CommandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// Option applies a configuration option to the FFmpegSource.
type Option func(*FFmpegSource)

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *FFmpegSource) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithFFmpegPath sets the ffmpeg binary.
func WithFFmpegPath(path string) Option {
	return func(s *FFmpegSource) {
		if path != "" {
			s.ffmpeg = path
		}
	}
}

// WithVideoDevice sets the camera input and its ffmpeg demuxer (v4l2, avfoundation, dshow).
func WithVideoDevice(device, format string) Option {
	return func(s *FFmpegSource) {
		if device != "" {
			s.videoDevice = device
		}
		if format != "" {
			s.videoFormat = format
		}
	}
}

// WithAudioDevice sets the microphone input and its ffmpeg demuxer (pulse, alsa, avfoundation).
func WithAudioDevice(device, format string) Option {
	return func(s *FFmpegSource) {
		if device != "" {
			s.audioDevice = device
		}
		if format != "" {
			s.audioFormat = format
		}
	}
}

// WithLockPath sets the file lock guarding exclusive device ownership.
func WithLockPath(path string) Option {
	return func(s *FFmpegSource) {
		if path != "" {
			s.lockPath = path
		}
	}
}

// WithFrameRate sets how many JPEG frames per second the camera process emits.
func WithFrameRate(fps int) Option {
	return func(s *FFmpegSource) {
		if fps > 0 {
			s.frameRate = fps
		}
	}
}

// WithChunkSamples sets the number of 16-bit samples per audio chunk.
func WithChunkSamples(n int) Option {
	return func(s *FFmpegSource) {
		if n > 0 {
			s.chunkSamples = n
		}
	}
}

// WithStartupGrace sets how long a process must survive to count as started.
func WithStartupGrace(d time.Duration) Option {
	return func(s *FFmpegSource) {
		if d > 0 {
			s.startupGrace = d
		}
	}
}

// WithCommand replaces process construction.
func WithCommand(fn CommandFunc) Option {
	return func(s *FFmpegSource) {
		if fn != nil {
			s.command = fn
		}
	}
}
