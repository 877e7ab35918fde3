package session

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"

	"github.com/okian/courtside/internal/domain/model"
	"github.com/okian/courtside/pkg/logger"
)

// Default controller configuration constants.
const (
	defaultFrameInterval   = time.Second
	defaultCalibrationStep = 3 * time.Second
)

// Option applies a configuration option to the Controller.
type Option func(*Controller)

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(clock Clock) Option {
	return func(c *Controller) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithFrameInterval sets the camera sampling cadence.
func WithFrameInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.frameInterval = d
		}
	}
}

// WithCalibrationStep sets the dwell time per precision level.
func WithCalibrationStep(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.calibrationStep = d
		}
	}
}

// WithMaxDuration stops a session after d of streaming. Zero means unbounded.
func WithMaxDuration(d time.Duration) Option {
	return func(c *Controller) {
		if d >= 0 {
			c.maxDuration = d
		}
	}
}

// WithRecoveryHook sets the credential reselection hook.
func WithRecoveryHook(h RecoveryHook) Option {
	return func(c *Controller) {
		c.recover = h
	}
}

// WithResultSink sets the receiver of finished results.
func WithResultSink(s ResultSink) Option {
	return func(c *Controller) {
		c.sink = s
	}
}

// WithErrorHandler sets the receiver of session-terminating errors.
func WithErrorHandler(h ErrorHandler) Option {
	return func(c *Controller) {
		c.onError = h
	}
}

// WithPlayback sets the voice playback buffer used in coach mode.
func WithPlayback(p Playback) Option {
	return func(c *Controller) {
		c.playback = p
	}
}

// WithLanguage sets the language of instructions and user-facing errors.
func WithLanguage(tag language.Tag) Option {
	return func(c *Controller) {
		c.lang = tag
	}
}

// WithMode sets the initial session mode.
func WithMode(m model.Mode) Option {
	return func(c *Controller) {
		if m == model.ModeJudge || m == model.ModeCoach {
			c.mode = m
		}
	}
}

// WithIDGenerator replaces uuid generation for event ids.
func WithIDGenerator(gen func() string) Option {
	return func(c *Controller) {
		if gen != nil {
			c.newID = gen
		}
	}
}

func defaultID() string { return uuid.NewString() }
