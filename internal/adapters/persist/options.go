package persist

import (
	"time"

	"github.com/okian/courtside/pkg/logger"
)

const defaultSaveTimeout = 15 * time.Second

// Option configures an Async dispatcher.
type Option func(*Async)

// WithSaveTimeout bounds each background save.
func WithSaveTimeout(d time.Duration) Option {
	return func(a *Async) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Async) {
		if l != nil {
			a.logger = l
		}
	}
}
