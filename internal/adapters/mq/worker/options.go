package worker

import (
	"github.com/okian/courtside/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithResultHook is called after each completed analysis.
func WithResultHook(h ResultHook) Option {
	return func(w *InMemoryWorker) {
		w.onResult = h
	}
}

// WithFailureHook is called after each failed analysis.
func WithFailureHook(h FailureHook) Option {
	return func(w *InMemoryWorker) {
		w.onFailure = h
	}
}

func withCounters(c *counters) Option {
	return func(w *InMemoryWorker) {
		w.stats = c
	}
}
