package gemini

import (
	"context"
	"net/http"
	"time"

	"github.com/okian/courtside/pkg/logger"
	"github.com/okian/courtside/pkg/retry"
)

// Default analyzer configuration constants.
const (
	DefaultBaseURL     = "https://generativelanguage.googleapis.com"
	DefaultModel       = "gemini-2.5-flash"
	defaultHTTPTimeout = 10 * time.Minute
)

// Option applies a configuration option to the Analyzer.
type Option func(*Analyzer)

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Analyzer) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithBaseURL sets the API root, e.g. an httptest server in tests.
func WithBaseURL(u string) Option {
	return func(a *Analyzer) {
		if u != "" {
			a.baseURL = u
		}
	}
}

// WithModel sets the batch model name.
func WithModel(name string) Option {
	return func(a *Analyzer) {
		if name != "" {
			a.model = name
		}
	}
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(a *Analyzer) {
		a.apiKey = key
	}
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Analyzer) {
		if c != nil {
			a.client = c
		}
	}
}

// WithRetryPolicy replaces the backoff parameters. The classifier is always
// the analyzer's own.
func WithRetryPolicy(p retry.Policy) Option {
	return func(a *Analyzer) {
		a.policy = p
	}
}

// WithRecoveryHook is invoked once when the key or model is not found.
func WithRecoveryHook(h func(ctx context.Context, err error)) Option {
	return func(a *Analyzer) {
		a.recover = h
	}
}

// WithClock replaces time.Now for result dates.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) {
		if now != nil {
			a.now = now
		}
	}
}
