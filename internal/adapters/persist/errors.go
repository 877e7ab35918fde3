package persist

import "errors"

// Sentinel kinds for persistence errors.
var (
	ErrUnknownBackend = errors.New("unknown persistence backend")
	ErrNotConfigured  = errors.New("persistence backend not configured")
	ErrClosed         = errors.New("persister closed")
)
