package model

import (
	"errors"
)

// Error taxonomy shared by the session, transports and the batch analyzer.
var (
	// ErrPermission means camera or microphone access was denied.
	ErrPermission = errors.New("device permission denied")
	// ErrConnection covers session establishment and mid-stream failures.
	ErrConnection = errors.New("connection failed")
	// ErrEntityNotFound means the remote service rejected the credentials or
	// model; callers should reselect a key. Always reported with ErrConnection.
	ErrEntityNotFound = errors.New("requested entity was not found")
	// ErrParse means the remote service returned malformed JSON.
	ErrParse = errors.New("malformed response")
	// ErrRateLimit means the remote service is throttling us.
	ErrRateLimit = errors.New("rate limited")
	// ErrInvalidTransition rejects operations illegal in the current state.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrUnrecognizedMessage rejects inbound payloads of unknown shape.
	ErrUnrecognizedMessage = errors.New("unrecognized message")
	// ErrInvalidEvent rejects events that fail validation.
	ErrInvalidEvent = errors.New("invalid event")
)

// NotFound returns err marked as both a connection and a not-found failure.
func NotFound(err error) error {
	if err == nil {
		return errors.Join(ErrConnection, ErrEntityNotFound)
	}
	return errors.Join(ErrConnection, ErrEntityNotFound, err)
}
