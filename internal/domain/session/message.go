package session

import (
	"github.com/okian/courtside/internal/domain/model"
)

// Message is an inbound message from the live model. The set of variants is
// closed: Transcript, LogEvent, Interrupted, AudioOut, StreamError.
type Message interface {
	isMessage()
}

// Transcript carries partial transcription of the model's speech.
type Transcript struct {
	Text string
}

// LogEvent is a function call asking us to record one performance event.
type LogEvent struct {
	CallID string
	Name   string
	Args   model.LogEventArgs
}

// Interrupted signals that the user spoke over the model.
type Interrupted struct{}

// AudioOut is a chunk of the model's voice.
type AudioOut struct {
	MimeType string
	Data     []byte
}

// StreamError is a terminal connection failure.
type StreamError struct {
	Err error
}

func (Transcript) isMessage()  {}
func (LogEvent) isMessage()    {}
func (Interrupted) isMessage() {}
func (AudioOut) isMessage()    {}
func (StreamError) isMessage() {}
