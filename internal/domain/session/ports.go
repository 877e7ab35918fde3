// Package session runs a live judge (or voice coach) session against the
// remote streaming model: device capture, frame sampling, audio forwarding,
// inbound message dispatch and result synthesis on stop.
package session

import (
	"context"
	"time"

	"github.com/okian/courtside/internal/domain/model"
)

// Mime types of outbound media.
const (
	MimeJPEG     = "image/jpeg"
	MimePCM16kHz = "audio/pcm;rate=16000"
)

// Devices selects what a capture must open.
type Devices struct {
	Video bool
	Audio bool
}

// Capture is an acquired camera/microphone handle. It is owned by the
// controller until Release.
type Capture interface {
	// Frame returns the most recent encoded JPEG frame, if any.
	Frame() ([]byte, bool)
	// Audio delivers 16 kHz mono PCM chunks. It is closed on Release.
	Audio() <-chan []byte
	// Release stops capture and frees the devices.
	Release() error
}

// MediaSource acquires capture devices. Denied access is reported as
// model.ErrPermission.
type MediaSource interface {
	Acquire(ctx context.Context, devices Devices) (Capture, error)
}

// Config is what the controller asks the dialer to negotiate.
type Config struct {
	Mode              model.Mode
	View              model.View
	Precision         model.Precision
	Language          string
	SystemInstruction string
	Tools             []model.FunctionDeclaration
	// Voice names a prebuilt voice for spoken replies; empty keeps the default.
	Voice string
}

// Media is one outbound realtime chunk.
type Media struct {
	MimeType string
	Data     []byte
}

// ToolResponse acknowledges a function call.
type ToolResponse struct {
	ID       string
	Name     string
	Response map[string]any
}

// Dialer opens duplex connections to the remote model.
type Dialer interface {
	// Dial establishes a session. Failures wrap model.ErrConnection, and
	// additionally model.ErrEntityNotFound when the key or model is unknown.
	Dial(ctx context.Context, cfg Config) (Conn, error)
}

// Conn is an established duplex session.
type Conn interface {
	SendMedia(ctx context.Context, m Media) error
	SendToolResponse(ctx context.Context, r ToolResponse) error
	// Receive blocks for the next inbound message. Payloads of unknown shape
	// are reported as model.ErrUnrecognizedMessage without closing the
	// connection; any other error is terminal.
	Receive(ctx context.Context) (Message, error)
	Close() error
}

// Ticker delivers ticks until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock supplies time to the controller.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// RecoveryHook asks the user to reselect credentials after a not-found failure.
type RecoveryHook func(ctx context.Context, err error)

// ResultSink receives every finished result, including those of sessions
// stopped by the duration bound.
type ResultSink func(ctx context.Context, r *model.AnalysisResult)

// ErrorHandler is told about session-terminating errors together with a
// localized message for the user.
type ErrorHandler func(err error, message string)

// Playback buffers model audio for local playback (voice coach).
type Playback interface {
	Enqueue(chunk AudioOut)
	Clear()
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} }

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return realClock{} }
