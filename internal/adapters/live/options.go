package live

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/courtside/pkg/logger"
)

// Default dialer configuration constants.
const (
	defaultHandshakeTimeout = 15 * time.Second
	defaultWriteTimeout     = 10 * time.Second
)

// Option applies a configuration option to the Dialer.
type Option func(*Dialer)

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(d *Dialer) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithModel sets the live model name, e.g. "models/gemini-2.5-flash-native-audio-preview-09-2025".
func WithModel(name string) Option {
	return func(d *Dialer) {
		if name != "" {
			d.model = name
		}
	}
}

// WithAPIKey sets the key sent as the "key" query parameter.
func WithAPIKey(key string) Option {
	return func(d *Dialer) {
		d.apiKey = key
	}
}

// WithHandshakeTimeout bounds the websocket upgrade and setup exchange.
func WithHandshakeTimeout(t time.Duration) Option {
	return func(d *Dialer) {
		if t > 0 {
			d.handshakeTimeout = t
		}
	}
}

// WithWriteTimeout bounds each outbound frame.
func WithWriteTimeout(t time.Duration) Option {
	return func(d *Dialer) {
		if t > 0 {
			d.writeTimeout = t
		}
	}
}

// WithWebsocketDialer replaces the underlying websocket dialer.
func WithWebsocketDialer(ws *websocket.Dialer) Option {
	return func(d *Dialer) {
		if ws != nil {
			d.ws = ws
		}
	}
}
