// Package live connects a session to the remote streaming model over a
// websocket.
package live

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/courtside/internal/domain/model"
	"github.com/okian/courtside/internal/domain/session"
	"github.com/okian/courtside/pkg/logger"
)

// DefaultModel is the native-audio live model.
const DefaultModel = "models/gemini-2.5-flash-native-audio-preview-09-2025"

// Dialer opens live sessions against a BidiGenerateContent endpoint.
type Dialer struct {
	endpoint         string
	model            string
	apiKey           string
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	ws               *websocket.Dialer
	logger           logger.Logger
}

// NewDialer creates a dialer for endpoint (ws:// or wss://).
func NewDialer(endpoint string, opts ...Option) *Dialer {
	d := &Dialer{
		endpoint:         endpoint,
		model:            DefaultModel,
		handshakeTimeout: defaultHandshakeTimeout,
		writeTimeout:     defaultWriteTimeout,
		logger:           logger.Get().Named("live"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.ws == nil {
		d.ws = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: d.handshakeTimeout,
		}
	}
	return d
}

// Dial upgrades the connection, sends the setup frame and waits for the
// server to confirm it.
func (d *Dialer) Dial(ctx context.Context, cfg session.Config) (session.Conn, error) {
	target, err := d.url()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrConnection, err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.handshakeTimeout)
	defer cancel()

	ws, resp, err := d.ws.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, model.NotFound(fmt.Errorf("handshake: %s", resp.Status))
		}
		return nil, fmt.Errorf("%w: dial: %w", model.ErrConnection, err)
	}

	c := &conn{ws: ws, writeTimeout: d.writeTimeout, logger: d.logger}

	frame, err := encodeSetup(d.model, cfg)
	if err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("%w: encode setup: %w", model.ErrConnection, err)
	}
	if err := c.write(ctx, frame); err != nil {
		_ = ws.Close()
		return nil, err
	}
	if err := c.awaitSetup(ctx); err != nil {
		_ = ws.Close()
		return nil, err
	}

	d.logger.Info(ctx, "live connection established",
		logger.String("model", d.model),
		logger.String("mode", string(cfg.Mode)),
		logger.Int("tools", len(cfg.Tools)),
	)
	return c, nil
}

func (d *Dialer) url() (string, error) {
	u, err := url.Parse(d.endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("endpoint scheme %q is not ws or wss", u.Scheme)
	}
	if d.apiKey != "" {
		q := u.Query()
		q.Set("key", d.apiKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// conn is one established live session. Writes are serialized; Receive
// must be called from a single goroutine.
type conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	logger       logger.Logger

	writeMu sync.Mutex
	pending []session.Message

	closeOnce sync.Once
	closeErr  error
}

func (c *conn) awaitSetup(ctx context.Context) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.ws.SetReadDeadline(dl)
		defer func() { _ = c.ws.SetReadDeadline(time.Time{}) }()
	}
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return classify(err)
		}
		if strings.Contains(string(raw), `"setupComplete"`) {
			return nil
		}
		msgs, err := decode(raw)
		if err != nil {
			c.logger.Warn(ctx, "frame before setup completed", logger.Error(err))
			continue
		}
		c.pending = append(c.pending, msgs...)
	}
}

func (c *conn) SendMedia(ctx context.Context, m session.Media) error {
	frame, err := encodeMedia(m)
	if err != nil {
		return fmt.Errorf("encode media: %w", err)
	}
	return c.write(ctx, frame)
}

func (c *conn) SendToolResponse(ctx context.Context, r session.ToolResponse) error {
	frame, err := encodeToolResponse(r)
	if err != nil {
		return fmt.Errorf("encode tool response: %w", err)
	}
	return c.write(ctx, frame)
}

// Receive returns the next inbound message. A single server frame may carry
// several messages; they are returned in order across calls.
func (c *conn) Receive(ctx context.Context) (session.Message, error) {
	for len(c.pending) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return nil, classify(err)
		}
		msgs, err := decode(raw)
		if err != nil {
			return nil, err
		}
		c.pending = msgs
	}
	msg := c.pending[0]
	c.pending = c.pending[1:]
	return msg, nil
}

func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

func (c *conn) write(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(c.writeTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("%w: write: %w", model.ErrConnection, err)
	}
	return nil
}

// classify maps read failures onto the error taxonomy. A close whose reason
// says the entity was not found means the key or model must be reselected.
func classify(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) && strings.Contains(strings.ToLower(ce.Text), "not found") {
		return model.NotFound(err)
	}
	return fmt.Errorf("%w: %w", model.ErrConnection, err)
}
