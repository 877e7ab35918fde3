package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/text/language"

	"github.com/okian/courtside/internal/domain/model"
	"github.com/okian/courtside/internal/domain/scoring"
	"github.com/okian/courtside/internal/domain/timeline"
	"github.com/okian/courtside/internal/i18n"
	"github.com/okian/courtside/pkg/logger"
	"github.com/okian/courtside/pkg/metrics"
)

// LiveSportType labels results produced by live sessions.
const LiveSportType = "Tennis Live Analysis"

// coachVoice is the prebuilt voice used for spoken coaching.
const coachVoice = "Kore"

// stream holds the handles of one Streaming period.
type stream struct {
	gen         uint64
	conn        Conn
	start       time.Time
	cancel      context.CancelFunc // audio forwarder, receive loop, duration bound
	stopSampler context.CancelFunc
	samplerDone chan struct{}
	audioDone   chan struct{}
	recvDone    chan struct{}
}

// Controller drives one live session at a time through
// Idle -> Previewing -> Streaming -> Finalizing -> Idle.
//
// Lifecycle calls (Open, Start, Stop, Close) are serialized. Inbound traffic
// is applied by Dispatch one message at a time, in arrival order.
type Controller struct {
	source MediaSource
	dialer Dialer

	clock           Clock
	logger          logger.Logger
	lang            language.Tag
	frameInterval   time.Duration
	calibrationStep time.Duration
	maxDuration     time.Duration
	recover         RecoveryHook
	sink            ResultSink
	onError         ErrorHandler
	playback        Playback
	newID           func() string

	ops sync.Mutex

	mu          sync.Mutex
	state       model.SessionState
	mode        model.Mode
	view        model.View
	precision   model.Precision
	transcript  string
	events      []model.PerformanceEvent
	lastErr     error
	capture     Capture
	calibCancel context.CancelFunc
	stream      *stream
	gen         uint64
}

// New creates an idle controller.
func New(source MediaSource, dialer Dialer, opts ...Option) *Controller {
	c := &Controller{
		source:          source,
		dialer:          dialer,
		clock:           SystemClock(),
		logger:          logger.Get().Named("session"),
		lang:            language.English,
		frameInterval:   defaultFrameInterval,
		calibrationStep: defaultCalibrationStep,
		newID:           defaultID,
		state:           model.StateIdle,
		mode:            model.ModeJudge,
		view:            model.ViewBaseline,
		precision:       model.PrecisionLow,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open acquires the capture devices and enters Previewing. It is a no-op
// while Previewing or Streaming. Denied access leaves the controller Idle
// and returns an error wrapping model.ErrPermission.
func (c *Controller) Open(ctx context.Context) error {
	c.ops.Lock()
	defer c.ops.Unlock()

	c.mu.Lock()
	switch c.state {
	case model.StatePreviewing, model.StateStreaming:
		c.mu.Unlock()
		return nil
	case model.StateFinalizing:
		c.mu.Unlock()
		return fmt.Errorf("open: %w", model.ErrInvalidTransition)
	}
	mode := c.mode
	c.mu.Unlock()

	capture, err := c.source.Acquire(ctx, devicesFor(mode))
	if err != nil {
		c.logger.Warn(ctx, "device acquisition failed", logger.String("mode", string(mode)), logger.Error(err))
		return fmt.Errorf("open: %w", err)
	}

	c.mu.Lock()
	c.capture = capture
	c.state = model.StatePreviewing
	c.precision = model.PrecisionLow
	c.lastErr = nil
	c.startCalibration(ctx)
	c.mu.Unlock()

	metrics.UpdateSessionState(string(model.StatePreviewing))
	c.logger.Info(ctx, "preview opened", logger.String("mode", string(mode)))
	return nil
}

// Start dials the remote model and enters Streaming. It is a no-op while
// Streaming. On failure the controller stays in Previewing and the error
// wraps model.ErrConnection; a not-found failure also invokes the recovery
// hook once.
func (c *Controller) Start(ctx context.Context) error {
	c.ops.Lock()
	defer c.ops.Unlock()

	c.mu.Lock()
	switch c.state {
	case model.StateStreaming:
		c.mu.Unlock()
		return nil
	case model.StatePreviewing:
	default:
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("start from %s: %w", state, model.ErrInvalidTransition)
	}
	cfg := c.sessionConfig()
	capture := c.capture
	c.mu.Unlock()

	conn, err := c.dialer.Dial(ctx, cfg)
	if err != nil {
		return c.startFailed(ctx, err)
	}

	c.mu.Lock()
	c.gen++
	s := &stream{gen: c.gen, conn: conn, start: c.clock.Now()}
	c.events = nil
	c.transcript = ""
	c.lastErr = nil
	c.stream = s
	c.state = model.StateStreaming
	c.launch(ctx, s, capture, cfg.Mode)
	c.mu.Unlock()

	metrics.RecordSessionStarted(string(cfg.Mode))
	metrics.UpdateSessionState(string(model.StateStreaming))
	c.logger.Info(ctx, "live session streaming",
		logger.String("mode", string(cfg.Mode)),
		logger.String("view", string(cfg.View)),
		logger.String("precision", string(cfg.Precision)),
	)
	return nil
}

func (c *Controller) startFailed(ctx context.Context, err error) error {
	kind := "dial"
	if errors.Is(err, model.ErrEntityNotFound) {
		kind = "not_found"
		c.invokeRecovery(ctx, err)
	}
	metrics.RecordConnectionError(kind)
	if !errors.Is(err, model.ErrConnection) {
		err = fmt.Errorf("%w: %w", model.ErrConnection, err)
	}
	c.logger.Error(ctx, "live session start failed", logger.String("kind", kind), logger.Error(err))
	return fmt.Errorf("start: %w", err)
}

// Stop ends the session. From Streaming it halts frame sampling, closes the
// connection, releases the devices and returns the synthesized result. From
// Previewing it only releases the devices. While Idle or already finalizing
// it does nothing. Stop never returns an error for those states.
func (c *Controller) Stop(ctx context.Context) (*model.AnalysisResult, error) {
	c.ops.Lock()
	defer c.ops.Unlock()
	return c.stop(ctx, 0)
}

// stop must be called with c.ops held. A non-zero gen limits it to that
// streaming period.
func (c *Controller) stop(ctx context.Context, gen uint64) (*model.AnalysisResult, error) {
	c.mu.Lock()
	switch c.state {
	case model.StateIdle, model.StateFinalizing:
		c.mu.Unlock()
		return nil, nil
	case model.StatePreviewing:
		if gen != 0 {
			c.mu.Unlock()
			return nil, nil
		}
		capture := c.toIdle()
		c.mu.Unlock()
		c.release(ctx, capture)
		metrics.UpdateSessionState(string(model.StateIdle))
		c.logger.Info(ctx, "preview closed before streaming")
		return nil, nil
	}
	s := c.stream
	if s == nil || (gen != 0 && s.gen != gen) {
		c.mu.Unlock()
		return nil, nil
	}
	c.state = model.StateFinalizing
	c.mu.Unlock()
	metrics.UpdateSessionState(string(model.StateFinalizing))

	c.teardown(ctx, s, true)

	c.mu.Lock()
	events := c.events
	c.stream = nil
	capture := c.toIdle()
	c.mu.Unlock()
	c.release(ctx, capture)

	result := scoring.NewResult(events, c.clock.Now())
	result.SportType = LiveSportType
	metrics.UpdateSessionState(string(model.StateIdle))
	c.logger.Info(ctx, "live session finished",
		logger.String("result_id", result.ID),
		logger.Int("events", result.Summary.TotalEvents),
		logger.Duration("elapsed", c.clock.Now().Sub(s.start)),
	)
	if c.sink != nil {
		c.sink(ctx, result)
	}
	return result, nil
}

// Close leaves Previewing (or aborts Streaming) without producing a result.
func (c *Controller) Close(ctx context.Context) error {
	c.ops.Lock()
	defer c.ops.Unlock()

	c.mu.Lock()
	switch c.state {
	case model.StateIdle:
		c.mu.Unlock()
		return nil
	case model.StateFinalizing:
		c.mu.Unlock()
		return fmt.Errorf("close: %w", model.ErrInvalidTransition)
	case model.StateStreaming:
		s := c.stream
		c.stream = nil
		c.state = model.StateFinalizing
		c.mu.Unlock()
		c.teardown(ctx, s, true)
		c.mu.Lock()
	}
	capture := c.toIdle()
	c.mu.Unlock()
	c.release(ctx, capture)
	metrics.UpdateSessionState(string(model.StateIdle))
	c.logger.Info(ctx, "camera closed")
	return nil
}

// toIdle must be called with c.mu held. It returns the capture to release.
func (c *Controller) toIdle() Capture {
	capture := c.capture
	c.capture = nil
	c.state = model.StateIdle
	c.stopCalibration()
	return capture
}

// SetView changes the selected camera angle while Previewing or Streaming.
// The view is sent to the model when streaming starts.
func (c *Controller) SetView(view model.View) error {
	if _, ok := model.ParseView(string(view)); !ok {
		return fmt.Errorf("set view %q: %w", view, model.ErrInvalidTransition)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != model.StatePreviewing && c.state != model.StateStreaming {
		return fmt.Errorf("set view in %s: %w", c.state, model.ErrInvalidTransition)
	}
	c.view = view
	return nil
}

// SetMode switches between judge and coach while Idle.
func (c *Controller) SetMode(mode model.Mode) error {
	if mode != model.ModeJudge && mode != model.ModeCoach {
		return fmt.Errorf("set mode %q: %w", mode, model.ErrInvalidTransition)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != model.StateIdle {
		return fmt.Errorf("set mode in %s: %w", c.state, model.ErrInvalidTransition)
	}
	c.mode = mode
	return nil
}

// Snapshot returns a copy of the session state.
func (c *Controller) Snapshot() model.SessionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	events := make([]model.PerformanceEvent, len(c.events))
	copy(events, c.events)
	snap := model.SessionSnapshot{
		State:      c.state,
		Mode:       c.mode,
		Active:     c.state == model.StateStreaming,
		Precision:  c.precision,
		View:       c.view,
		Transcript: c.transcript,
		Events:     events,
	}
	if c.lastErr != nil {
		snap.LastError = i18n.Localize(c.lastErr, c.lang)
	}
	return snap
}

// LastError returns the error that terminated the previous session, if any.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Dispatch applies one inbound message. Messages that are illegal in the
// current state return model.ErrInvalidTransition.
func (c *Controller) Dispatch(ctx context.Context, msg Message) error {
	return c.dispatch(ctx, 0, msg)
}

// dispatch applies msg to the streaming period gen; zero means the current one.
func (c *Controller) dispatch(ctx context.Context, gen uint64, msg Message) error {
	if se, ok := msg.(StreamError); ok {
		return c.terminate(ctx, gen, se.Err)
	}

	c.mu.Lock()
	s := c.stream
	if c.state != model.StateStreaming || s == nil || (gen != 0 && s.gen != gen) {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("dispatch %T in %s: %w", msg, state, model.ErrInvalidTransition)
	}

	switch m := msg.(type) {
	case Transcript:
		if c.mode == model.ModeCoach {
			c.transcript += m.Text
		} else {
			c.transcript = m.Text
		}
		c.mu.Unlock()
		return nil
	case Interrupted:
		c.mu.Unlock()
		if c.playback != nil {
			c.playback.Clear()
		}
		return nil
	case AudioOut:
		coach := c.mode == model.ModeCoach
		c.mu.Unlock()
		if coach && c.playback != nil {
			c.playback.Enqueue(m)
		}
		return nil
	case LogEvent:
		return c.logEvent(ctx, s, m)
	default:
		c.mu.Unlock()
		metrics.RecordUnrecognizedMessage()
		return fmt.Errorf("dispatch %T: %w", msg, model.ErrUnrecognizedMessage)
	}
}

// logEvent is entered with c.mu held and releases it.
func (c *Controller) logEvent(ctx context.Context, s *stream, m LogEvent) error {
	if m.Name != "" && m.Name != model.LogEventFunction {
		c.mu.Unlock()
		c.ack(ctx, s, m, map[string]any{"status": "error", "error": "unknown function"})
		return fmt.Errorf("function %q: %w", m.Name, model.ErrUnrecognizedMessage)
	}
	if c.mode != model.ModeJudge {
		c.mu.Unlock()
		return fmt.Errorf("log event in %s mode: %w", c.mode, model.ErrInvalidTransition)
	}
	if err := model.Validate(m.Args); err != nil {
		c.mu.Unlock()
		c.ack(ctx, s, m, map[string]any{"status": "rejected", "error": err.Error()})
		return err
	}
	ev := m.Args.Event(c.newID(), timeline.FormatTimestamp(c.clock.Now().Sub(s.start)))
	c.events = append(c.events, ev)
	c.mu.Unlock()

	metrics.RecordEventLogged(string(ev.Type))
	c.logger.Debug(ctx, "event logged",
		logger.String("id", ev.ID),
		logger.String("timestamp", ev.Timestamp),
		logger.String("type", string(ev.Type)),
	)
	c.ack(ctx, s, m, map[string]any{"status": "logged"})
	return nil
}

// ack sends a tool response. Failures are counted and swallowed.
func (c *Controller) ack(ctx context.Context, s *stream, m LogEvent, resp map[string]any) {
	name := m.Name
	if name == "" {
		name = model.LogEventFunction
	}
	if err := s.conn.SendToolResponse(ctx, ToolResponse{ID: m.CallID, Name: name, Response: resp}); err != nil {
		metrics.RecordAckFailure()
		c.logger.Warn(ctx, "tool acknowledgement failed", logger.String("call_id", m.CallID), logger.Error(err))
	}
}

// terminate ends a streaming period after a connection failure.
func (c *Controller) terminate(ctx context.Context, gen uint64, cause error) error {
	if cause == nil {
		cause = errors.New("stream closed")
	}
	if !errors.Is(cause, model.ErrConnection) {
		cause = fmt.Errorf("%w: %w", model.ErrConnection, cause)
	}

	c.mu.Lock()
	s := c.stream
	if c.state != model.StateStreaming || s == nil || (gen != 0 && s.gen != gen) {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("stream error in %s: %w", state, model.ErrInvalidTransition)
	}
	c.stream = nil
	c.lastErr = cause
	c.state = model.StateFinalizing
	c.mu.Unlock()

	// The receive loop itself reports errors with its own gen; it must not
	// wait for itself.
	c.teardown(ctx, s, gen == 0)

	c.mu.Lock()
	capture := c.toIdle()
	c.mu.Unlock()
	c.release(ctx, capture)

	kind := "stream"
	if errors.Is(cause, model.ErrEntityNotFound) {
		kind = "not_found"
		c.invokeRecovery(ctx, cause)
	}
	metrics.RecordConnectionError(kind)
	metrics.UpdateSessionState(string(model.StateIdle))
	c.logger.Error(ctx, "live session terminated", logger.String("kind", kind), logger.Error(cause))
	if c.onError != nil {
		c.onError(cause, i18n.Localize(cause, c.lang))
	}
	return nil
}

// launch starts the streaming goroutines. Must be called with c.mu held.
func (c *Controller) launch(ctx context.Context, s *stream, capture Capture, mode model.Mode) {
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sampleCtx, stopSampler := context.WithCancel(sctx)
	s.cancel = cancel
	s.stopSampler = stopSampler
	s.samplerDone = make(chan struct{})
	s.audioDone = make(chan struct{})
	s.recvDone = make(chan struct{})

	if mode == model.ModeJudge {
		go c.sample(sampleCtx, s, capture)
	} else {
		close(s.samplerDone)
	}
	go c.forwardAudio(sctx, s, capture)
	go c.receive(sctx, s)
	if c.maxDuration > 0 {
		go c.bound(sctx, s)
	}
}

// teardown halts sampling before closing the connection.
func (c *Controller) teardown(ctx context.Context, s *stream, waitReceive bool) {
	s.stopSampler()
	<-s.samplerDone
	s.cancel()
	if err := s.conn.Close(); err != nil {
		c.logger.Debug(ctx, "connection close failed", logger.Error(err))
	}
	<-s.audioDone
	if waitReceive {
		<-s.recvDone
	}
}

func (c *Controller) sample(ctx context.Context, s *stream, capture Capture) {
	defer close(s.samplerDone)
	t := c.clock.NewTicker(c.frameInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			if ctx.Err() != nil {
				return
			}
			frame, ok := capture.Frame()
			if !ok {
				continue
			}
			if err := s.conn.SendMedia(ctx, Media{MimeType: MimeJPEG, Data: frame}); err != nil {
				metrics.RecordFrameDropped()
				c.logger.Debug(ctx, "frame dropped", logger.Error(err))
				continue
			}
			metrics.RecordFrameSent()
		}
	}
}

func (c *Controller) forwardAudio(ctx context.Context, s *stream, capture Capture) {
	defer close(s.audioDone)
	audio := capture.Audio()
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-audio:
			if !ok {
				return
			}
			if err := s.conn.SendMedia(ctx, Media{MimeType: MimePCM16kHz, Data: chunk}); err != nil {
				c.logger.Debug(ctx, "audio chunk dropped", logger.Error(err))
				continue
			}
			metrics.RecordAudioChunk()
		}
	}
}

func (c *Controller) receive(ctx context.Context, s *stream) {
	defer close(s.recvDone)
	for {
		msg, err := s.conn.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, model.ErrUnrecognizedMessage) {
				metrics.RecordUnrecognizedMessage()
				c.logger.Warn(ctx, "inbound message rejected", logger.Error(err))
				continue
			}
			_ = c.dispatch(ctx, s.gen, StreamError{Err: err})
			return
		}
		if err := c.dispatch(ctx, s.gen, msg); err != nil {
			c.logger.Warn(ctx, "inbound message not applied", logger.String("message", fmt.Sprintf("%T", msg)), logger.Error(err))
		}
	}
}

// bound stops the streaming period s once maxDuration has elapsed.
func (c *Controller) bound(ctx context.Context, s *stream) {
	t := c.clock.NewTicker(c.maxDuration)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return
	case <-t.C():
	}
	c.logger.Info(ctx, "maximum session duration reached", logger.Duration("max", c.maxDuration))
	c.ops.Lock()
	defer c.ops.Unlock()
	if _, err := c.stop(ctx, s.gen); err != nil {
		c.logger.Error(ctx, "bounded stop failed", logger.Error(err))
	}
}

// startCalibration advances the precision indicator every calibrationStep
// until it reaches high. Must be called with c.mu held.
func (c *Controller) startCalibration(ctx context.Context) {
	c.stopCalibration()
	cctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.calibCancel = cancel
	t := c.clock.NewTicker(c.calibrationStep)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-cctx.Done():
				return
			case <-t.C():
				c.mu.Lock()
				if cctx.Err() != nil {
					c.mu.Unlock()
					return
				}
				c.precision = c.precision.Next()
				done := c.precision == model.PrecisionHigh
				c.mu.Unlock()
				if done {
					return
				}
			}
		}
	}()
}

// stopCalibration must be called with c.mu held.
func (c *Controller) stopCalibration() {
	if c.calibCancel != nil {
		c.calibCancel()
		c.calibCancel = nil
	}
}

func (c *Controller) release(ctx context.Context, capture Capture) {
	if capture == nil {
		return
	}
	if err := capture.Release(); err != nil {
		c.logger.Warn(ctx, "device release failed", logger.Error(err))
	}
}

func (c *Controller) invokeRecovery(ctx context.Context, err error) {
	if c.recover == nil {
		return
	}
	metrics.RecordRecoveryInvocation()
	c.recover(ctx, err)
}

// sessionConfig must be called with c.mu held.
func (c *Controller) sessionConfig() Config {
	cfg := Config{
		Mode:      c.mode,
		View:      c.view,
		Precision: c.precision,
		Language:  i18n.Code(c.lang),
	}
	if c.mode == model.ModeCoach {
		cfg.SystemInstruction = i18n.Sprintf(c.lang, i18n.KeyCoachInstruction)
		cfg.Voice = coachVoice
		return cfg
	}
	cfg.SystemInstruction = i18n.Sprintf(c.lang, i18n.KeyJudgeInstruction, string(c.view), string(c.precision))
	cfg.Tools = []model.FunctionDeclaration{model.LogEventDeclaration()}
	return cfg
}

func devicesFor(mode model.Mode) Devices {
	if mode == model.ModeCoach {
		return Devices{Audio: true}
	}
	return Devices{Video: true, Audio: true}
}
