package session_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"golang.org/x/text/language"

	"github.com/okian/courtside/internal/domain/model"
	"github.com/okian/courtside/internal/domain/session"
	"github.com/okian/courtside/pkg/logger"
)

func init() {
	_ = logger.Init()
}

// fakeClock hands out tickers that fire only when the test says so.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers map[time.Duration][]*fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		tickers: map[time.Duration][]*fakeTicker{},
	}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *fakeClock) NewTicker(d time.Duration) session.Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTicker{c: make(chan time.Time, 1)}
	f.tickers[d] = append(f.tickers[d], t)
	return t
}

// Tick fires every live ticker of period d. It reports whether one existed.
func (f *fakeClock) Tick(d time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	fired := false
	for _, t := range f.tickers[d] {
		if t.stopped() {
			continue
		}
		select {
		case t.c <- f.now:
		default:
		}
		fired = true
	}
	return fired
}

type fakeTicker struct {
	mu   sync.Mutex
	c    chan time.Time
	done bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.c }

func (t *fakeTicker) Stop() {
	t.mu.Lock()
	t.done = true
	t.mu.Unlock()
}

func (t *fakeTicker) stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

type fakeCapture struct {
	src   *fakeSource
	audio chan []byte
	once  sync.Once
}

func (c *fakeCapture) Frame() ([]byte, bool) { return []byte{0xFF, 0xD8, 0xFF, 0xD9}, true }

func (c *fakeCapture) Audio() <-chan []byte { return c.audio }

func (c *fakeCapture) Release() error {
	c.once.Do(func() { close(c.audio) })
	c.src.mu.Lock()
	c.src.releases++
	c.src.mu.Unlock()
	return nil
}

type fakeSource struct {
	mu       sync.Mutex
	acquires int
	releases int
	devices  []session.Devices
	err      error
	last     *fakeCapture
}

func (s *fakeSource) Acquire(_ context.Context, d session.Devices) (session.Capture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.acquires++
	s.devices = append(s.devices, d)
	s.last = &fakeCapture{src: s, audio: make(chan []byte, 4)}
	return s.last, nil
}

func (s *fakeSource) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquires, s.releases
}

type fakeConn struct {
	mu          sync.Mutex
	inbound     chan session.Message
	fail        chan error
	closed      chan struct{}
	closeOnce   sync.Once
	media       []session.Media
	acks        []session.ToolResponse
	afterClose  int
	closedCount int

	rejectAcks bool
	dropFrames int
	dropped    int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan session.Message, 8),
		fail:    make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) SendMedia(_ context.Context, m session.Media) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed() {
		c.afterClose++
		return errors.New("closed")
	}
	if m.MimeType == session.MimeJPEG && c.dropFrames > 0 {
		c.dropFrames--
		c.dropped++
		return errors.New("write: broken pipe")
	}
	c.media = append(c.media, m)
	return nil
}

func (c *fakeConn) SendToolResponse(_ context.Context, r session.ToolResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed() {
		return errors.New("closed")
	}
	if c.rejectAcks {
		return errors.New("write: broken pipe")
	}
	c.acks = append(c.acks, r)
	return nil
}

func (c *fakeConn) Receive(ctx context.Context) (session.Message, error) {
	select {
	case m := <-c.inbound:
		return m, nil
	case err := <-c.fail:
		return nil, err
	case <-c.closed:
		return nil, errors.New("use of closed connection")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closedCount++
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) mediaOf(mime string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.media {
		if m.MimeType == mime {
			n++
		}
	}
	return n
}

func (c *fakeConn) droppedFrames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

func (c *fakeConn) ackList() []session.ToolResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]session.ToolResponse(nil), c.acks...)
}

type fakeDialer struct {
	mu    sync.Mutex
	dials int
	cfgs  []session.Config
	err   error
	conn  *fakeConn

	rejectAcks bool
	dropFrames int
}

func (d *fakeDialer) Dial(_ context.Context, cfg session.Config) (session.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.cfgs = append(d.cfgs, cfg)
	if d.err != nil {
		return nil, d.err
	}
	d.conn = newFakeConn()
	d.conn.rejectAcks = d.rejectAcks
	d.conn.dropFrames = d.dropFrames
	return d.conn, nil
}

func (d *fakeDialer) current() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn
}

type fakePlayback struct {
	mu       sync.Mutex
	enqueued int
	cleared  int
}

func (p *fakePlayback) Enqueue(session.AudioOut) {
	p.mu.Lock()
	p.enqueued++
	p.mu.Unlock()
}

func (p *fakePlayback) Clear() {
	p.mu.Lock()
	p.cleared++
	p.mu.Unlock()
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

type harness struct {
	ctx        context.Context
	clock      *fakeClock
	source     *fakeSource
	dialer     *fakeDialer
	recoveries int
	results    []*model.AnalysisResult
	errMsgs    []string
	mu         sync.Mutex
	c          *session.Controller
}

func newHarness(opts ...session.Option) *harness {
	h := &harness{
		ctx:    context.Background(),
		clock:  newFakeClock(),
		source: &fakeSource{},
		dialer: &fakeDialer{},
	}
	seq := 0
	base := []session.Option{
		session.WithClock(h.clock),
		session.WithLogger(logger.Nop()),
		session.WithIDGenerator(func() string {
			h.mu.Lock()
			defer h.mu.Unlock()
			seq++
			return fmt.Sprintf("ev-%d", seq)
		}),
		session.WithRecoveryHook(func(context.Context, error) {
			h.mu.Lock()
			h.recoveries++
			h.mu.Unlock()
		}),
		session.WithResultSink(func(_ context.Context, r *model.AnalysisResult) {
			h.mu.Lock()
			h.results = append(h.results, r)
			h.mu.Unlock()
		}),
		session.WithErrorHandler(func(_ error, msg string) {
			h.mu.Lock()
			h.errMsgs = append(h.errMsgs, msg)
			h.mu.Unlock()
		}),
	}
	h.c = session.New(h.source, h.dialer, append(base, opts...)...)
	return h
}

func (h *harness) sinkCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.results)
}

func (h *harness) state() model.SessionState { return h.c.Snapshot().State }

func logEvent(callID string, typ model.EventType, cat model.Category) session.LogEvent {
	return session.LogEvent{
		CallID: callID,
		Name:   model.LogEventFunction,
		Args:   model.LogEventArgs{Type: typ, Category: cat, Description: "shot " + callID},
	}
}

func TestControllerLifecycle(t *testing.T) {
	Convey("Given an idle judge controller", t, func() {
		h := newHarness()
		So(h.state(), ShouldEqual, model.StateIdle)

		Convey("When Open is called twice", func() {
			So(h.c.Open(h.ctx), ShouldBeNil)
			So(h.c.Open(h.ctx), ShouldBeNil)

			Convey("Then the devices are acquired once", func() {
				acq, _ := h.source.counts()
				So(acq, ShouldEqual, 1)
				So(h.state(), ShouldEqual, model.StatePreviewing)
				So(h.source.devices[0], ShouldResemble, session.Devices{Video: true, Audio: true})
			})

			Convey("And Start is called twice", func() {
				So(h.c.Start(h.ctx), ShouldBeNil)
				So(h.c.Start(h.ctx), ShouldBeNil)

				Convey("Then only one connection is dialed", func() {
					So(h.dialer.dials, ShouldEqual, 1)
					So(h.state(), ShouldEqual, model.StateStreaming)
					So(h.c.Snapshot().Active, ShouldBeTrue)
				})

				Reset(func() { _, _ = h.c.Stop(h.ctx) })
			})
		})

		Convey("When Stop is called before streaming", func() {
			So(h.c.Open(h.ctx), ShouldBeNil)
			res, err := h.c.Stop(h.ctx)

			Convey("Then it releases the devices without a result", func() {
				So(err, ShouldBeNil)
				So(res, ShouldBeNil)
				acq, rel := h.source.counts()
				So(acq, ShouldEqual, rel)
				So(h.state(), ShouldEqual, model.StateIdle)
				So(h.sinkCount(), ShouldEqual, 0)
			})
		})

		Convey("When Stop is called while idle", func() {
			res, err := h.c.Stop(h.ctx)

			Convey("Then nothing happens", func() {
				So(err, ShouldBeNil)
				So(res, ShouldBeNil)
			})
		})

		Convey("When Start is called while idle", func() {
			err := h.c.Start(h.ctx)

			Convey("Then the transition is rejected", func() {
				So(errors.Is(err, model.ErrInvalidTransition), ShouldBeTrue)
				So(h.dialer.dials, ShouldEqual, 0)
			})
		})

		Convey("When device access is denied", func() {
			h.source.err = fmt.Errorf("open /dev/video0: %w", model.ErrPermission)
			err := h.c.Open(h.ctx)

			Convey("Then the controller stays idle", func() {
				So(errors.Is(err, model.ErrPermission), ShouldBeTrue)
				So(h.state(), ShouldEqual, model.StateIdle)
			})
		})

		Convey("When a log event arrives while idle", func() {
			err := h.c.Dispatch(h.ctx, logEvent("c1", model.EventSuccess, model.CategoryTiming))

			Convey("Then it is rejected", func() {
				So(errors.Is(err, model.ErrInvalidTransition), ShouldBeTrue)
				So(h.c.Snapshot().Events, ShouldBeEmpty)
			})
		})
	})
}

func TestControllerDialFailures(t *testing.T) {
	Convey("Given a previewing controller", t, func() {
		h := newHarness()
		So(h.c.Open(h.ctx), ShouldBeNil)

		Convey("When the dial reports a missing entity", func() {
			h.dialer.err = model.NotFound(errors.New("handshake: 404"))
			err := h.c.Start(h.ctx)

			Convey("Then recovery runs once and the preview survives", func() {
				So(errors.Is(err, model.ErrConnection), ShouldBeTrue)
				So(errors.Is(err, model.ErrEntityNotFound), ShouldBeTrue)
				So(h.recoveries, ShouldEqual, 1)
				So(h.state(), ShouldEqual, model.StatePreviewing)
			})
		})

		Convey("When the dial fails for another reason", func() {
			h.dialer.err = errors.New("dial tcp: timeout")
			err := h.c.Start(h.ctx)

			Convey("Then the error is a connection error without recovery", func() {
				So(errors.Is(err, model.ErrConnection), ShouldBeTrue)
				So(errors.Is(err, model.ErrEntityNotFound), ShouldBeFalse)
				So(h.recoveries, ShouldEqual, 0)
				So(h.state(), ShouldEqual, model.StatePreviewing)
			})
		})

		Reset(func() { _ = h.c.Close(h.ctx) })
	})
}

func TestControllerStreaming(t *testing.T) {
	Convey("Given a streaming judge session", t, func() {
		h := newHarness(session.WithLanguage(language.Portuguese))
		So(h.c.SetView(model.ViewSide), ShouldNotBeNil)
		So(h.c.Open(h.ctx), ShouldBeNil)
		So(h.c.SetView(model.ViewSide), ShouldBeNil)
		So(h.c.Start(h.ctx), ShouldBeNil)
		conn := h.dialer.current()

		Convey("The negotiated config carries the judge instruction and tool", func() {
			cfg := h.dialer.cfgs[0]
			So(cfg.Mode, ShouldEqual, model.ModeJudge)
			So(cfg.Language, ShouldEqual, "pt")
			So(cfg.SystemInstruction, ShouldContainSubstring, "Visão atual: side")
			So(cfg.SystemInstruction, ShouldContainSubstring, "Precisão de enquadramento: low")
			So(cfg.Tools, ShouldHaveLength, 1)
			So(cfg.Tools[0].Name, ShouldEqual, model.LogEventFunction)
		})

		Convey("When three events are logged", func() {
			h.clock.Advance(5 * time.Second)
			So(h.c.Dispatch(h.ctx, logEvent("c1", model.EventSuccess, model.CategoryTiming)), ShouldBeNil)
			h.clock.Advance(2 * time.Second)
			So(h.c.Dispatch(h.ctx, logEvent("c2", model.EventError, model.CategoryLineCall)), ShouldBeNil)
			So(h.c.Dispatch(h.ctx, logEvent("c3", model.EventSuccess, model.CategoryFootwork)), ShouldBeNil)

			Convey("Then each call is acknowledged", func() {
				acks := conn.ackList()
				So(acks, ShouldHaveLength, 3)
				for i, a := range acks {
					So(a.ID, ShouldEqual, fmt.Sprintf("c%d", i+1))
					So(a.Name, ShouldEqual, model.LogEventFunction)
					So(a.Response["status"], ShouldEqual, "logged")
				}
			})

			Convey("And Stop returns the synthesized result", func() {
				res, err := h.c.Stop(h.ctx)
				So(err, ShouldBeNil)
				So(res, ShouldNotBeNil)
				So(res.ID, ShouldNotBeBlank)
				So(res.SportType, ShouldEqual, session.LiveSportType)
				So(res.Summary.TotalEvents, ShouldEqual, 3)
				So(res.Summary.TotalSuccesses, ShouldEqual, 2)
				So(res.Summary.TotalErrors, ShouldEqual, 1)
				So(res.Summary.SuccessRate, ShouldEqual, 67.0)
				So(res.Summary.ErrorRate, ShouldEqual, 33.0)
				So(res.Events, ShouldHaveLength, 3)
				So(res.Events[0].Timestamp, ShouldEqual, "0:05")
				So(res.Events[1].Timestamp, ShouldEqual, "0:07")
				So(res.Events[2].Timestamp, ShouldEqual, "0:07")
				So(res.Events[0].ID, ShouldEqual, "ev-1")
				So(res.Events[1].IsLineCall, ShouldBeTrue)
				So(res.Consistent(), ShouldBeTrue)

				So(h.state(), ShouldEqual, model.StateIdle)
				So(h.sinkCount(), ShouldEqual, 1)
				acq, rel := h.source.counts()
				So(acq, ShouldEqual, 1)
				So(rel, ShouldEqual, 1)
			})
		})

		Convey("When a log event is missing its category", func() {
			ev := logEvent("bad", model.EventSuccess, "")
			err := h.c.Dispatch(h.ctx, ev)

			Convey("Then it is rejected and not recorded", func() {
				So(errors.Is(err, model.ErrInvalidEvent), ShouldBeTrue)
				So(h.c.Snapshot().Events, ShouldBeEmpty)
				acks := conn.ackList()
				So(acks, ShouldHaveLength, 1)
				So(acks[0].Response["status"], ShouldEqual, "rejected")
			})
		})

		Convey("When transcripts arrive in judge mode", func() {
			So(h.c.Dispatch(h.ctx, session.Transcript{Text: "first"}), ShouldBeNil)
			So(h.c.Dispatch(h.ctx, session.Transcript{Text: "second"}), ShouldBeNil)

			Convey("Then the latest one replaces the buffer", func() {
				So(h.c.Snapshot().Transcript, ShouldEqual, "second")
			})
		})

		Convey("When messages arrive over the connection", func() {
			conn.inbound <- logEvent("w1", model.EventSuccess, model.CategoryTechnique)

			Convey("Then the receive loop applies them", func() {
				So(eventually(func() bool { return len(h.c.Snapshot().Events) == 1 }), ShouldBeTrue)
				So(eventually(func() bool { return len(conn.ackList()) == 1 }), ShouldBeTrue)
			})
		})

		Convey("When frames are sampled", func() {
			So(eventually(func() bool { return h.clock.Tick(time.Second) }), ShouldBeTrue)

			Convey("Then a JPEG frame is sent", func() {
				So(eventually(func() bool { return conn.mediaOf(session.MimeJPEG) >= 1 }), ShouldBeTrue)
			})
		})

		Convey("When microphone audio is captured", func() {
			h.source.last.audio <- []byte{0, 1, 2, 3}

			Convey("Then it is forwarded as 16 kHz PCM", func() {
				So(eventually(func() bool { return conn.mediaOf(session.MimePCM16kHz) == 1 }), ShouldBeTrue)
			})
		})

		Convey("When the connection fails mid-stream", func() {
			conn.fail <- errors.New("socket reset")

			Convey("Then the session goes idle and releases the devices", func() {
				So(eventually(func() bool { return h.state() == model.StateIdle }), ShouldBeTrue)
				So(eventually(func() bool {
					_, rel := h.source.counts()
					return rel == 1
				}), ShouldBeTrue)
				So(errors.Is(h.c.LastError(), model.ErrConnection), ShouldBeTrue)
				So(h.c.Snapshot().LastError, ShouldNotBeBlank)
				So(h.sinkCount(), ShouldEqual, 0)
			})
		})

		Convey("When the stream reports a missing entity", func() {
			err := h.c.Dispatch(h.ctx, session.StreamError{Err: model.NotFound(errors.New("close 1008"))})

			Convey("Then recovery is invoked and the session ends", func() {
				So(err, ShouldBeNil)
				So(h.recoveries, ShouldEqual, 1)
				So(h.state(), ShouldEqual, model.StateIdle)
				h.mu.Lock()
				So(h.errMsgs, ShouldHaveLength, 1)
				So(h.errMsgs[0], ShouldContainSubstring, "Selecione outra chave")
				h.mu.Unlock()
			})
		})

		Convey("When the session is closed instead of stopped", func() {
			So(h.c.Close(h.ctx), ShouldBeNil)

			Convey("Then no result is produced", func() {
				So(h.sinkCount(), ShouldEqual, 0)
				So(h.state(), ShouldEqual, model.StateIdle)
				_, rel := h.source.counts()
				So(rel, ShouldEqual, 1)
			})
		})

		Convey("When Stop is called", func() {
			_, err := h.c.Stop(h.ctx)
			So(err, ShouldBeNil)

			Convey("Then nothing is sent after the connection closed", func() {
				conn.mu.Lock()
				defer conn.mu.Unlock()
				So(conn.afterClose, ShouldEqual, 0)
				So(conn.closedCount, ShouldEqual, 1)
			})

			Convey("And a second Stop is a no-op", func() {
				res, err := h.c.Stop(h.ctx)
				So(err, ShouldBeNil)
				So(res, ShouldBeNil)
				So(h.sinkCount(), ShouldEqual, 1)
			})
		})

		Reset(func() { _ = h.c.Close(h.ctx) })
	})
}

func TestControllerCalibration(t *testing.T) {
	Convey("Given an open preview", t, func() {
		h := newHarness()
		So(h.c.Open(h.ctx), ShouldBeNil)
		So(h.c.Snapshot().Precision, ShouldEqual, model.PrecisionLow)

		Convey("When the calibration step elapses twice", func() {
			So(h.clock.Tick(3*time.Second), ShouldBeTrue)
			So(eventually(func() bool { return h.c.Snapshot().Precision == model.PrecisionMid }), ShouldBeTrue)
			So(h.clock.Tick(3*time.Second), ShouldBeTrue)

			Convey("Then precision reaches high", func() {
				So(eventually(func() bool { return h.c.Snapshot().Precision == model.PrecisionHigh }), ShouldBeTrue)
			})

			Convey("And further steps keep it high", func() {
				So(eventually(func() bool { return h.c.Snapshot().Precision == model.PrecisionHigh }), ShouldBeTrue)
				h.clock.Tick(3 * time.Second)
				time.Sleep(20 * time.Millisecond)
				So(h.c.Snapshot().Precision, ShouldEqual, model.PrecisionHigh)
			})

			Convey("And reopening the preview starts over at low", func() {
				So(eventually(func() bool { return h.c.Snapshot().Precision == model.PrecisionHigh }), ShouldBeTrue)
				So(h.c.Close(h.ctx), ShouldBeNil)
				So(h.c.Open(h.ctx), ShouldBeNil)
				So(h.c.Snapshot().Precision, ShouldEqual, model.PrecisionLow)
			})
		})

		Reset(func() { _ = h.c.Close(h.ctx) })
	})
}

func TestControllerSendFailures(t *testing.T) {
	Convey("Given a session whose connection rejects acks and the first frame", t, func() {
		h := newHarness()
		h.dialer.rejectAcks = true
		h.dialer.dropFrames = 1
		So(h.c.Open(h.ctx), ShouldBeNil)
		So(h.c.Start(h.ctx), ShouldBeNil)
		conn := h.dialer.current()

		Convey("When an event is logged", func() {
			err := h.c.Dispatch(h.ctx, logEvent("c1", model.EventSuccess, model.CategoryTiming))

			Convey("Then the failed ack is swallowed and the event kept", func() {
				So(err, ShouldBeNil)
				So(conn.ackList(), ShouldBeEmpty)
				So(h.state(), ShouldEqual, model.StateStreaming)
				res, err := h.c.Stop(h.ctx)
				So(err, ShouldBeNil)
				So(res.Events, ShouldHaveLength, 1)
				So(res.Events[0].Description, ShouldEqual, "shot c1")
			})
		})

		Convey("When frames are sampled", func() {
			So(eventually(func() bool {
				h.clock.Tick(time.Second)
				return conn.droppedFrames() == 1
			}), ShouldBeTrue)

			Convey("Then the dropped frame is skipped and the next one is sent", func() {
				So(eventually(func() bool {
					h.clock.Tick(time.Second)
					return conn.mediaOf(session.MimeJPEG) >= 1
				}), ShouldBeTrue)
				So(h.state(), ShouldEqual, model.StateStreaming)
			})
		})

		Reset(func() { _ = h.c.Close(h.ctx) })
	})
}

func TestControllerMaxDuration(t *testing.T) {
	Convey("Given a session bounded to ten seconds", t, func() {
		h := newHarness(session.WithMaxDuration(10 * time.Second))
		So(h.c.Open(h.ctx), ShouldBeNil)
		So(h.c.Start(h.ctx), ShouldBeNil)

		Convey("When the bound elapses", func() {
			So(eventually(func() bool { return h.clock.Tick(10 * time.Second) }), ShouldBeTrue)

			Convey("Then the session stops and the result reaches the sink", func() {
				So(eventually(func() bool { return h.sinkCount() == 1 }), ShouldBeTrue)
				So(h.state(), ShouldEqual, model.StateIdle)
			})
		})

		Reset(func() { _ = h.c.Close(h.ctx) })
	})
}

func TestControllerCoachMode(t *testing.T) {
	Convey("Given a streaming coach session", t, func() {
		pb := &fakePlayback{}
		h := newHarness(session.WithMode(model.ModeCoach), session.WithPlayback(pb))
		So(h.c.Open(h.ctx), ShouldBeNil)
		So(h.c.SetMode(model.ModeJudge), ShouldNotBeNil)
		So(h.c.Start(h.ctx), ShouldBeNil)

		Convey("The microphone alone is captured and a voice is requested", func() {
			So(h.source.devices[0], ShouldResemble, session.Devices{Audio: true})
			cfg := h.dialer.cfgs[0]
			So(cfg.Voice, ShouldEqual, "Kore")
			So(cfg.Tools, ShouldBeEmpty)
			So(cfg.SystemInstruction, ShouldContainSubstring, "Live Coach")
		})

		Convey("When transcripts arrive", func() {
			So(h.c.Dispatch(h.ctx, session.Transcript{Text: "Good "}), ShouldBeNil)
			So(h.c.Dispatch(h.ctx, session.Transcript{Text: "footwork"}), ShouldBeNil)

			Convey("Then they are appended", func() {
				So(h.c.Snapshot().Transcript, ShouldEqual, "Good footwork")
			})
		})

		Convey("When audio arrives and the user interrupts", func() {
			So(h.c.Dispatch(h.ctx, session.AudioOut{MimeType: "audio/pcm;rate=24000", Data: []byte{1, 2}}), ShouldBeNil)
			So(h.c.Dispatch(h.ctx, session.Interrupted{}), ShouldBeNil)

			Convey("Then playback is enqueued then cleared", func() {
				pb.mu.Lock()
				defer pb.mu.Unlock()
				So(pb.enqueued, ShouldEqual, 1)
				So(pb.cleared, ShouldEqual, 1)
			})
		})

		Convey("When a log event arrives", func() {
			err := h.c.Dispatch(h.ctx, logEvent("c1", model.EventSuccess, model.CategoryTiming))

			Convey("Then it is rejected", func() {
				So(errors.Is(err, model.ErrInvalidTransition), ShouldBeTrue)
			})
		})

		Reset(func() { _ = h.c.Close(h.ctx) })
	})
}
