// Package media captures camera frames and microphone audio through ffmpeg
// child processes.
package media

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/okian/courtside/internal/domain/model"
	"github.com/okian/courtside/internal/domain/session"
	"github.com/okian/courtside/pkg/logger"
)

const (
	maxFrameBytes = 8 << 20
	stderrTail    = 4 << 10
	stopGrace     = 2 * time.Second
)

// FFmpegSource acquires devices by spawning one ffmpeg process per device.
// A file lock makes ownership exclusive across sessions and processes.
type FFmpegSource struct {
	ffmpeg       string
	videoDevice  string
	videoFormat  string
	audioDevice  string
	audioFormat  string
	lockPath     string
	frameRate    int
	chunkSamples int
	startupGrace time.Duration
	command      CommandFunc
	logger       logger.Logger
}

var _ session.MediaSource = (*FFmpegSource)(nil)

// NewFFmpegSource creates a source with Linux defaults (v4l2 camera, pulse microphone).
func NewFFmpegSource(opts ...Option) *FFmpegSource {
	s := &FFmpegSource{
		ffmpeg:       defaultFFmpeg,
		videoDevice:  defaultVideoDevice,
		videoFormat:  defaultVideoFormat,
		audioDevice:  defaultAudioDevice,
		audioFormat:  defaultAudioFormat,
		lockPath:     defaultLockPath,
		frameRate:    defaultFrameRate,
		chunkSamples: defaultChunkSamples,
		startupGrace: defaultStartupGrace,
		command:      exec.CommandContext,
		logger:       logger.Get().Named("media"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Acquire starts the requested capture processes. A process that dies during
// the startup grace period fails the acquisition; permission problems are
// reported as model.ErrPermission.
func (s *FFmpegSource) Acquire(ctx context.Context, d session.Devices) (session.Capture, error) {
	if !d.Video && !d.Audio {
		return nil, errors.New("acquire: no devices requested")
	}
	lock := flock.New(s.lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire device lock: %w", err)
	}
	if !ok {
		return nil, ErrDeviceBusy
	}

	pctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &capture{
		lock:   lock,
		cancel: cancel,
		audio:  make(chan []byte, 8),
		logger: s.logger,
	}

	if d.Video {
		p, err := s.start(pctx, "camera", s.VideoArgs(), func(r io.Reader) { c.readFrames(r) })
		if err != nil {
			_ = c.Release()
			return nil, err
		}
		c.procs = append(c.procs, p)
	}
	if d.Audio {
		chunk := s.chunkSamples * 2
		p, err := s.start(pctx, "microphone", s.AudioArgs(), func(r io.Reader) { c.readAudio(pctx, r, chunk) })
		if err != nil {
			_ = c.Release()
			return nil, err
		}
		c.procs = append(c.procs, p)
	}

	s.logger.Info(ctx, "capture started",
		logger.Bool("video", d.Video),
		logger.Bool("audio", d.Audio),
		logger.String("lock", s.lockPath),
	)
	return c, nil
}

// VideoArgs returns the ffmpeg arguments for JPEG frames on stdout.
func (s *FFmpegSource) VideoArgs() []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", s.videoFormat,
		"-i", s.videoDevice,
		"-vf", "fps=" + strconv.Itoa(s.frameRate),
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-q:v", "5",
		"-",
	}
}

// AudioArgs returns the ffmpeg arguments for 16 kHz mono s16le on stdout.
func (s *FFmpegSource) AudioArgs() []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", s.audioFormat,
		"-i", s.audioDevice,
		"-ac", "1",
		"-ar", "16000",
		"-f", "s16le",
		"-",
	}
}

func (s *FFmpegSource) start(ctx context.Context, name string, args []string, consume func(io.Reader)) (*proc, error) {
	cmd := s.command(ctx, s.ffmpeg, args...)
	if cmd.Cancel != nil {
		cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
		cmd.WaitDelay = stopGrace
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%s: stdout: %w", name, err)
	}
	p := &proc{name: name, stderr: &tailBuffer{}, done: make(chan struct{})}
	cmd.Stderr = p.stderr

	if err := cmd.Start(); err != nil {
		switch {
		case errors.Is(err, fs.ErrPermission):
			return nil, fmt.Errorf("%s: %w: %w", name, model.ErrPermission, err)
		case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("%s: %w: %w", name, ErrDeviceUnavailable, err)
		default:
			return nil, fmt.Errorf("%s: start: %w", name, err)
		}
	}

	go func() {
		consume(stdout)
		p.err = cmd.Wait()
		close(p.done)
	}()

	timer := time.NewTimer(s.startupGrace)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil, classify(name, p.stderr.String(), p.err)
	case <-timer.C:
		return p, nil
	}
}

// classify explains an early process exit from its stderr.
func classify(name, stderr string, err error) error {
	low := strings.ToLower(stderr)
	detail := lastLine(stderr)
	switch {
	case strings.Contains(low, "permission denied"),
		strings.Contains(low, "operation not permitted"),
		strings.Contains(low, "not authorized"):
		return fmt.Errorf("%s: %w: %s", name, model.ErrPermission, detail)
	case strings.Contains(low, "device or resource busy"):
		return fmt.Errorf("%s: %w: %s", name, ErrDeviceBusy, detail)
	case strings.Contains(low, "no such file or directory"),
		strings.Contains(low, "cannot open"),
		strings.Contains(low, "input/output error"):
		return fmt.Errorf("%s: %w: %s", name, ErrDeviceUnavailable, detail)
	}
	if err != nil {
		return fmt.Errorf("%s: %w: %w %s", name, ErrEarlyExit, err, detail)
	}
	return fmt.Errorf("%s: %w %s", name, ErrEarlyExit, detail)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

type proc struct {
	name   string
	stderr *tailBuffer
	done   chan struct{}
	err    error
}

// capture is an acquired set of devices.
type capture struct {
	lock   *flock.Flock
	cancel context.CancelFunc
	procs  []*proc
	logger logger.Logger

	frameMu sync.Mutex
	frame   []byte

	audio      chan []byte
	audioClose sync.Once
	release    sync.Once
	releaseErr error
}

func (c *capture) Frame() ([]byte, bool) {
	c.frameMu.Lock()
	defer c.frameMu.Unlock()
	if c.frame == nil {
		return nil, false
	}
	out := make([]byte, len(c.frame))
	copy(out, c.frame)
	return out, true
}

func (c *capture) Audio() <-chan []byte { return c.audio }

// Release stops the processes, waits for them and frees the lock. It is
// safe to call more than once.
func (c *capture) Release() error {
	c.release.Do(func() {
		c.cancel()
		for _, p := range c.procs {
			<-p.done
		}
		c.closeAudio()
		if err := c.lock.Unlock(); err != nil {
			c.releaseErr = fmt.Errorf("release device lock: %w", err)
		}
	})
	return c.releaseErr
}

func (c *capture) closeAudio() {
	c.audioClose.Do(func() { close(c.audio) })
}

func (c *capture) readFrames(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 256<<10), maxFrameBytes)
	sc.Split(SplitJPEG)
	for sc.Scan() {
		frame := append([]byte(nil), sc.Bytes()...)
		c.frameMu.Lock()
		c.frame = frame
		c.frameMu.Unlock()
	}
	if err := sc.Err(); err != nil {
		c.logger.Warn(context.Background(), "camera stream ended", logger.Error(err))
	}
}

func (c *capture) readAudio(ctx context.Context, r io.Reader, chunk int) {
	defer c.closeAudio()
	for {
		buf := make([]byte, chunk)
		if _, err := io.ReadFull(r, buf); err != nil {
			return
		}
		select {
		case c.audio <- buf:
		case <-ctx.Done():
			return
		}
	}
}

var (
	soi = []byte{0xFF, 0xD8} //nolint:gochecknoglobals // JPEG start marker
	eoi = []byte{0xFF, 0xD9} //nolint:gochecknoglobals // JPEG end marker
)

// SplitJPEG is a bufio.SplitFunc yielding whole JPEG images from an MJPEG
// byte stream. Bytes outside an SOI..EOI pair are discarded.
func SplitJPEG(data []byte, atEOF bool) (int, []byte, error) {
	start := bytes.Index(data, soi)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		if len(data) > 1 {
			// Keep a trailing 0xFF that may begin a marker.
			return len(data) - 1, nil, nil
		}
		return 0, nil, nil
	}
	end := bytes.Index(data[start+len(soi):], eoi)
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}
	stop := start + len(soi) + end + len(eoi)
	return stop, data[start:stop], nil
}

// tailBuffer keeps the last few KiB written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > stderrTail {
		t.buf = append([]byte(nil), t.buf[len(t.buf)-stderrTail:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
