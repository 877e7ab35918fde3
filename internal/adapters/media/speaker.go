package media

import (
	"context"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/okian/courtside/internal/domain/session"
	"github.com/okian/courtside/pkg/logger"
)

const (
	defaultOutputRate   = 24000
	defaultOutputDevice = "default"
	speakerBacklog      = 64
)

// Speaker plays the coach's voice through an ffmpeg process reading raw
// PCM on stdin. The process is started on the first chunk and killed by
// Clear, so an interruption silences queued audio at once.
type Speaker struct {
	ffmpeg  string
	device  string
	format  string
	command CommandFunc
	logger  logger.Logger

	mu     sync.Mutex
	cur    *sink
	closed bool
}

var _ session.Playback = (*Speaker)(nil)

type sink struct {
	rate   int
	cancel context.CancelFunc
	chunks chan []byte
	done   chan struct{}
}

// SpeakerOption applies a configuration option to the Speaker.
type SpeakerOption func(*Speaker)

// WithSpeakerFFmpegPath sets the ffmpeg binary.
func WithSpeakerFFmpegPath(path string) SpeakerOption {
	return func(s *Speaker) {
		if path != "" {
			s.ffmpeg = path
		}
	}
}

// WithOutputDevice sets the audio sink and its ffmpeg muxer (pulse, alsa, audiotoolbox).
func WithOutputDevice(device, format string) SpeakerOption {
	return func(s *Speaker) {
		if device != "" {
			s.device = device
		}
		if format != "" {
			s.format = format
		}
	}
}

// WithSpeakerCommand replaces process construction.
func WithSpeakerCommand(fn CommandFunc) SpeakerOption {
	return func(s *Speaker) {
		if fn != nil {
			s.command = fn
		}
	}
}

// WithSpeakerLogger sets a custom logger.
func WithSpeakerLogger(l logger.Logger) SpeakerOption {
	return func(s *Speaker) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSpeaker creates a speaker writing to the default pulse sink.
func NewSpeaker(opts ...SpeakerOption) *Speaker {
	s := &Speaker{
		ffmpeg:  defaultFFmpeg,
		device:  defaultOutputDevice,
		format:  defaultAudioFormat,
		command: exec.CommandContext,
		logger:  logger.Get().Named("speaker"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Args returns the ffmpeg arguments for PCM at rate Hz.
func (s *Speaker) Args(rate int) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "s16le", "-ar", strconv.Itoa(rate), "-ac", "1",
		"-i", "pipe:0",
		"-f", s.format, s.device,
	}
}

// Enqueue queues a chunk for playback. Chunks are dropped when the player
// falls too far behind.
func (s *Speaker) Enqueue(chunk session.AudioOut) {
	if len(chunk.Data) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	rate := PCMRate(chunk.MimeType, defaultOutputRate)
	if s.cur != nil && s.cur.rate != rate {
		s.cur.kill()
		s.cur = nil
	}
	if s.cur == nil {
		cur, err := s.start(rate)
		if err != nil {
			s.logger.Warn(context.Background(), "failed to start playback", logger.Error(err))
			return
		}
		s.cur = cur
	}

	select {
	case s.cur.chunks <- chunk.Data:
	default:
		s.logger.Debug(context.Background(), "playback backlog full, dropping chunk",
			logger.Int("bytes", len(chunk.Data)),
		)
	}
}

// Clear discards everything queued or playing.
func (s *Speaker) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != nil {
		s.cur.kill()
		s.cur = nil
	}
}

// Close lets queued audio finish, bounded by timeout, and stops the player.
func (s *Speaker) Close(timeout time.Duration) error {
	s.mu.Lock()
	cur := s.cur
	s.cur = nil
	s.closed = true
	s.mu.Unlock()

	if cur == nil {
		return nil
	}
	close(cur.chunks)
	select {
	case <-cur.done:
	case <-time.After(timeout):
	}
	cur.cancel()
	return nil
}

func (s *Speaker) start(rate int) (*sink, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cmd := s.command(ctx, s.ffmpeg, s.Args(rate)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, err
	}

	k := &sink{
		rate:   rate,
		cancel: cancel,
		chunks: make(chan []byte, speakerBacklog),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(k.done)
		k.pump(stdin)
		_ = cmd.Wait()
	}()
	return k, nil
}

func (k *sink) pump(w io.WriteCloser) {
	defer w.Close()
	broken := false
	for data := range k.chunks {
		if broken {
			continue
		}
		if _, err := w.Write(data); err != nil {
			broken = true
		}
	}
}

// kill stops the process immediately and lets the pump drain.
func (k *sink) kill() {
	k.cancel()
	close(k.chunks)
}

// PCMRate extracts the sample rate from a mime type such as
// "audio/pcm;rate=24000", falling back to def.
func PCMRate(mime string, def int) int {
	for _, param := range strings.Split(mime, ";")[1:] {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(key, "rate") {
			continue
		}
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return def
}
