package timeline

import (
	"errors"
	"sync"

	"github.com/okian/courtside/internal/domain/model"
)

// ErrUnknownEvent is returned when seeking to an event that is not in the result.
var ErrUnknownEvent = errors.New("unknown event")

// Player is the playback surface the timeline drives.
type Player interface {
	CurrentTime() float64
	SetCurrentTime(seconds float64)
	Duration() float64
	Play() error
	Pause()
}

// Seek moves p to the event's timestamp and resumes playback. It never pauses.
func Seek(p Player, ev model.PerformanceEvent) (float64, error) {
	pos := ParseTimestamp(ev.Timestamp)
	p.SetCurrentTime(pos)
	if err := p.Play(); err != nil {
		return pos, err
	}
	return pos, nil
}

// SeekByID looks the event up in result and seeks to it.
func SeekByID(p Player, result *model.AnalysisResult, eventID string) (float64, error) {
	ev, ok := result.Event(eventID)
	if !ok {
		return 0, ErrUnknownEvent
	}
	return Seek(p, ev)
}

// Playhead is an in-process Player. Advance moves the position while playing,
// which lets callers replay a timeline without a real media element.
type Playhead struct {
	mu       sync.Mutex
	position float64
	duration float64
	playing  bool
}

// NewPlayhead returns a paused playhead at 0.
func NewPlayhead(duration float64) *Playhead {
	return &Playhead{duration: duration}
}

func (p *Playhead) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

func (p *Playhead) SetCurrentTime(seconds float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = p.clamp(seconds)
}

func (p *Playhead) Duration() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration
}

func (p *Playhead) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = true
	return nil
}

func (p *Playhead) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = false
}

// Playing reports whether the playhead is running.
func (p *Playhead) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Advance moves the position forward by seconds if playing, and returns it.
// Reaching the end pauses.
func (p *Playhead) Advance(seconds float64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing {
		return p.position
	}
	p.position = p.clamp(p.position + seconds)
	if p.duration > 0 && p.position >= p.duration {
		p.playing = false
	}
	return p.position
}

// clamp keeps the position within [0, duration]; a zero duration means unknown.
func (p *Playhead) clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if p.duration > 0 && v > p.duration {
		return p.duration
	}
	return v
}
