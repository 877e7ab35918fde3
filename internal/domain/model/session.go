package model

// SessionState is a live session lifecycle state.
type SessionState string

const (
	StateIdle       SessionState = "idle"
	StatePreviewing SessionState = "previewing"
	StateStreaming  SessionState = "streaming"
	StateFinalizing SessionState = "finalizing"
)

// Mode selects the live session flavor.
type Mode string

const (
	// ModeJudge streams camera and microphone and logs scored events.
	ModeJudge Mode = "judge"
	// ModeCoach streams microphone only and plays the model's voice back.
	ModeCoach Mode = "coach"
)

// Precision is the cosmetic calibration indicator.
type Precision string

const (
	PrecisionLow  Precision = "low"
	PrecisionMid  Precision = "mid"
	PrecisionHigh Precision = "high"
)

// Next returns the following precision level; high stays high.
func (p Precision) Next() Precision {
	switch p {
	case PrecisionLow:
		return PrecisionMid
	default:
		return PrecisionHigh
	}
}

// View is the camera angle the user selected.
type View string

const (
	ViewBaseline View = "baseline"
	ViewSide     View = "side"
	ViewHigh     View = "high"
)

// ParseView validates a view name.
func ParseView(s string) (View, bool) {
	switch v := View(s); v {
	case ViewBaseline, ViewSide, ViewHigh:
		return v, true
	default:
		return "", false
	}
}

// SessionSnapshot is a copy of live session state for readers.
type SessionSnapshot struct {
	State      SessionState       `json:"state"`
	Mode       Mode               `json:"mode"`
	Active     bool               `json:"active"`
	Precision  Precision          `json:"precision"`
	View       View               `json:"view"`
	Transcript string             `json:"transcript"`
	Events     []PerformanceEvent `json:"events"`
	LastError  string             `json:"lastError,omitempty"`
}
