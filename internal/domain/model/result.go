package model

// TechnicalScorecard rates four technical areas on a 0-100 scale.
type TechnicalScorecard struct {
	Consistency float64 `json:"consistency"`
	Power       float64 `json:"power"`
	Footwork    float64 `json:"footwork"`
	Precision   float64 `json:"precision"`
}

// Summary aggregates the events of a result.
type Summary struct {
	SuccessRate        float64             `json:"successRate"`
	ErrorRate          float64             `json:"errorRate"`
	TotalSuccesses     int                 `json:"totalSuccesses"`
	TotalErrors        int                 `json:"totalErrors"`
	TotalEvents        int                 `json:"totalEvents"`
	LineAccuracy       *float64            `json:"lineAccuracy,omitempty"`
	TechnicalScorecard *TechnicalScorecard `json:"technicalScorecard,omitempty"`
}

// PlayerStats holds optional per-stroke percentages reported by batch analysis.
type PlayerStats struct {
	ForehandSuccess      float64 `json:"forehandSuccess"`
	BackhandSuccess      float64 `json:"backhandSuccess"`
	ServeAccuracy        float64 `json:"serveAccuracy"`
	TechnicalConsistency float64 `json:"technicalConsistency"`
}

// AnalysisResult is the outcome of one batch analysis or live session.
type AnalysisResult struct {
	ID          string             `json:"id"`
	Date        string             `json:"date"`
	Summary     Summary            `json:"summary"`
	Events      []PerformanceEvent `json:"events"`
	SportType   string             `json:"sportType"`
	PlayerStats *PlayerStats       `json:"playerStats,omitempty"`
}

// Consistent reports whether the summary totals agree with the events.
func (r *AnalysisResult) Consistent() bool {
	n := len(r.Events)
	return r.Summary.TotalEvents == n && r.Summary.TotalSuccesses+r.Summary.TotalErrors == n
}

// Event returns the event with id, if present.
func (r *AnalysisResult) Event(id string) (PerformanceEvent, bool) {
	for _, e := range r.Events {
		if e.ID == id {
			return e, true
		}
	}
	return PerformanceEvent{}, false
}
