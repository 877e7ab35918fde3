// Package scoring defines the contract for producing analysis results and the
// summary arithmetic shared by batch and live analyses.
package scoring

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/okian/courtside/internal/domain/model"
)

// DefaultSportType is recorded when the model leaves the sport blank.
const DefaultSportType = "tennis"

// Request is one recorded video submitted for analysis.
type Request struct {
	Media    []byte
	MimeType string
	Language string
	Quality  string
}

// Analyzer scores a recorded video.
type Analyzer interface {
	// Analyze returns a normalized result, honoring ctx for cancellation.
	Analyze(ctx context.Context, req Request) (*model.AnalysisResult, error)
}

// Summarize derives totals and percentage rates from events. Rates are
// rounded to whole percentages and are 0 when there are no events.
func Summarize(events []model.PerformanceEvent) model.Summary {
	var s model.Summary
	for _, e := range events {
		switch e.Type {
		case model.EventSuccess:
			s.TotalSuccesses++
		case model.EventError:
			s.TotalErrors++
		}
	}
	s.TotalEvents = len(events)
	if s.TotalEvents > 0 {
		s.SuccessRate = math.Round(float64(s.TotalSuccesses) / float64(s.TotalEvents) * 100)
		s.ErrorRate = math.Round(float64(s.TotalErrors) / float64(s.TotalEvents) * 100)
	}
	return s
}

// NewResult builds a result over events with a fresh id and derived summary.
func NewResult(events []model.PerformanceEvent, now time.Time) *model.AnalysisResult {
	cp := make([]model.PerformanceEvent, len(events))
	copy(cp, events)
	return &model.AnalysisResult{
		ID:        uuid.NewString(),
		Date:      now.UTC().Format(time.RFC3339),
		Summary:   Summarize(cp),
		Events:    cp,
		SportType: DefaultSportType,
	}
}

// Normalize repairs a result produced by the remote model so that the
// summary agrees with the events:
//   - events get fresh ids when missing or duplicated, and IsLineCall is derived;
//   - events of unknown type are dropped;
//   - totals are recomputed from the events;
//   - the model's rates are kept only when both lie in [0,100] and add up to
//     100 (within one point), otherwise they are derived.
//
// The result id, date and sport are filled when blank.
func Normalize(r *model.AnalysisResult, now time.Time) *model.AnalysisResult {
	if r == nil {
		r = &model.AnalysisResult{}
	}
	seen := make(map[string]struct{}, len(r.Events))
	events := make([]model.PerformanceEvent, 0, len(r.Events))
	for _, e := range r.Events {
		e.Type = model.EventType(strings.ToLower(strings.TrimSpace(string(e.Type))))
		if e.Type != model.EventSuccess && e.Type != model.EventError {
			continue
		}
		if _, dup := seen[e.ID]; e.ID == "" || dup {
			e.ID = uuid.NewString()
		}
		seen[e.ID] = struct{}{}
		e.IsLineCall = e.Category == model.CategoryLineCall
		e.CallType = model.CallType(strings.ToUpper(strings.TrimSpace(string(e.CallType))))
		events = append(events, e)
	}
	r.Events = events

	derived := Summarize(events)
	modelRates := r.Summary
	derived.LineAccuracy = r.Summary.LineAccuracy
	derived.TechnicalScorecard = r.Summary.TechnicalScorecard
	if ratesPlausible(modelRates, derived.TotalEvents) {
		derived.SuccessRate = modelRates.SuccessRate
		derived.ErrorRate = modelRates.ErrorRate
	}
	r.Summary = derived

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Date == "" {
		r.Date = now.UTC().Format(time.RFC3339)
	}
	if strings.TrimSpace(r.SportType) == "" {
		r.SportType = DefaultSportType
	}
	return r
}

func ratesPlausible(s model.Summary, total int) bool {
	if total == 0 {
		return false
	}
	in := func(v float64) bool { return v >= 0 && v <= 100 }
	if !in(s.SuccessRate) || !in(s.ErrorRate) {
		return false
	}
	return math.Abs(s.SuccessRate+s.ErrorRate-100) <= 1
}
