package timeline

import (
	"math"
	"strings"

	"github.com/okian/courtside/internal/domain/model"
)

// Serves holds the serve map figures for a result.
type Serves struct {
	Total int                      `json:"total"`
	In    int                      `json:"ins"`
	Out   int                      `json:"outs"`
	Net   int                      `json:"nets"`
	Rate  int                      `json:"rate"`
	List  []model.PerformanceEvent `json:"serves"`
}

// ServeStats collects events whose movement mentions a serve ("serve" or the
// Portuguese "saque") and counts their calls. Rate is the rounded share of IN
// calls, 0 without serves.
func ServeStats(events []model.PerformanceEvent) Serves {
	var s Serves
	for _, e := range events {
		mv := strings.ToLower(e.Movement)
		if !strings.Contains(mv, "serve") && !strings.Contains(mv, "saque") {
			continue
		}
		s.List = append(s.List, e)
		switch e.CallType {
		case model.CallIn:
			s.In++
		case model.CallOut:
			s.Out++
		case model.CallNet:
			s.Net++
		}
	}
	s.Total = len(s.List)
	if s.Total > 0 {
		s.Rate = int(math.Round(float64(s.In) / float64(s.Total) * 100))
	}
	return s
}
