// Package timeline maps playback positions onto the events of a finished
// analysis: which event is active at a given second, and where to seek when
// an event is picked.
package timeline

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ParseTimestamp converts "m:ss" or "h:mm:ss" into seconds. Any other shape,
// or a non-numeric component, yields 0.
func ParseTimestamp(s string) float64 {
	if s == "" {
		return 0
	}
	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0
	}
	vals := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
		vals[i] = v
	}
	if len(vals) == 2 {
		return vals[0]*60 + vals[1]
	}
	return vals[0]*3600 + vals[1]*60 + vals[2]
}

// FormatTimestamp renders d as "m:ss", or "h:mm:ss" from one hour on.
// Sub-second precision is truncated.
func FormatTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
