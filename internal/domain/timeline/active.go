package timeline

import (
	"math"
	"sync"

	"github.com/okian/courtside/internal/domain/model"
)

// ActiveWindow is the exclusive distance in seconds within which an event
// counts as active.
const ActiveWindow = 1.5

// ActiveEvent returns the id of the event closest to t among those strictly
// within ActiveWindow. Ties keep the first event in slice order.
func ActiveEvent(events []model.PerformanceEvent, t float64) (string, bool) {
	best := math.Inf(1)
	id := ""
	found := false
	for _, e := range events {
		diff := math.Abs(t - ParseTimestamp(e.Timestamp))
		if diff < ActiveWindow && diff < best {
			best = diff
			id = e.ID
			found = true
		}
	}
	return id, found
}

// Reconciler memoizes ActiveEvent for the latest (events, time) pair.
// It is safe for concurrent use.
type Reconciler struct {
	mu      sync.Mutex
	events  []model.PerformanceEvent
	version uint64

	memoValid   bool
	memoVersion uint64
	memoT       float64
	memoID      string
	memoOK      bool
}

// NewReconciler returns a reconciler over events.
func NewReconciler(events []model.PerformanceEvent) *Reconciler {
	r := &Reconciler{}
	r.SetEvents(events)
	return r
}

// SetEvents replaces the event list and invalidates the memo.
func (r *Reconciler) SetEvents(events []model.PerformanceEvent) {
	cp := make([]model.PerformanceEvent, len(events))
	copy(cp, events)
	r.mu.Lock()
	r.events = cp
	r.version++
	r.memoValid = false
	r.mu.Unlock()
}

// Version increments on every SetEvents.
func (r *Reconciler) Version() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

// At returns the active event at playback position t.
func (r *Reconciler) At(t float64) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.memoValid && r.memoVersion == r.version && r.memoT == t {
		return r.memoID, r.memoOK
	}
	id, ok := ActiveEvent(r.events, t)
	r.memoValid, r.memoVersion, r.memoT = true, r.version, t
	r.memoID, r.memoOK = id, ok
	return id, ok
}

// Events returns a copy of the current events.
func (r *Reconciler) Events() []model.PerformanceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]model.PerformanceEvent, len(r.events))
	copy(cp, r.events)
	return cp
}
