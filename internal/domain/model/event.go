// Package model contains domain models passed between layers.
package model

// EventType classifies a performance event.
type EventType string

const (
	EventSuccess EventType = "success"
	EventError   EventType = "error"
)

// Category groups events by skill area.
type Category string

const (
	CategoryFootwork  Category = "Footwork"
	CategoryTiming    Category = "Timing"
	CategoryTechnique Category = "Technique"
	CategoryTactical  Category = "Tactical"
	CategoryLineCall  Category = "Line Call"
)

// CallType is the judge's call on a line event.
type CallType string

const (
	CallIn  CallType = "IN"
	CallOut CallType = "OUT"
	CallNet CallType = "NET"
)

// PerformanceEvent is one discrete moment scored by the remote model.
// JSON names match the stored document format.
type PerformanceEvent struct {
	ID          string    `json:"id"`
	Timestamp   string    `json:"timestamp" validate:"required"`
	Type        EventType `json:"type" validate:"required,oneof=success error"`
	Category    Category  `json:"category,omitempty" validate:"omitempty,oneof=Footwork Timing Technique Tactical 'Line Call'"`
	Description string    `json:"description" validate:"required"`
	IsLineCall  bool      `json:"isLineCall,omitempty"`
	CallType    CallType  `json:"callType,omitempty" validate:"omitempty,oneof=IN OUT NET"`
	Movement    string    `json:"movement,omitempty"`
	Location    string    `json:"location,omitempty"`
}

// LogEventArgs are the fields carried by a live "log event" function call.
type LogEventArgs struct {
	Type        EventType `json:"type" validate:"required,oneof=success error"`
	Category    Category  `json:"category" validate:"required,oneof=Footwork Timing Technique Tactical 'Line Call'"`
	Description string    `json:"description" validate:"required"`
	CallType    CallType  `json:"callType,omitempty" validate:"omitempty,oneof=IN OUT NET"`
}

// Event builds the stored event for these arguments.
func (a LogEventArgs) Event(id, timestamp string) PerformanceEvent {
	return PerformanceEvent{
		ID:          id,
		Timestamp:   timestamp,
		Type:        a.Type,
		Category:    a.Category,
		Description: a.Description,
		IsLineCall:  a.Category == CategoryLineCall,
		CallType:    a.CallType,
	}
}
