package sinks

import "time"

// Event is an immutable record emitted to the analytics/ticketing sinks.
//
// Invariants:
// - Events are never updated or deleted.
// - Emission is best-effort; callers must never block or fail a primary
//   state transition on a sink error.
type Event struct {
	ID         string `json:"id" db:"id"`
	Type       EventType `json:"type" db:"type"`

	// Identifier is the contact phone number the event concerns.
	Identifier string `json:"identifier" db:"identifier"`

	// Category and Status capture the outcome and resulting cadence
	// state for analytics queries.
	Category string `json:"category,omitempty" db:"category"`
	Status   string `json:"status,omitempty" db:"status"`

	TrackingToken string `json:"tracking_token,omitempty" db:"tracking_token"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details (transcript summary etc).
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeOutcomeRecorded EventType = "outcome_recorded"
	EventTypeHandoffTicket   EventType = "handoff_ticket"
	EventTypeSchedulerRun    EventType = "scheduler_run"
)
