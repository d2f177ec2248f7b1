package cadence

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a contact cadence record.
type Status string

const (
	StatusPending            Status = "pending"
	StatusActive             Status = "active"
	StatusPaused             Status = "paused"
	StatusCompletedSuccess   Status = "completed_success"
	StatusCompletedExhausted Status = "completed_exhausted"
	StatusError              Status = "error"
)

// Terminal reports whether the status never transitions further.
func (s Status) Terminal() bool {
	return s == StatusCompletedSuccess || s == StatusCompletedExhausted
}

// Callable reports whether the contact belongs in the active index.
func (s Status) Callable() bool {
	return s == StatusActive || s == StatusPending
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusPaused,
		StatusCompletedSuccess, StatusCompletedExhausted, StatusError:
		return true
	default:
		return false
	}
}

// Record is the per-phone-number unit of cadence tracking.
//
// Invariants:
// - StatusPending only before any attempt (AttemptCount == 0).
// - StatusActive implies NextCallAt is non-nil.
// - Terminal statuses never transition further.
// - At most one in-flight CallToken per contact; cleared on outcome or
//   placement failure.
type Record struct {
	Identifier   string            `json:"identifier" db:"identifier"`
	AttemptCount int               `json:"attempt_count" db:"attempt_count"`
	Status       Status            `json:"status" db:"status"`
	LastOutcome  Category          `json:"last_outcome,omitempty" db:"last_outcome"`
	LastAttempt  *time.Time        `json:"last_attempt_at,omitempty" db:"last_attempt_at"`
	NextCallAt   *time.Time        `json:"next_call_at,omitempty" db:"next_call_at"`
	CallToken    string            `json:"call_token,omitempty" db:"call_token"`
	TokenSetAt   *time.Time        `json:"token_set_at,omitempty" db:"token_set_at"`
	Priority     *int              `json:"priority,omitempty" db:"priority"`
	Metadata     map[string]string `json:"metadata,omitempty" db:"metadata"`
}

var ErrInvalidRecord = errors.New("cadence: invalid record")

// Validate checks the structural invariants above.
func (r Record) Validate() error {
	if r.Identifier == "" {
		return fmt.Errorf("%w: identifier required", ErrInvalidRecord)
	}
	if r.AttemptCount < 0 {
		return fmt.Errorf("%w: attempt_count must be >= 0", ErrInvalidRecord)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRecord, r.Status)
	}
	if r.Status == StatusPending && r.AttemptCount != 0 {
		return fmt.Errorf("%w: pending implies no attempts", ErrInvalidRecord)
	}
	if r.Status == StatusActive && r.NextCallAt == nil {
		return fmt.Errorf("%w: active implies next_call_at", ErrInvalidRecord)
	}
	return nil
}

// Clone returns a deep copy; Metadata maps are never shared.
func (r Record) Clone() Record {
	out := r
	if r.LastAttempt != nil {
		t := *r.LastAttempt
		out.LastAttempt = &t
	}
	if r.NextCallAt != nil {
		t := *r.NextCallAt
		out.NextCallAt = &t
	}
	if r.TokenSetAt != nil {
		t := *r.TokenSetAt
		out.TokenSetAt = &t
	}
	if r.Priority != nil {
		p := *r.Priority
		out.Priority = &p
	}
	if r.Metadata != nil {
		out.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
