package hopper

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle of a work-queue entry.
// pending → claimed (by exactly one consumer) → completed | error.
// Completed entries are never revisited.
type Status string

const (
	StatusPending   Status = "pending"
	StatusClaimed   Status = "claimed"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Entry is one lead awaiting its first contact attempt.
// Exactly one entry exists per accepted lead.
type Entry struct {
	ID          string     `json:"id" db:"id"`
	LeadID      string     `json:"lead_id" db:"lead_id"`
	Destination string     `json:"destination" db:"destination"`
	EnqueuedAt  time.Time  `json:"enqueued_at" db:"enqueued_at"`
	Priority    *int       `json:"priority,omitempty" db:"priority"`
	Status      Status     `json:"status" db:"status"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty" db:"claimed_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
	LastError   string     `json:"last_error,omitempty" db:"last_error"`
}

var (
	ErrInvalidEntry = errors.New("hopper: invalid entry")
	ErrNotFound     = errors.New("hopper: entry not found")
)

// Queue is the durable work queue of leads awaiting their first call.
//
// ClaimNext must guarantee that under N concurrent callers each pending
// entry is returned to at most one caller, ordered by enqueued_at
// ascending then priority ascending (nil last). ok=false means the
// queue is empty.
//
// No automatic requeue: a failed first call transitions the entry to
// error for operator visibility; requeue policy belongs to the caller.
type Queue interface {
	Enqueue(ctx context.Context, e Entry) error
	ClaimNext(ctx context.Context) (Entry, bool, error)
	MarkCompleted(ctx context.Context, id string) error
	MarkError(ctx context.Context, id, reason string) error
	Get(ctx context.Context, id string) (Entry, bool, error)
}

func (e Entry) validate() error {
	if e.ID == "" || e.LeadID == "" || e.Destination == "" {
		return ErrInvalidEntry
	}
	return nil
}
