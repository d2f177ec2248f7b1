package sinks

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for sink events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service emits analytics events and hand-off tickets.
//
// IMPORTANT: every method here is best-effort from the caller's point of
// view — the reconciler logs failures and moves on.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("sinks: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("sinks: repository not configured")
	}
	if e.Identifier == "" || e.Type == "" {
		return ErrInvalidEvent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// RecordOutcome emits the analytics event for a reconciled call outcome.
func (s *Service) RecordOutcome(ctx context.Context, identifier, category, status, token, metadata string) error {
	return s.Append(ctx, Event{
		Type:          EventTypeOutcomeRecorded,
		Identifier:    identifier,
		Category:      category,
		Status:        status,
		TrackingToken: token,
		Metadata:      metadata,
	})
}

// OpenHandoffTicket emits a ticket for out-of-band human follow-up when
// a contact pauses on a hand-off outcome.
func (s *Service) OpenHandoffTicket(ctx context.Context, identifier, category, token, summary string) error {
	return s.Append(ctx, Event{
		Type:          EventTypeHandoffTicket,
		Identifier:    identifier,
		Category:      category,
		TrackingToken: token,
		Message:       "handoff requested",
		Metadata:      summary,
	})
}
