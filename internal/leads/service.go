package leads

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"cadence-dialer/internal/hopper"

	"github.com/google/uuid"
)

var (
	ErrInvalidArgument = errors.New("leads: invalid argument")
	ErrDuplicate       = errors.New("leads: duplicate destination")
)

// e164 is deliberately loose: providers normalize further downstream.
var e164 = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

// Service ingests leads: exactly one hopper entry per accepted lead,
// deduplicated by destination.
type Service struct {
	repo  Repo
	queue hopper.Queue
	clock func() time.Time
}

func NewService(repo Repo, queue hopper.Queue) *Service {
	return &Service{repo: repo, queue: queue, clock: time.Now}
}

type IngestRequest struct {
	Destination string            `json:"destination"`
	Name        string            `json:"name,omitempty"`
	Source      string            `json:"source,omitempty"`
	Priority    *int              `json:"priority,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Ingest validates, dedupes, persists the lead and enqueues its single
// work-queue entry. A duplicate destination returns ErrDuplicate and
// enqueues nothing.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (Lead, error) {
	dest := strings.TrimSpace(req.Destination)
	if !e164.MatchString(dest) {
		return Lead{}, ErrInvalidArgument
	}

	if _, exists, err := s.repo.GetByDestination(ctx, dest); err != nil {
		return Lead{}, err
	} else if exists {
		return Lead{}, ErrDuplicate
	}

	now := s.clock().UTC()
	l := Lead{
		ID:          uuid.NewString(),
		Destination: dest,
		Name:        strings.TrimSpace(req.Name),
		Source:      strings.TrimSpace(req.Source),
		Attributes:  req.Attributes,
		CreatedAt:   now,
	}
	if err := s.repo.Create(ctx, l); err != nil {
		return Lead{}, err
	}

	err := s.queue.Enqueue(ctx, hopper.Entry{
		ID:          uuid.NewString(),
		LeadID:      l.ID,
		Destination: l.Destination,
		EnqueuedAt:  now,
		Priority:    req.Priority,
	})
	if err != nil {
		return Lead{}, err
	}
	return l, nil
}

// Get looks a lead up by id.
func (s *Service) Get(ctx context.Context, id string) (Lead, bool, error) {
	if id == "" {
		return Lead{}, false, ErrInvalidArgument
	}
	return s.repo.GetByID(ctx, id)
}
