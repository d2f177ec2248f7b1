package reporting

import (
	"context"
	"errors"
	"time"

	"cadence-dialer/internal/cadence"
	"cadence-dialer/internal/sinks"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
// Implementations should query immutable sources (the sink event log).
type Repository interface {
	ListOutcomeEvents(ctx context.Context, from, to time.Time) ([]sinks.Event, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

// CampaignSummary aggregates the campaign's reconciled outcomes.
func (s *Service) CampaignSummary(ctx context.Context, req CampaignSummaryRequest) (CampaignSummary, error) {
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CampaignSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CampaignSummary{}, errors.New("reporting: repository not configured")
	}

	events, err := s.repo.ListOutcomeEvents(ctx, req.Range.From, req.Range.To)
	if err != nil {
		return CampaignSummary{}, err
	}

	out := CampaignSummary{
		ByCategory: map[string]int{},
		ByStatus:   map[string]int{},
	}
	for _, e := range events {
		if e.Type != sinks.EventTypeOutcomeRecorded {
			continue
		}
		out.TotalOutcomes++
		out.ByCategory[e.Category]++
		out.ByStatus[e.Status]++

		switch cadence.Status(e.Status) {
		case cadence.StatusCompletedSuccess:
			out.Booked++
		case cadence.StatusPaused:
			out.Handoffs++
		case cadence.StatusCompletedExhausted:
			out.Exhausted++
		}
	}
	if out.TotalOutcomes > 0 {
		out.ConversionPct = 100 * float64(out.Booked) / float64(out.TotalOutcomes)
	}
	return out, nil
}
