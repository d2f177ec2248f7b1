package reporting

import (
	"context"
	"testing"
	"time"

	"cadence-dialer/internal/sinks"
)

func TestCampaignSummary_Aggregates(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	repo.Events = []sinks.Event{
		{ID: "e1", Type: sinks.EventTypeOutcomeRecorded, Identifier: "+1", Category: "NO_ANSWER", Status: "active", CreatedAt: now},
		{ID: "e2", Type: sinks.EventTypeOutcomeRecorded, Identifier: "+2", Category: "APPOINTMENT_BOOKED", Status: "completed_success", CreatedAt: now},
		{ID: "e3", Type: sinks.EventTypeOutcomeRecorded, Identifier: "+3", Category: "HANDOFF_REQUESTED", Status: "paused", CreatedAt: now},
		{ID: "e4", Type: sinks.EventTypeOutcomeRecorded, Identifier: "+4", Category: "NO_ANSWER", Status: "completed_exhausted", CreatedAt: now},
		{ID: "e5", Type: sinks.EventTypeHandoffTicket, Identifier: "+3", Category: "HANDOFF_REQUESTED", CreatedAt: now},
	}
	svc := NewService(repo)

	out, err := svc.CampaignSummary(context.Background(), CampaignSummaryRequest{
		Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalOutcomes != 4 {
		t.Fatalf("total = %d, want 4 (tickets excluded)", out.TotalOutcomes)
	}
	if out.ByCategory["NO_ANSWER"] != 2 {
		t.Fatalf("by category = %v", out.ByCategory)
	}
	if out.Booked != 1 || out.Handoffs != 1 || out.Exhausted != 1 {
		t.Fatalf("summary = %+v", out)
	}
	if out.ConversionPct != 25 {
		t.Fatalf("conversion = %v, want 25", out.ConversionPct)
	}
}

func TestCampaignSummary_TimeWindow(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	repo.Events = []sinks.Event{
		{ID: "in", Type: sinks.EventTypeOutcomeRecorded, Identifier: "+1", Category: "BUSY", Status: "active", CreatedAt: now},
		{ID: "out", Type: sinks.EventTypeOutcomeRecorded, Identifier: "+2", Category: "BUSY", Status: "active", CreatedAt: now.Add(-48 * time.Hour)},
	}
	svc := NewService(repo)

	got, err := svc.CampaignSummary(context.Background(), CampaignSummaryRequest{
		Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got.TotalOutcomes != 1 {
		t.Fatalf("total = %d, want 1", got.TotalOutcomes)
	}
}

func TestCampaignSummary_RejectsBadRange(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	_, err := svc.CampaignSummary(context.Background(), CampaignSummaryRequest{})
	if err != ErrInvalidRequest {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}
