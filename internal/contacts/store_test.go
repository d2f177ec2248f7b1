package contacts

import (
	"context"
	"testing"
	"time"

	"cadence-dialer/internal/cadence"
)

var asOf = time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)

func activeRecord(id string, next time.Time, priority *int) cadence.Record {
	return cadence.Record{
		Identifier:   id,
		AttemptCount: 1,
		Status:       cadence.StatusActive,
		LastOutcome:  cadence.CategoryNoAnswer,
		NextCallAt:   &next,
		Priority:     priority,
	}
}

func newTestStore() (*Store, *MemoryRecords, *MemoryIndex) {
	recs := NewMemoryRecords()
	idx := NewMemoryIndex()
	return NewStore(recs, idx, nil), recs, idx
}

func TestUpsert_MaintainsIndexMembership(t *testing.T) {
	ctx := context.Background()
	s, _, idx := newTestStore()

	rec := activeRecord("+15550100", asOf, nil)
	if err := s.Upsert(ctx, rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !idx.Contains("+15550100") {
		t.Fatalf("active record should be indexed")
	}

	rec.Status = cadence.StatusCompletedSuccess
	rec.NextCallAt = nil
	if err := s.Upsert(ctx, rec); err != nil {
		t.Fatalf("upsert terminal: %v", err)
	}
	if idx.Contains("+15550100") {
		t.Fatalf("terminal record should be removed from the index")
	}
}

func TestUpsert_RejectsInvalidRecord(t *testing.T) {
	s, _, _ := newTestStore()
	err := s.Upsert(context.Background(), cadence.Record{Identifier: "+1", Status: cadence.StatusActive})
	if err == nil {
		t.Fatalf("active without next_call_at must be rejected")
	}
}

func TestQueryDue_FiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore()

	p1, p9 := 1, 9
	fixtures := []cadence.Record{
		activeRecord("+15550101", asOf.Add(-time.Hour), &p9),
		activeRecord("+15550102", asOf.Add(-2*time.Hour), &p1),
		activeRecord("+15550103", asOf.Add(-time.Minute), nil),  // nil priority sorts last
		activeRecord("+15550104", asOf.Add(time.Minute), &p1),   // not due yet
	}
	for _, rec := range fixtures {
		if err := s.Upsert(ctx, rec); err != nil {
			t.Fatalf("upsert %s: %v", rec.Identifier, err)
		}
	}

	due, err := s.QueryDue(ctx, asOf, 0)
	if err != nil {
		t.Fatalf("queryDue: %v", err)
	}

	want := []string{"+15550102", "+15550101", "+15550103"}
	if len(due) != len(want) {
		t.Fatalf("got %d due contacts, want %d: %+v", len(due), len(want), due)
	}
	for i, id := range want {
		if due[i].Identifier != id {
			t.Fatalf("position %d: got %s, want %s", i, due[i].Identifier, id)
		}
	}
}

func TestQueryDue_NeverReturnsFutureOrNonCallable(t *testing.T) {
	ctx := context.Background()
	s, recs, idx := newTestStore()

	paused := cadence.Record{Identifier: "+15550105", AttemptCount: 2, Status: cadence.StatusPaused}
	if err := recs.Upsert(ctx, paused); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// Simulate a stale index: the paused contact is still a member.
	if err := idx.Add(ctx, "+15550105"); err != nil {
		t.Fatalf("seed index: %v", err)
	}

	due, err := s.QueryDue(ctx, asOf, 0)
	if err != nil {
		t.Fatalf("queryDue: %v", err)
	}
	for _, rec := range due {
		if !rec.Status.Callable() {
			t.Fatalf("non-callable record returned: %+v", rec)
		}
		if rec.NextCallAt.After(asOf) {
			t.Fatalf("future record returned: %+v", rec)
		}
	}
	// The stale member is repaired out of the index.
	if idx.Contains("+15550105") {
		t.Fatalf("stale member should have been repaired")
	}
}

func TestQueryDue_SkipsDanglingAndDedupes(t *testing.T) {
	ctx := context.Background()
	s, _, idx := newTestStore()

	rec := activeRecord("+15550106", asOf.Add(-time.Hour), nil)
	if err := s.Upsert(ctx, rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	// Dangling member with no backing record, plus a duplicate of a real one.
	idx.Extra = []string{"+15559999", "+15550106"}

	due, err := s.QueryDue(ctx, asOf, 0)
	if err != nil {
		t.Fatalf("dangling member must not fail the read path: %v", err)
	}
	if len(due) != 1 || due[0].Identifier != "+15550106" {
		t.Fatalf("got %+v, want exactly one +15550106", due)
	}
}

func TestQueryDue_Limit(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore()

	for _, id := range []string{"+15550107", "+15550108", "+15550109"} {
		if err := s.Upsert(ctx, activeRecord(id, asOf.Add(-time.Hour), nil)); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	due, err := s.QueryDue(ctx, asOf, 2)
	if err != nil {
		t.Fatalf("queryDue: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("got %d, want limit of 2", len(due))
	}
}
