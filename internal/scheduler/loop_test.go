package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cadence-dialer/internal/cadence"
	"cadence-dialer/internal/contacts"
	"cadence-dialer/internal/hopper"
	"cadence-dialer/internal/telephony"
)

var now = time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)

type stubProvider struct {
	mu     sync.Mutex
	placed []telephony.PlaceRequest
	fail   bool
}

func (p *stubProvider) Name() string                          { return "stub" }
func (p *stubProvider) HealthCheck(ctx context.Context) error { return nil }

func (p *stubProvider) Place(ctx context.Context, req telephony.PlaceRequest) (telephony.PlaceResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return telephony.PlaceResult{}, errors.New("provider down")
	}
	p.placed = append(p.placed, req)
	return telephony.PlaceResult{Accepted: true, ProviderCallID: "CA1"}, nil
}

func (p *stubProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.placed)
}

func newLoop(t *testing.T, provider telephony.Provider) (*Loop, *contacts.Store, hopper.Queue) {
	t.Helper()
	store := contacts.NewStore(contacts.NewMemoryRecords(), contacts.NewMemoryIndex(), nil)
	queue := hopper.NewMemoryQueue()
	l := New(store, cadence.DefaultRules(), queue, provider, nil,
		Options{CallerID: "+15550999", AgentRef: "agent-1"}, nil)
	l.clock = func() time.Time { return now }
	return l, store, queue
}

func seedActive(t *testing.T, store *contacts.Store, id string, attempts int, last cadence.Category, next time.Time) {
	t.Helper()
	err := store.Upsert(context.Background(), cadence.Record{
		Identifier:   id,
		AttemptCount: attempts,
		Status:       cadence.StatusActive,
		LastOutcome:  last,
		NextCallAt:   &next,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func TestRunOnce_DialsDueContactAndReservesToken(t *testing.T) {
	ctx := context.Background()
	provider := &stubProvider{}
	l, store, _ := newLoop(t, provider)

	seedActive(t, store, "+15550100", 1, cadence.CategoryNoAnswer, now.Add(-time.Minute))

	rep, err := l.RunOnce(ctx)
	if err != nil {
		t.Fatalf("runOnce: %v", err)
	}
	if rep.Due != 1 || rep.Dialed != 1 {
		t.Fatalf("report = %+v, want due=1 dialed=1", rep)
	}

	rec, ok, _ := store.Get(ctx, "+15550100")
	if !ok {
		t.Fatalf("record vanished")
	}
	if rec.CallToken == "" || rec.TokenSetAt == nil {
		t.Fatalf("call token must be persisted before placement: %+v", rec)
	}

	if provider.count() != 1 {
		t.Fatalf("placed %d calls, want 1", provider.count())
	}
	tok, err := telephony.ParseToken(provider.placed[0].TrackingToken)
	if err != nil || tok.Origin != telephony.OriginCadence || tok.Identifier != "+15550100" {
		t.Fatalf("bad tracking token: %+v err=%v", tok, err)
	}
}

func TestRunOnce_SkipsInFlightContacts(t *testing.T) {
	ctx := context.Background()
	provider := &stubProvider{}
	l, store, _ := newLoop(t, provider)

	next := now.Add(-time.Minute)
	err := store.Upsert(ctx, cadence.Record{
		Identifier:   "+15550100",
		AttemptCount: 1,
		Status:       cadence.StatusActive,
		LastOutcome:  cadence.CategoryNoAnswer,
		NextCallAt:   &next,
		CallToken:    "cad.KzE1NTUwMTAw.n",
		TokenSetAt:   &next,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	rep, err := l.RunOnce(ctx)
	if err != nil {
		t.Fatalf("runOnce: %v", err)
	}
	if rep.Skipped != 1 || provider.count() != 0 {
		t.Fatalf("in-flight contact must not be re-dialed: %+v placed=%d", rep, provider.count())
	}
}

func TestRunOnce_ExhaustsWithoutDialing(t *testing.T) {
	ctx := context.Background()
	provider := &stubProvider{}
	l, store, _ := newLoop(t, provider)

	// NO_ANSWER allows 4 attempts by default; 4 already recorded.
	seedActive(t, store, "+15550100", 4, cadence.CategoryNoAnswer, now.Add(-time.Minute))

	rep, err := l.RunOnce(ctx)
	if err != nil {
		t.Fatalf("runOnce: %v", err)
	}
	if rep.Exhausted != 1 || provider.count() != 0 {
		t.Fatalf("want exhaustion without dial: %+v placed=%d", rep, provider.count())
	}

	rec, _, _ := store.Get(ctx, "+15550100")
	if rec.Status != cadence.StatusCompletedExhausted || rec.NextCallAt != nil {
		t.Fatalf("record = %+v", rec)
	}

	// Terminal contacts leave the due set entirely.
	due, err := store.QueryDue(ctx, now.Add(time.Hour), 0)
	if err != nil {
		t.Fatalf("queryDue: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("exhausted contact still due: %+v", due)
	}
}

func TestRunOnce_PlacementFailureRevertsToError(t *testing.T) {
	ctx := context.Background()
	provider := &stubProvider{fail: true}
	l, store, _ := newLoop(t, provider)

	seedActive(t, store, "+15550100", 1, cadence.CategoryNoAnswer, now.Add(-time.Minute))

	rep, err := l.RunOnce(ctx)
	if err != nil {
		t.Fatalf("runOnce: %v", err)
	}
	if rep.Errored != 1 {
		t.Fatalf("report = %+v", rep)
	}

	rec, _, _ := store.Get(ctx, "+15550100")
	if rec.Status != cadence.StatusError || rec.CallToken != "" {
		t.Fatalf("failed placement must clear token and set error: %+v", rec)
	}
}

func TestRunOnce_FaultIsolationAcrossContacts(t *testing.T) {
	ctx := context.Background()
	provider := &stubProvider{}
	l, store, _ := newLoop(t, provider)

	// One contact will exhaust, two will dial; nothing aborts the batch.
	seedActive(t, store, "+15550101", 4, cadence.CategoryNoAnswer, now.Add(-time.Minute))
	seedActive(t, store, "+15550102", 1, cadence.CategoryNoAnswer, now.Add(-time.Minute))
	seedActive(t, store, "+15550103", 1, cadence.CategoryBusy, now.Add(-time.Minute))

	rep, err := l.RunOnce(ctx)
	if err != nil {
		t.Fatalf("runOnce: %v", err)
	}
	if rep.Due != 3 || rep.Dialed != 2 || rep.Exhausted != 1 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestRunOnce_PlacesFirstCallsFromHopper(t *testing.T) {
	ctx := context.Background()
	provider := &stubProvider{}
	l, _, queue := newLoop(t, provider)

	err := queue.Enqueue(ctx, hopper.Entry{
		ID: "e1", LeadID: "l1", Destination: "+15550200", EnqueuedAt: now,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	rep, err := l.RunOnce(ctx)
	if err != nil {
		t.Fatalf("runOnce: %v", err)
	}
	if rep.FirstCalls != 1 {
		t.Fatalf("report = %+v", rep)
	}

	tok, err := telephony.ParseToken(provider.placed[0].TrackingToken)
	if err != nil || tok.Origin != telephony.OriginQueue || tok.EntryID != "e1" || tok.LeadID != "l1" {
		t.Fatalf("bad queue token: %+v err=%v", tok, err)
	}

	// Entry stays claimed until the outcome arrives.
	e, _, _ := queue.Get(ctx, "e1")
	if e.Status != hopper.StatusClaimed {
		t.Fatalf("entry status = %q, want claimed", e.Status)
	}
}

func TestRunOnce_FirstCallFailureMarksEntryError(t *testing.T) {
	ctx := context.Background()
	provider := &stubProvider{fail: true}
	l, _, queue := newLoop(t, provider)

	if err := queue.Enqueue(ctx, hopper.Entry{ID: "e1", LeadID: "l1", Destination: "+15550200", EnqueuedAt: now}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	rep, err := l.RunOnce(ctx)
	if err != nil {
		t.Fatalf("runOnce: %v", err)
	}
	if rep.Errored == 0 {
		t.Fatalf("report = %+v", rep)
	}

	e, _, _ := queue.Get(ctx, "e1")
	if e.Status != hopper.StatusError || e.LastError == "" {
		t.Fatalf("entry must surface the failure: %+v", e)
	}
}

func TestRunOnce_DialCapLeavesHopperEntriesPending(t *testing.T) {
	ctx := context.Background()
	provider := &stubProvider{}
	l, _, queue := newLoop(t, provider)
	l.acquire = func(ctx context.Context) bool { return false }

	if err := queue.Enqueue(ctx, hopper.Entry{ID: "e1", LeadID: "l1", Destination: "+15550200", EnqueuedAt: now}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	rep, err := l.RunOnce(ctx)
	if err != nil {
		t.Fatalf("runOnce: %v", err)
	}
	if rep.FirstCalls != 0 || provider.count() != 0 {
		t.Fatalf("throttled tick must not dial: %+v placed=%d", rep, provider.count())
	}

	// The entry was never claimed; the next tick picks it up.
	e, _, _ := queue.Get(ctx, "e1")
	if e.Status != hopper.StatusPending {
		t.Fatalf("entry status = %q, want pending", e.Status)
	}

	l.acquire = func(ctx context.Context) bool { return true }
	rep, err = l.RunOnce(ctx)
	if err != nil {
		t.Fatalf("second runOnce: %v", err)
	}
	if rep.FirstCalls != 1 {
		t.Fatalf("entry must dial once the cap frees: %+v", rep)
	}
}

func TestFirstCalls_ReleasesUnusedCapSlot(t *testing.T) {
	ctx := context.Background()
	provider := &stubProvider{}
	l, _, _ := newLoop(t, provider)

	acquired, released := 0, 0
	l.acquire = func(ctx context.Context) bool { acquired++; return true }
	l.release = func(ctx context.Context) { released++ }

	// Empty queue: the slot taken ahead of the claim must be given back.
	if _, err := l.RunOnce(ctx); err != nil {
		t.Fatalf("runOnce: %v", err)
	}
	if acquired != 1 || released != 1 {
		t.Fatalf("acquired=%d released=%d, want 1/1", acquired, released)
	}
}

func TestSweepStale_RevertsOldInFlightTokens(t *testing.T) {
	ctx := context.Background()
	provider := &stubProvider{}
	l, store, _ := newLoop(t, provider)

	old := now.Add(-2 * time.Hour)
	fresh := now.Add(-time.Minute)
	next := now.Add(-time.Hour)

	for id, setAt := range map[string]time.Time{"+15550100": old, "+15550101": fresh} {
		setAt := setAt
		err := store.Upsert(ctx, cadence.Record{
			Identifier:   id,
			AttemptCount: 1,
			Status:       cadence.StatusActive,
			LastOutcome:  cadence.CategoryNoAnswer,
			NextCallAt:   &next,
			CallToken:    "cad.KzE1NTUwMTAw.n",
			TokenSetAt:   &setAt,
		})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	swept, err := l.SweepStale(ctx, time.Hour)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}

	stale, _, _ := store.Get(ctx, "+15550100")
	if stale.Status != cadence.StatusError || stale.CallToken != "" {
		t.Fatalf("stale contact not reverted: %+v", stale)
	}
	live, _, _ := store.Get(ctx, "+15550101")
	if live.CallToken == "" {
		t.Fatalf("fresh in-flight contact must be left alone")
	}
}
