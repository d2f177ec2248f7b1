package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"cadence-dialer/internal/cadence"
	"cadence-dialer/internal/contacts"
	"cadence-dialer/internal/hopper"
	"cadence-dialer/internal/leads"
	"cadence-dialer/internal/sinks"
	"cadence-dialer/internal/telephony"
)

var endedAt = time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)

type fixture struct {
	queue *hopper.MemoryQueue
	leads *leads.MemoryRepo
	store *contacts.Store
	sink  *sinks.MemoryRepo
	rec   *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		queue: hopper.NewMemoryQueue(),
		leads: leads.NewMemoryRepo(),
		store: contacts.NewStore(contacts.NewMemoryRecords(), contacts.NewMemoryIndex(), nil),
		sink:  sinks.NewMemoryRepo(),
	}
	f.rec = New(f.queue, f.leads, f.store, cadence.DefaultRules(), sinks.NewService(f.sink), nil, nil)
	return f
}

func TestHandleOutcome_RejectsIncompleteEvents(t *testing.T) {
	f := newFixture(t)

	cases := []OutcomeEvent{
		{Destination: "+1", Category: "NO_ANSWER", EndedAt: endedAt},
		{TrackingToken: "cad.KzE.n", Category: "NO_ANSWER", EndedAt: endedAt},
		{TrackingToken: "cad.KzE.n", Destination: "+1", EndedAt: endedAt},
		{TrackingToken: "cad.KzE.n", Destination: "+1", Category: "NO_ANSWER"},
		{TrackingToken: "garbage", Destination: "+1", Category: "NO_ANSWER", EndedAt: endedAt},
	}
	for i, ev := range cases {
		if _, err := f.rec.HandleOutcome(context.Background(), ev); !errors.Is(err, ErrInvalidEvent) {
			t.Fatalf("case %d: expected ErrInvalidEvent, got %v", i, err)
		}
	}

	// Nothing was persisted.
	if _, ok, _ := f.store.Get(context.Background(), "+1"); ok {
		t.Fatalf("rejected events must not mutate state")
	}
}

func TestHandleOutcome_QueueOriginHandsOffToCadence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	lead := leads.Lead{
		ID: "l1", Destination: "+15550100",
		Attributes: map[string]string{"name": "Ada", "zip": "94107"},
		CreatedAt:  endedAt,
	}
	if err := f.leads.Create(ctx, lead); err != nil {
		t.Fatalf("seed lead: %v", err)
	}
	if err := f.queue.Enqueue(ctx, hopper.Entry{ID: "e1", LeadID: "l1", Destination: "+15550100", EnqueuedAt: endedAt}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, ok, _ := f.queue.ClaimNext(ctx); !ok {
		t.Fatalf("claim")
	}

	got, err := f.rec.HandleOutcome(ctx, OutcomeEvent{
		TrackingToken: telephony.NewQueueToken("e1", "l1"),
		Destination:   "+15550100",
		Category:      "NO_ANSWER",
		EndedAt:       endedAt,
	})
	if err != nil {
		t.Fatalf("handleOutcome: %v", err)
	}

	if got.AttemptCount != 1 {
		t.Fatalf("attempt count = %d, want 1 (bootstrap)", got.AttemptCount)
	}
	if got.Metadata["name"] != "Ada" {
		t.Fatalf("lead attributes must seed the record: %+v", got.Metadata)
	}

	e, _, _ := f.queue.Get(ctx, "e1")
	if e.Status != hopper.StatusCompleted {
		t.Fatalf("queue entry = %q, want completed", e.Status)
	}

	stored, ok, _ := f.store.Get(ctx, "+15550100")
	if !ok || stored.Status != got.Status {
		t.Fatalf("record not persisted: ok=%v %+v", ok, stored)
	}
}

func TestHandleOutcome_QueueOriginToleratesMissingLead(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	got, err := f.rec.HandleOutcome(ctx, OutcomeEvent{
		TrackingToken: telephony.NewQueueToken("e-gone", "l-gone"),
		Destination:   "+15550100",
		Category:      "VOICEMAIL",
		EndedAt:       endedAt,
	})
	if err != nil {
		t.Fatalf("missing lead must not fail the transition: %v", err)
	}
	if got.AttemptCount != 1 || got.Identifier != "+15550100" {
		t.Fatalf("got %+v", got)
	}
}

func TestHandleOutcome_CadenceOriginAdvancesExistingRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	next := endedAt.Add(-time.Hour)
	err := f.store.Upsert(ctx, cadence.Record{
		Identifier:   "+15550100",
		AttemptCount: 1,
		Status:       cadence.StatusActive,
		LastOutcome:  cadence.CategoryNoAnswer,
		NextCallAt:   &next,
		CallToken:    "cad.x.y",
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, err := f.rec.HandleOutcome(ctx, OutcomeEvent{
		TrackingToken: telephony.NewCadenceToken("+15550100"),
		Destination:   "+15550100",
		Category:      "NO_ANSWER",
		EndedAt:       endedAt,
	})
	if err != nil {
		t.Fatalf("handleOutcome: %v", err)
	}
	if got.AttemptCount != 2 {
		t.Fatalf("attempt count = %d, want 2", got.AttemptCount)
	}
	if got.CallToken != "" {
		t.Fatalf("call token must be cleared on outcome")
	}
	// NO_ANSWER attempt 2 retries after 1h (default rules).
	if got.Status != cadence.StatusActive || !got.NextCallAt.Equal(endedAt.Add(time.Hour)) {
		t.Fatalf("got %+v", got)
	}
}

func TestHandleOutcome_CadenceOriginBootstrapsMissingRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	got, err := f.rec.HandleOutcome(ctx, OutcomeEvent{
		TrackingToken: telephony.NewCadenceToken("+15550100"),
		Destination:   "+15550100",
		Category:      "BUSY",
		EndedAt:       endedAt,
	})
	if err != nil {
		t.Fatalf("unknown contact must bootstrap, not fail: %v", err)
	}
	if got.AttemptCount != 1 {
		t.Fatalf("got %+v", got)
	}
}

func TestHandleOutcome_EmitsAnalyticsAndHandoffTicket(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	got, err := f.rec.HandleOutcome(ctx, OutcomeEvent{
		TrackingToken:     telephony.NewCadenceToken("+15550100"),
		Destination:       "+15550100",
		Category:          "HANDOFF_REQUESTED",
		EndedAt:           endedAt,
		TranscriptSummary: "caller asked for a human",
	})
	if err != nil {
		t.Fatalf("handleOutcome: %v", err)
	}
	if got.Status != cadence.StatusPaused {
		t.Fatalf("status = %q, want paused", got.Status)
	}

	if n := len(f.sink.ByType(sinks.EventTypeOutcomeRecorded)); n != 1 {
		t.Fatalf("analytics events = %d, want 1", n)
	}
	tickets := f.sink.ByType(sinks.EventTypeHandoffTicket)
	if len(tickets) != 1 {
		t.Fatalf("handoff tickets = %d, want 1", len(tickets))
	}
	if tickets[0].Identifier != "+15550100" {
		t.Fatalf("ticket = %+v", tickets[0])
	}
}

func TestHandleOutcome_NoTicketForPlainRetry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.rec.HandleOutcome(ctx, OutcomeEvent{
		TrackingToken: telephony.NewCadenceToken("+15550100"),
		Destination:   "+15550100",
		Category:      "NO_ANSWER",
		EndedAt:       endedAt,
	}); err != nil {
		t.Fatalf("handleOutcome: %v", err)
	}
	if n := len(f.sink.ByType(sinks.EventTypeHandoffTicket)); n != 0 {
		t.Fatalf("unexpected handoff ticket")
	}
}

type flakyRecords struct {
	*contacts.MemoryRecords
	getErr error
}

func (f *flakyRecords) Get(ctx context.Context, identifier string) (cadence.Record, bool, error) {
	if f.getErr != nil {
		return cadence.Record{}, false, f.getErr
	}
	return f.MemoryRecords.Get(ctx, identifier)
}

func TestHandleOutcome_ReadFailureSurfacesWithoutResettingCadence(t *testing.T) {
	ctx := context.Background()
	records := &flakyRecords{MemoryRecords: contacts.NewMemoryRecords()}
	store := contacts.NewStore(records, contacts.NewMemoryIndex(), nil)
	rec := New(hopper.NewMemoryQueue(), leads.NewMemoryRepo(), store,
		cadence.DefaultRules(), sinks.NewService(sinks.NewMemoryRepo()), nil, nil)

	next := endedAt.Add(-time.Hour)
	err := store.Upsert(ctx, cadence.Record{
		Identifier:   "+15550100",
		AttemptCount: 3,
		Status:       cadence.StatusActive,
		LastOutcome:  cadence.CategoryNoAnswer,
		NextCallAt:   &next,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	records.getErr = errors.New("connection reset by peer")
	if _, err := rec.HandleOutcome(ctx, OutcomeEvent{
		TrackingToken: telephony.NewCadenceToken("+15550100"),
		Destination:   "+15550100",
		Category:      "NO_ANSWER",
		EndedAt:       endedAt,
	}); err == nil {
		t.Fatalf("read failure must surface so the delivery is retried")
	}

	// Only confirmed absence bootstraps; the history is untouched.
	records.getErr = nil
	got, ok, _ := store.Get(ctx, "+15550100")
	if !ok || got.AttemptCount != 3 || got.Status != cadence.StatusActive {
		t.Fatalf("cadence history must survive the failed read: ok=%v %+v", ok, got)
	}
}

type memoryMarker struct {
	tokens map[string]bool
}

func newMemoryMarker() *memoryMarker { return &memoryMarker{tokens: map[string]bool{}} }

func (m *memoryMarker) Seen(ctx context.Context, token string) (bool, error) {
	return m.tokens[token], nil
}

func (m *memoryMarker) Mark(ctx context.Context, token string) error {
	m.tokens[token] = true
	return nil
}

func TestHandleOutcome_DuplicateDeliveryIsANoOp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.rec.seen = newMemoryMarker()

	ev := OutcomeEvent{
		TrackingToken: telephony.NewCadenceToken("+15550100"),
		Destination:   "+15550100",
		Category:      "NO_ANSWER",
		EndedAt:       endedAt,
	}
	first, err := f.rec.HandleOutcome(ctx, ev)
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	second, err := f.rec.HandleOutcome(ctx, ev)
	if err != nil {
		t.Fatalf("duplicate delivery: %v", err)
	}
	if second.AttemptCount != first.AttemptCount {
		t.Fatalf("duplicate must not advance the cadence: first=%d second=%d",
			first.AttemptCount, second.AttemptCount)
	}
	if n := len(f.sink.ByType(sinks.EventTypeOutcomeRecorded)); n != 1 {
		t.Fatalf("analytics events = %d, want 1 (duplicate suppressed)", n)
	}
}

func TestHandleOutcome_DuplicateWithoutRecordEchoesIdentifier(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := newMemoryMarker()
	f.rec.seen = m

	tok := telephony.NewCadenceToken("+15550100")
	if err := m.Mark(ctx, tok); err != nil {
		t.Fatalf("mark: %v", err)
	}

	got, err := f.rec.HandleOutcome(ctx, OutcomeEvent{
		TrackingToken: tok,
		Destination:   "+15550100",
		Category:      "NO_ANSWER",
		EndedAt:       endedAt,
	})
	if err != nil {
		t.Fatalf("handleOutcome: %v", err)
	}
	if got.Identifier != "+15550100" {
		t.Fatalf("response must stay attributable: %+v", got)
	}
}

type failingSink struct{}

func (failingSink) Append(ctx context.Context, e sinks.Event) error {
	return errors.New("sink down")
}

func TestHandleOutcome_SinkFailureDoesNotFailTransition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.rec.sinks = sinks.NewService(failingSink{})

	got, err := f.rec.HandleOutcome(ctx, OutcomeEvent{
		TrackingToken: telephony.NewCadenceToken("+15550100"),
		Destination:   "+15550100",
		Category:      "NO_ANSWER",
		EndedAt:       endedAt,
	})
	if err != nil {
		t.Fatalf("sink failure must be best-effort: %v", err)
	}
	if got.AttemptCount != 1 {
		t.Fatalf("transition must still happen: %+v", got)
	}

	if _, ok, _ := f.store.Get(ctx, "+15550100"); !ok {
		t.Fatalf("record must be persisted despite sink failure")
	}
}
