package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cadence-dialer/internal/cadence"
	"cadence-dialer/internal/contacts"
	"cadence-dialer/internal/hopper"
	"cadence-dialer/internal/leads"
	"cadence-dialer/internal/scheduler"
	"cadence-dialer/internal/sinks"
	"cadence-dialer/internal/telephony"
	"cadence-dialer/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// OutcomeEvent is the inbound delivery of a call result.
// TrackingToken, Destination, Category and EndedAt are required;
// an incomplete event is rejected before any state changes.
type OutcomeEvent struct {
	TrackingToken     string            `json:"tracking_token"`
	Destination       string            `json:"destination"`
	Category          string            `json:"outcome_category"`
	EndedAt           time.Time         `json:"ended_at"`
	TranscriptSummary string            `json:"transcript_summary,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

var ErrInvalidEvent = errors.New("reconcile: invalid outcome event")

func (e OutcomeEvent) validate() error {
	switch {
	case e.TrackingToken == "":
		return fmt.Errorf("%w: tracking_token required", ErrInvalidEvent)
	case e.Destination == "":
		return fmt.Errorf("%w: destination required", ErrInvalidEvent)
	case e.Category == "":
		return fmt.Errorf("%w: outcome_category required", ErrInvalidEvent)
	case e.EndedAt.IsZero():
		return fmt.Errorf("%w: ended_at required", ErrInvalidEvent)
	}
	return nil
}

// Reconciler resolves a delivered call result to its originating attempt
// (queue first contact vs ongoing cadence), runs the decision engine and
// persists the new contact state. Side-effect notifications are
// best-effort and never fail the primary transition.
type Reconciler struct {
	queue  hopper.Queue
	leads  leads.Repo
	store  *contacts.Store
	engine *cadence.Engine
	rules  *cadence.Rules
	sinks  *sinks.Service
	rdb    *redis.Client
	log    *slog.Logger

	// seen remembers tracking tokens whose transition already committed.
	seen marker
}

func New(queue hopper.Queue, leadRepo leads.Repo, store *contacts.Store, rules *cadence.Rules, sinkSvc *sinks.Service, rdb *redis.Client, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	r := &Reconciler{
		queue:  queue,
		leads:  leadRepo,
		store:  store,
		engine: cadence.NewEngine(rules),
		rules:  rules,
		sinks:  sinkSvc,
		rdb:    rdb,
		log:    log,
	}
	if rdb != nil {
		r.seen = redisMarker{rdb: rdb, ttl: 24 * time.Hour}
	}
	return r
}

// HandleOutcome processes one delivered call result and returns the
// resulting contact record.
func (r *Reconciler) HandleOutcome(ctx context.Context, ev OutcomeEvent) (cadence.Record, error) {
	if err := ev.validate(); err != nil {
		return cadence.Record{}, err
	}
	tok, err := telephony.ParseToken(ev.TrackingToken)
	if err != nil {
		return cadence.Record{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	log := r.log.With("destination", ev.Destination, "token", ev.TrackingToken)

	if r.alreadySeen(ctx, ev.TrackingToken) {
		// Upstream delivery was retried; the transition already happened.
		log.Info("duplicate outcome delivery ignored")
		rec, ok, err := r.store.Get(ctx, ev.Destination)
		if err != nil {
			return cadence.Record{}, err
		}
		if !ok {
			// Record purged since the first delivery; echo the identifier
			// so the response stays attributable.
			return cadence.Record{Identifier: ev.Destination}, nil
		}
		return rec, nil
	}

	outcome := cadence.OutcomeEvent{
		Identifier:        ev.Destination,
		Category:          cadence.ParseCategory(ev.Category),
		EndedAt:           ev.EndedAt.UTC(),
		TranscriptSummary: ev.TranscriptSummary,
		Metadata:          ev.Metadata,
	}

	var prior *cadence.Record
	switch tok.Origin {
	case telephony.OriginQueue:
		prior = r.queueOrigin(ctx, tok, ev, log)
	case telephony.OriginCadence:
		prior, err = r.cadenceOrigin(ctx, ev, log)
		if err != nil {
			return cadence.Record{}, err
		}
	}

	next, err := r.engine.Decide(prior, outcome)
	if err != nil {
		return cadence.Record{}, fmt.Errorf("reconcile: decide: %w", err)
	}
	if err := r.store.Upsert(ctx, next); err != nil {
		return cadence.Record{}, fmt.Errorf("reconcile: persist: %w", err)
	}

	r.markSeen(ctx, ev.TrackingToken)
	r.releaseDialCap(ctx)
	r.notify(ctx, ev, outcome, next, log)

	log.Info("outcome reconciled",
		"category", outcome.Category, "status", next.Status, "attempts", next.AttemptCount)
	return next, nil
}

// queueOrigin resolves the hand-off point from queue to cadence
// tracking: the entry completes and the lead's attributes seed the
// bootstrap record.
func (r *Reconciler) queueOrigin(ctx context.Context, tok telephony.Token, ev OutcomeEvent, log *slog.Logger) *cadence.Record {
	if err := r.queue.MarkCompleted(ctx, tok.EntryID); err != nil {
		// Inconsistent queue state is logged and skipped, not fatal:
		// the contact transition still has to happen.
		log.Warn("marking queue entry completed failed", "entry_id", tok.EntryID, "err", err)
	}

	bootstrap := cadence.Record{Identifier: ev.Destination, Status: cadence.StatusPending}
	lead, ok, err := r.leads.GetByID(ctx, tok.LeadID)
	if err != nil {
		log.Warn("lead fetch failed; bootstrapping without attributes", "lead_id", tok.LeadID, "err", err)
	} else if !ok {
		log.Warn("queue entry references missing lead", "lead_id", tok.LeadID)
	} else {
		bootstrap.Metadata = lead.Attributes
	}
	return &bootstrap
}

// cadenceOrigin loads the prior record for an ongoing-cadence outcome.
// Only confirmed absence bootstraps; a failed read must surface so the
// delivery is retried instead of overwriting the contact's history.
func (r *Reconciler) cadenceOrigin(ctx context.Context, ev OutcomeEvent, log *slog.Logger) (*cadence.Record, error) {
	rec, ok, err := r.store.Get(ctx, ev.Destination)
	if err != nil {
		return nil, fmt.Errorf("reconcile: record fetch: %w", err)
	}
	if !ok {
		// Tolerated inconsistency: a cadence token without a record.
		log.Warn("cadence outcome for unknown contact; bootstrapping")
		return nil, nil
	}
	return &rec, nil
}

func (r *Reconciler) notify(ctx context.Context, ev OutcomeEvent, outcome cadence.OutcomeEvent, next cadence.Record, log *slog.Logger) {
	if r.sinks == nil {
		return
	}

	meta := ""
	if ev.TranscriptSummary != "" || len(ev.Metadata) > 0 {
		b, err := json.Marshal(map[string]any{
			"transcript_summary": ev.TranscriptSummary,
			"metadata":           ev.Metadata,
		})
		if err == nil {
			meta = string(b)
		}
	}

	if err := r.sinks.RecordOutcome(ctx, next.Identifier, string(outcome.Category),
		string(next.Status), ev.TrackingToken, meta); err != nil {
		log.Warn("analytics sink failed", "err", err)
	}

	if next.Status == cadence.StatusPaused && r.rules.IsHandoff(outcome.Category) {
		if err := r.sinks.OpenHandoffTicket(ctx, next.Identifier,
			string(outcome.Category), ev.TrackingToken, ev.TranscriptSummary); err != nil {
			log.Warn("handoff ticket sink failed", "err", err)
		}
	}
}

// marker is the dedupe store for tracking tokens. Best-effort: losing
// the marker degrades to at-least-once delivery, which Decide's
// determinism keeps harmless for same-payload replays.
type marker interface {
	Seen(ctx context.Context, token string) (bool, error)
	Mark(ctx context.Context, token string) error
}

type redisMarker struct {
	rdb *redis.Client
	ttl time.Duration
}

func (m redisMarker) Seen(ctx context.Context, token string) (bool, error) {
	n, err := m.rdb.Exists(ctx, dedupeKey(token)).Result()
	return n > 0, err
}

func (m redisMarker) Mark(ctx context.Context, token string) error {
	return m.rdb.SetNX(ctx, dedupeKey(token), 1, m.ttl).Err()
}

// The marker is written only after a successful transition, so a failed
// attempt stays retryable.
func (r *Reconciler) alreadySeen(ctx context.Context, token string) bool {
	if r.seen == nil {
		return false
	}
	seen, err := r.seen.Seen(ctx, token)
	if err != nil {
		r.log.Warn("outcome dedupe check failed; proceeding", "err", err)
		return false
	}
	return seen
}

func (r *Reconciler) markSeen(ctx context.Context, token string) {
	if r.seen == nil {
		return
	}
	if err := r.seen.Mark(ctx, token); err != nil {
		r.log.Warn("outcome dedupe mark failed", "err", err)
	}
}

func (r *Reconciler) releaseDialCap(ctx context.Context) {
	if r.rdb == nil {
		return
	}
	if err := utils.ReleaseConcurrencyCap(ctx, r.rdb, scheduler.DialCapKey); err != nil {
		r.log.Warn("dial cap release failed", "err", err)
	}
}

func dedupeKey(token string) string {
	return "reconcile:seen:" + token
}
