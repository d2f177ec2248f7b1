package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cadence-dialer/internal/cadence"
	"cadence-dialer/internal/contacts"
	"cadence-dialer/internal/hopper"
	"cadence-dialer/internal/telephony"
	"cadence-dialer/pkg/utils"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// DialCapKey is the redis counter capping concurrent in-flight dials.
const DialCapKey = "dialer:cap:inflight"

// Options tunes one scheduler loop.
type Options struct {
	// DueBatch bounds how many due contacts one invocation processes.
	DueBatch int
	// FirstCallBatch bounds hopper claims per invocation.
	FirstCallBatch int
	// Parallelism bounds concurrent placements within the invocation.
	Parallelism int

	CallerID string
	AgentRef string

	// DialCapLimit > 0 enables the redis concurrent-dial cap; the TTL
	// covers the longest expected call so crashed processes cannot leak
	// capacity forever.
	DialCapLimit int
	DialCapTTL   time.Duration
}

func (o Options) withDefaults() Options {
	out := o
	if out.DueBatch <= 0 {
		out.DueBatch = 100
	}
	if out.FirstCallBatch <= 0 {
		out.FirstCallBatch = 25
	}
	if out.Parallelism <= 0 {
		out.Parallelism = 8
	}
	if out.DialCapTTL <= 0 {
		out.DialCapTTL = 15 * time.Minute
	}
	return out
}

// Loop is one stateless scheduler invocation over the contact store and
// the hopper. Invocations may run concurrently: the hopper claim is the
// only cross-process atomic step, and in-flight contacts are skipped by
// their call token rather than locked.
type Loop struct {
	store    *contacts.Store
	rules    *cadence.Rules
	queue    hopper.Queue
	provider telephony.Provider
	rdb      *redis.Client
	opts     Options
	log      *slog.Logger
	clock    func() time.Time

	// Cap indirection so tests can exercise throttling without redis.
	acquire func(ctx context.Context) bool
	release func(ctx context.Context)
}

func New(store *contacts.Store, rules *cadence.Rules, queue hopper.Queue, provider telephony.Provider, rdb *redis.Client, opts Options, log *slog.Logger) *Loop {
	if log == nil {
		log = slog.Default()
	}
	l := &Loop{
		store:    store,
		rules:    rules,
		queue:    queue,
		provider: provider,
		rdb:      rdb,
		opts:     opts.withDefaults(),
		log:      log,
		clock:    time.Now,
	}
	l.acquire = l.acquireCap
	l.release = l.releaseCap
	return l
}

// Report accumulates per-invocation counts for operators.
type Report struct {
	Due        int `json:"due"`
	Dialed     int `json:"dialed"`
	FirstCalls int `json:"first_calls"`
	Exhausted  int `json:"exhausted"`
	Errored    int `json:"errored"`
	Skipped    int `json:"skipped"`
}

// RunOnce executes one scheduler pass.
//
// Only a failure of the due query itself aborts the invocation; every
// per-contact failure is logged, counted and isolated from siblings.
func (l *Loop) RunOnce(ctx context.Context) (Report, error) {
	now := l.clock().UTC()

	due, err := l.store.QueryDue(ctx, now, l.opts.DueBatch)
	if err != nil {
		return Report{}, fmt.Errorf("scheduler: due query: %w", err)
	}

	var mu sync.Mutex
	rep := Report{Due: len(due)}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.Parallelism)
	for _, rec := range due {
		rec := rec
		g.Go(func() error {
			outcome := l.processDue(gctx, rec, now)
			mu.Lock()
			switch outcome {
			case dialPlaced:
				rep.Dialed++
			case dialExhausted:
				rep.Exhausted++
			case dialErrored:
				rep.Errored++
			case dialSkipped:
				rep.Skipped++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	l.firstCalls(ctx, &rep)

	l.log.Info("scheduler run complete",
		"due", rep.Due, "dialed", rep.Dialed, "first_calls", rep.FirstCalls,
		"exhausted", rep.Exhausted, "errored", rep.Errored, "skipped", rep.Skipped)
	return rep, nil
}

type dialOutcome int

const (
	dialPlaced dialOutcome = iota
	dialExhausted
	dialErrored
	dialSkipped
)

func (l *Loop) processDue(ctx context.Context, rec cadence.Record, now time.Time) dialOutcome {
	log := l.log.With("identifier", rec.Identifier)

	// A set token means a placement is already in flight (or crashed
	// mid-flight, which SweepStale recovers). Never double-dial.
	if rec.CallToken != "" {
		log.Debug("skipping contact with in-flight call token")
		return dialSkipped
	}

	pol := l.rules.Resolve(rec.AttemptCount, rec.LastOutcome)
	if max := pol.MaxAttempts(); rec.AttemptCount >= max {
		rec.Status = cadence.StatusCompletedExhausted
		if fs := pol.FinalStatus; fs != "" {
			rec.Status = fs
		}
		rec.NextCallAt = nil
		if err := l.store.Upsert(ctx, rec); err != nil {
			log.Error("persisting exhaustion failed", "err", err)
			return dialErrored
		}
		log.Info("contact exhausted before dial", "attempts", rec.AttemptCount, "status", rec.Status)
		return dialExhausted
	}

	if !l.acquire(ctx) {
		log.Debug("dial cap reached; contact remains due")
		return dialSkipped
	}

	// Reserve before placing: a crash mid-placement leaves the contact
	// visibly in flight instead of silently reprocessed.
	rec.CallToken = telephony.NewCadenceToken(rec.Identifier)
	rec.TokenSetAt = &now
	if err := l.store.Upsert(ctx, rec); err != nil {
		log.Error("reserving call token failed", "err", err)
		l.release(ctx)
		return dialErrored
	}

	res, err := l.provider.Place(ctx, telephony.PlaceRequest{
		To:            rec.Identifier,
		From:          l.opts.CallerID,
		TrackingToken: rec.CallToken,
		AgentRef:      l.opts.AgentRef,
	})
	if err != nil || !res.Accepted {
		log.Warn("call placement failed", "err", err, "accepted", res.Accepted)
		rec.CallToken = ""
		rec.TokenSetAt = nil
		rec.Status = cadence.StatusError
		rec.NextCallAt = nil
		if perr := l.store.Upsert(ctx, rec); perr != nil {
			log.Error("reverting failed placement state failed", "err", perr)
		}
		l.release(ctx)
		return dialErrored
	}

	log.Info("retry call placed", "attempt", rec.AttemptCount+1, "provider_call_id", res.ProviderCallID)
	return dialPlaced
}

// firstCalls claims queue entries and places each lead's first call.
func (l *Loop) firstCalls(ctx context.Context, rep *Report) {
	for i := 0; i < l.opts.FirstCallBatch; i++ {
		// The cap is checked before the claim so a throttled tick leaves
		// entries pending for the next invocation instead of consuming
		// them. Mirrors the due pass, where capped contacts remain due.
		if !l.acquire(ctx) {
			l.log.Info("dial cap reached; deferring first calls")
			rep.Skipped++
			return
		}

		entry, ok, err := l.queue.ClaimNext(ctx)
		if err != nil {
			l.release(ctx)
			l.log.Error("hopper claim failed", "err", err)
			rep.Errored++
			return
		}
		if !ok {
			l.release(ctx)
			return
		}

		log := l.log.With("entry_id", entry.ID, "destination", entry.Destination)

		res, err := l.provider.Place(ctx, telephony.PlaceRequest{
			To:            entry.Destination,
			From:          l.opts.CallerID,
			TrackingToken: telephony.NewQueueToken(entry.ID, entry.LeadID),
			AgentRef:      l.opts.AgentRef,
		})
		if err != nil || !res.Accepted {
			log.Warn("first call placement failed", "err", err, "accepted", res.Accepted)
			reason := "placement not accepted"
			if err != nil {
				reason = err.Error()
			}
			if merr := l.queue.MarkError(ctx, entry.ID, reason); merr != nil {
				log.Error("marking entry errored failed", "err", merr)
			}
			l.release(ctx)
			rep.Errored++
			continue
		}

		log.Info("first call placed", "provider_call_id", res.ProviderCallID)
		rep.FirstCalls++
	}
}

// SweepStale reverts contacts whose call token has been in flight beyond
// the threshold to error state so they surface for operator attention
// instead of staying stuck in flight forever.
func (l *Loop) SweepStale(ctx context.Context, olderThan time.Duration) (int, error) {
	now := l.clock().UTC()
	cutoff := now.Add(-olderThan)

	due, err := l.store.QueryDue(ctx, now, 0)
	if err != nil {
		return 0, fmt.Errorf("scheduler: sweep query: %w", err)
	}

	swept := 0
	for _, rec := range due {
		if rec.CallToken == "" || rec.TokenSetAt == nil || rec.TokenSetAt.After(cutoff) {
			continue
		}
		l.log.Warn("reverting stale in-flight contact",
			"identifier", rec.Identifier, "token_set_at", rec.TokenSetAt)
		rec.CallToken = ""
		rec.TokenSetAt = nil
		rec.Status = cadence.StatusError
		rec.NextCallAt = nil
		if err := l.store.Upsert(ctx, rec); err != nil {
			l.log.Error("sweep upsert failed", "identifier", rec.Identifier, "err", err)
			continue
		}
		swept++
	}
	return swept, nil
}

func (l *Loop) acquireCap(ctx context.Context) bool {
	if l.rdb == nil || l.opts.DialCapLimit <= 0 {
		return true
	}
	ok, err := utils.AcquireConcurrencyCap(ctx, l.rdb, DialCapKey, l.opts.DialCapLimit, l.opts.DialCapTTL)
	if err != nil {
		// Cap is a throttle, not a correctness gate; fail open.
		l.log.Warn("dial cap check failed; proceeding", "err", err)
		return true
	}
	return ok
}

func (l *Loop) releaseCap(ctx context.Context) {
	if l.rdb == nil || l.opts.DialCapLimit <= 0 {
		return
	}
	if err := utils.ReleaseConcurrencyCap(ctx, l.rdb, DialCapKey); err != nil {
		l.log.Warn("dial cap release failed", "err", err)
	}
}
