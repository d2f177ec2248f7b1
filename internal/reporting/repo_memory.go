package reporting

import (
	"context"
	"sync"
	"time"

	"cadence-dialer/internal/sinks"
)

// MemoryRepo is a simple in-memory reporting repository for tests and
// early development. It reads straight from a sink memory repo so the
// reconciler's events become reportable without extra plumbing.
type MemoryRepo struct {
	mu     sync.Mutex
	Events []sinks.Event
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

// FromSink builds a reporting repo view over an existing sink repo.
func FromSink(repo *sinks.MemoryRepo) *MemoryRepo {
	return &MemoryRepo{Events: repo.ByType(sinks.EventTypeOutcomeRecorded)}
}

func (r *MemoryRepo) ListOutcomeEvents(ctx context.Context, from, to time.Time) ([]sinks.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]sinks.Event, 0)
	for _, e := range r.Events {
		if !e.CreatedAt.IsZero() {
			if e.CreatedAt.Before(from) || !e.CreatedAt.Before(to) {
				continue
			}
		}
		out = append(out, e)
	}
	return out, nil
}
