package hopper

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryQueue is an in-memory Queue for tests and early development.
// The mutex makes ClaimNext the same indivisible select-and-mark step
// the Postgres implementation gets from FOR UPDATE SKIP LOCKED.
type MemoryQueue struct {
	mu      sync.Mutex
	entries map[string]*Entry
	clock   func() time.Time
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{entries: map[string]*Entry{}, clock: time.Now}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, e Entry) error {
	if err := e.validate(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if e.Status == "" {
		e.Status = StatusPending
	}
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = q.clock().UTC()
	}
	cp := e
	q.entries[e.ID] = &cp
	return nil
}

func (q *MemoryQueue) ClaimNext(ctx context.Context) (Entry, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var pending []*Entry
	for _, e := range q.entries {
		if e.Status == StatusPending {
			pending = append(pending, e)
		}
	}
	if len(pending) == 0 {
		return Entry{}, false, nil
	}

	sort.Slice(pending, func(i, j int) bool {
		if !pending[i].EnqueuedAt.Equal(pending[j].EnqueuedAt) {
			return pending[i].EnqueuedAt.Before(pending[j].EnqueuedAt)
		}
		pi, pj := pending[i].Priority, pending[j].Priority
		switch {
		case pi != nil && pj != nil && *pi != *pj:
			return *pi < *pj
		case pi == nil && pj != nil:
			return false
		case pi != nil && pj == nil:
			return true
		}
		return pending[i].ID < pending[j].ID
	})

	e := pending[0]
	now := q.clock().UTC()
	e.Status = StatusClaimed
	e.ClaimedAt = &now
	return *e, true, nil
}

func (q *MemoryQueue) MarkCompleted(ctx context.Context, id string) error {
	return q.resolve(id, StatusCompleted, "")
}

func (q *MemoryQueue) MarkError(ctx context.Context, id, reason string) error {
	return q.resolve(id, StatusError, reason)
}

func (q *MemoryQueue) resolve(id string, status Status, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok || e.Status == StatusCompleted {
		return ErrNotFound
	}
	now := q.clock().UTC()
	e.Status = status
	e.ResolvedAt = &now
	e.LastError = reason
	return nil
}

func (q *MemoryQueue) Get(ctx context.Context, id string) (Entry, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok {
		return Entry{}, false, nil
	}
	return *e, true, nil
}
