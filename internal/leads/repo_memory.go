package leads

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory lead repository for tests and early development.
type MemoryRepo struct {
	mu     sync.Mutex
	byID   map[string]Lead
	byDest map[string]string // destination -> lead id
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: map[string]Lead{}, byDest: map[string]string{}}
}

func (r *MemoryRepo) Create(ctx context.Context, l Lead) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byDest[l.Destination]; dup {
		return ErrDuplicate
	}
	r.byID[l.ID] = l
	r.byDest[l.Destination] = l.ID
	return nil
}

func (r *MemoryRepo) GetByID(ctx context.Context, id string) (Lead, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.byID[id]
	return l, ok, nil
}

func (r *MemoryRepo) GetByDestination(ctx context.Context, destination string) (Lead, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byDest[destination]
	if !ok {
		return Lead{}, false, nil
	}
	return r.byID[id], true, nil
}
