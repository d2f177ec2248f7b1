package contacts

import (
	"context"
	"sort"
	"sync"

	"cadence-dialer/internal/cadence"
)

// MemoryRecords is an in-memory RecordRepo for tests and early development.
type MemoryRecords struct {
	mu   sync.Mutex
	recs map[string]cadence.Record
}

func NewMemoryRecords() *MemoryRecords {
	return &MemoryRecords{recs: map[string]cadence.Record{}}
}

func (r *MemoryRecords) Get(ctx context.Context, identifier string) (cadence.Record, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[identifier]
	if !ok {
		return cadence.Record{}, false, nil
	}
	return rec.Clone(), true, nil
}

func (r *MemoryRecords) GetBatch(ctx context.Context, identifiers []string) (map[string]cadence.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]cadence.Record, len(identifiers))
	for _, id := range identifiers {
		if rec, ok := r.recs[id]; ok {
			out[id] = rec.Clone()
		}
	}
	return out, nil
}

func (r *MemoryRecords) Upsert(ctx context.Context, rec cadence.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs[rec.Identifier] = rec.Clone()
	return nil
}

// MemoryIndex is an in-memory ActiveIndex. Scan returns the whole set in
// one page (cursor contract preserved: next is always 0).
type MemoryIndex struct {
	mu      sync.Mutex
	members map[string]struct{}

	// Extra lets tests inject duplicate or dangling members to exercise
	// the reader's dedupe and repair paths.
	Extra []string
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{members: map[string]struct{}{}}
}

func (x *MemoryIndex) Add(ctx context.Context, identifier string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.members[identifier] = struct{}{}
	return nil
}

func (x *MemoryIndex) Remove(ctx context.Context, identifier string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.members, identifier)
	return nil
}

func (x *MemoryIndex) Scan(ctx context.Context, cursor uint64, count int64) ([]string, uint64, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]string, 0, len(x.members)+len(x.Extra))
	for m := range x.members {
		out = append(out, m)
	}
	sort.Strings(out)
	out = append(out, x.Extra...)
	return out, 0, nil
}

// Contains is a test helper.
func (x *MemoryIndex) Contains(identifier string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, ok := x.members[identifier]
	return ok
}
