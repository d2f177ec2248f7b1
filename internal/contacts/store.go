package contacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"cadence-dialer/internal/cadence"
)

// RecordRepo is the primary, durable store of contact cadence records.
// Get treats absence as "never contacted", not an error.
// Upsert writes the full record (last-writer-wins; no partial-field writes).
type RecordRepo interface {
	Get(ctx context.Context, identifier string) (cadence.Record, bool, error)
	GetBatch(ctx context.Context, identifiers []string) (map[string]cadence.Record, error)
	Upsert(ctx context.Context, rec cadence.Record) error
}

// ActiveIndex is the secondary membership set of callable contacts.
// It is advisory: membership may lag the primary record, and readers
// must tolerate dangling members.
//
// Scan follows the redis SSCAN contract: pass cursor 0 to start, iterate
// until the returned cursor is 0 again. Members may repeat across pages.
type ActiveIndex interface {
	Add(ctx context.Context, identifier string) error
	Remove(ctx context.Context, identifier string) error
	Scan(ctx context.Context, cursor uint64, count int64) (members []string, next uint64, err error)
}

// Store combines the primary record repo with the active index.
// Index maintenance is eventually consistent with the record write;
// the record is the source of truth.
type Store struct {
	records RecordRepo
	index   ActiveIndex
	log     *slog.Logger

	// scanCount is the page size hint passed to the index scan.
	scanCount int64
}

func NewStore(records RecordRepo, index ActiveIndex, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{records: records, index: index, log: log, scanCount: 256}
}

var ErrStoreUnavailable = errors.New("contacts: store unavailable")

// Get fetches a record by identifier. ok=false means never contacted.
func (s *Store) Get(ctx context.Context, identifier string) (cadence.Record, bool, error) {
	if identifier == "" {
		return cadence.Record{}, false, fmt.Errorf("contacts: identifier required")
	}
	return s.records.Get(ctx, identifier)
}

// Upsert persists the record, then reconciles active-index membership:
// callable statuses must be present, all others absent.
//
// An index Add failure is surfaced (the contact would otherwise never be
// scanned); a Remove failure only leaves a dangling member, which
// readers skip, so it is logged and tolerated.
func (s *Store) Upsert(ctx context.Context, rec cadence.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if err := s.records.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("contacts: upsert %s: %w", rec.Identifier, err)
	}

	if rec.Status.Callable() {
		if err := s.index.Add(ctx, rec.Identifier); err != nil {
			return fmt.Errorf("contacts: index add %s: %w", rec.Identifier, err)
		}
		return nil
	}
	if err := s.index.Remove(ctx, rec.Identifier); err != nil {
		s.log.Warn("active index remove failed; member left dangling",
			"identifier", rec.Identifier, "err", err)
	}
	return nil
}

// QueryDue returns every callable contact whose NextCallAt is at or
// before asOf, ordered by priority ascending (nil last) then NextCallAt
// ascending. This ordering is the admission control for call placement.
//
// The full index is cursored before the result is produced; identifiers
// repeated across scan pages are deduplicated. Dangling members (no
// backing record, or a record that is no longer callable) are skipped,
// logged, and queued for best-effort index repair — never an error.
//
// limit <= 0 means no limit.
func (s *Store) QueryDue(ctx context.Context, asOf time.Time, limit int) ([]cadence.Record, error) {
	seen := map[string]struct{}{}
	var due []cadence.Record

	cursor := uint64(0)
	for {
		members, next, err := s.index.Scan(ctx, cursor, s.scanCount)
		if err != nil {
			return nil, fmt.Errorf("%w: index scan: %v", ErrStoreUnavailable, err)
		}

		batch := members[:0:0]
		for _, m := range members {
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			batch = append(batch, m)
		}

		if len(batch) > 0 {
			recs, err := s.records.GetBatch(ctx, batch)
			if err != nil {
				return nil, fmt.Errorf("%w: record fetch: %v", ErrStoreUnavailable, err)
			}
			for _, id := range batch {
				rec, ok := recs[id]
				if !ok {
					s.repairDangling(ctx, id, "no backing record")
					continue
				}
				if !rec.Status.Callable() {
					s.repairDangling(ctx, id, string(rec.Status))
					continue
				}
				if rec.NextCallAt == nil || rec.NextCallAt.After(asOf) {
					continue
				}
				due = append(due, rec)
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		pi, pj := due[i].Priority, due[j].Priority
		switch {
		case pi != nil && pj != nil && *pi != *pj:
			return *pi < *pj
		case pi == nil && pj != nil:
			return false
		case pi != nil && pj == nil:
			return true
		}
		if !due[i].NextCallAt.Equal(*due[j].NextCallAt) {
			return due[i].NextCallAt.Before(*due[j].NextCallAt)
		}
		return due[i].Identifier < due[j].Identifier
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *Store) repairDangling(ctx context.Context, identifier, reason string) {
	s.log.Warn("skipping dangling active-index member", "identifier", identifier, "reason", reason)
	if err := s.index.Remove(ctx, identifier); err != nil {
		s.log.Warn("index repair failed", "identifier", identifier, "err", err)
	}
}
