package hopper

import (
	"context"
	"database/sql"
	"time"

	"cadence-dialer/pkg/utils"
)

// PostgresQueue implements Queue over the hopper_entries table.
//
// Schema:
//
//	CREATE TABLE hopper_entries (
//	    id          TEXT PRIMARY KEY,
//	    lead_id     TEXT NOT NULL,
//	    destination TEXT NOT NULL,
//	    enqueued_at TIMESTAMPTZ NOT NULL,
//	    priority    INT,
//	    status      TEXT NOT NULL DEFAULT 'pending',
//	    claimed_at  TIMESTAMPTZ,
//	    resolved_at TIMESTAMPTZ,
//	    last_error  TEXT NOT NULL DEFAULT ''
//	);
//	CREATE INDEX hopper_entries_pending_idx
//	    ON hopper_entries (enqueued_at, priority) WHERE status = 'pending';
type PostgresQueue struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresQueue(db *sql.DB) *PostgresQueue {
	return &PostgresQueue{db: db, clock: time.Now}
}

func (q *PostgresQueue) Enqueue(ctx context.Context, e Entry) error {
	if err := e.validate(); err != nil {
		return err
	}
	if e.Status == "" {
		e.Status = StatusPending
	}
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = q.clock().UTC()
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO hopper_entries (id, lead_id, destination, enqueued_at, priority, status)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		e.ID, e.LeadID, e.Destination, e.EnqueuedAt, e.Priority, string(e.Status))
	return err
}

// ClaimNext selects and marks one pending entry in a single transaction.
// FOR UPDATE SKIP LOCKED makes claim-or-skip indivisible: concurrent
// claimers never block on each other and never see the same row.
func (q *PostgresQueue) ClaimNext(ctx context.Context) (Entry, bool, error) {
	var out Entry
	found := false

	err := utils.WithTx(ctx, q.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT id, lead_id, destination, enqueued_at, priority
			FROM hopper_entries
			WHERE status = 'pending'
			ORDER BY enqueued_at ASC, priority ASC NULLS LAST
			FOR UPDATE SKIP LOCKED
			LIMIT 1`)

		var priority sql.NullInt64
		err := row.Scan(&out.ID, &out.LeadID, &out.Destination, &out.EnqueuedAt, &priority)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		if priority.Valid {
			p := int(priority.Int64)
			out.Priority = &p
		}

		now := q.clock().UTC()
		if _, err := tx.ExecContext(ctx, `
			UPDATE hopper_entries SET status = 'claimed', claimed_at = $2
			WHERE id = $1`, out.ID, now); err != nil {
			return err
		}
		out.Status = StatusClaimed
		out.ClaimedAt = &now
		found = true
		return nil
	})
	if err != nil {
		return Entry{}, false, err
	}
	return out, found, nil
}

func (q *PostgresQueue) MarkCompleted(ctx context.Context, id string) error {
	return q.resolve(ctx, id, StatusCompleted, "")
}

func (q *PostgresQueue) MarkError(ctx context.Context, id, reason string) error {
	return q.resolve(ctx, id, StatusError, reason)
}

func (q *PostgresQueue) resolve(ctx context.Context, id string, status Status, reason string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE hopper_entries SET status = $2, resolved_at = $3, last_error = $4
		WHERE id = $1 AND status <> 'completed'`,
		id, string(status), q.clock().UTC(), reason)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (q *PostgresQueue) Get(ctx context.Context, id string) (Entry, bool, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, lead_id, destination, enqueued_at, priority, status, claimed_at, resolved_at, last_error
		FROM hopper_entries WHERE id = $1`, id)

	var e Entry
	var priority sql.NullInt64
	var status string
	err := row.Scan(&e.ID, &e.LeadID, &e.Destination, &e.EnqueuedAt, &priority,
		&status, &e.ClaimedAt, &e.ResolvedAt, &e.LastError)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	if priority.Valid {
		p := int(priority.Int64)
		e.Priority = &p
	}
	e.Status = Status(status)
	return e, true, nil
}
