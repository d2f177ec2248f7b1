package contacts

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cadence-dialer/internal/cadence"
)

// PostgresRecords is the RecordRepo over the contact_cadence table.
//
// Schema:
//
//	CREATE TABLE contact_cadence (
//	    identifier      TEXT PRIMARY KEY,
//	    attempt_count   INT NOT NULL DEFAULT 0,
//	    status          TEXT NOT NULL,
//	    last_outcome    TEXT NOT NULL DEFAULT '',
//	    last_attempt_at TIMESTAMPTZ,
//	    next_call_at    TIMESTAMPTZ,
//	    call_token      TEXT NOT NULL DEFAULT '',
//	    token_set_at    TIMESTAMPTZ,
//	    priority        INT,
//	    metadata        JSONB NOT NULL DEFAULT '{}',
//	    updated_at      TIMESTAMPTZ NOT NULL
//	);
type PostgresRecords struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresRecords(db *sql.DB) *PostgresRecords {
	return &PostgresRecords{db: db, clock: time.Now}
}

const recordColumns = `identifier, attempt_count, status, last_outcome,
	last_attempt_at, next_call_at, call_token, token_set_at, priority, metadata`

func (r *PostgresRecords) Get(ctx context.Context, identifier string) (cadence.Record, bool, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM contact_cadence WHERE identifier = $1`, identifier)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return cadence.Record{}, false, nil
	}
	if err != nil {
		return cadence.Record{}, false, err
	}
	return rec, true, nil
}

func (r *PostgresRecords) GetBatch(ctx context.Context, identifiers []string) (map[string]cadence.Record, error) {
	out := make(map[string]cadence.Record, len(identifiers))
	if len(identifiers) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(identifiers))
	args := make([]any, len(identifiers))
	for i, id := range identifiers {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM contact_cadence WHERE identifier IN (`+
			strings.Join(placeholders, ",")+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out[rec.Identifier] = rec
	}
	return out, rows.Err()
}

func (r *PostgresRecords) Upsert(ctx context.Context, rec cadence.Record) error {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return err
	}
	if rec.Metadata == nil {
		meta = []byte("{}")
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO contact_cadence (
			identifier, attempt_count, status, last_outcome, last_attempt_at,
			next_call_at, call_token, token_set_at, priority, metadata, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (identifier) DO UPDATE SET
			attempt_count   = EXCLUDED.attempt_count,
			status          = EXCLUDED.status,
			last_outcome    = EXCLUDED.last_outcome,
			last_attempt_at = EXCLUDED.last_attempt_at,
			next_call_at    = EXCLUDED.next_call_at,
			call_token      = EXCLUDED.call_token,
			token_set_at    = EXCLUDED.token_set_at,
			priority        = EXCLUDED.priority,
			metadata        = EXCLUDED.metadata,
			updated_at      = EXCLUDED.updated_at`,
		rec.Identifier, rec.AttemptCount, string(rec.Status), string(rec.LastOutcome),
		rec.LastAttempt, rec.NextCallAt, rec.CallToken, rec.TokenSetAt, rec.Priority,
		meta, r.clock().UTC())
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (cadence.Record, error) {
	var (
		rec      cadence.Record
		status   string
		outcome  string
		priority sql.NullInt64
		meta     []byte
	)
	err := row.Scan(&rec.Identifier, &rec.AttemptCount, &status, &outcome,
		&rec.LastAttempt, &rec.NextCallAt, &rec.CallToken, &rec.TokenSetAt,
		&priority, &meta)
	if err != nil {
		return cadence.Record{}, err
	}
	rec.Status = cadence.Status(status)
	rec.LastOutcome = cadence.Category(outcome)
	if priority.Valid {
		p := int(priority.Int64)
		rec.Priority = &p
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
			return cadence.Record{}, fmt.Errorf("contacts: bad metadata for %s: %w", rec.Identifier, err)
		}
	}
	return rec, nil
}
