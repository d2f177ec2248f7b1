package sinks

import (
	"context"
	"database/sql"
)

// PostgresRepo is the append-only Repository over the sink_events table.
//
// Schema:
//
//	CREATE TABLE sink_events (
//	    id             TEXT PRIMARY KEY,
//	    type           TEXT NOT NULL,
//	    identifier     TEXT NOT NULL,
//	    category       TEXT NOT NULL DEFAULT '',
//	    status         TEXT NOT NULL DEFAULT '',
//	    tracking_token TEXT NOT NULL DEFAULT '',
//	    message        TEXT NOT NULL DEFAULT '',
//	    metadata       TEXT NOT NULL DEFAULT '',
//	    created_at     TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX sink_events_created_at_idx ON sink_events (type, created_at);
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sink_events (
			id, type, identifier, category, status, tracking_token,
			message, metadata, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.ID, string(e.Type), e.Identifier, e.Category, e.Status,
		e.TrackingToken, e.Message, e.Metadata, e.CreatedAt)
	return err
}
