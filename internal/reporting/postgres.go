package reporting

import (
	"context"
	"database/sql"
	"time"

	"cadence-dialer/internal/sinks"
)

// PostgresRepo reads reporting data from the sink_events table the
// reconciler appends to. Reporting never writes.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) ListOutcomeEvents(ctx context.Context, from, to time.Time) ([]sinks.Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, type, identifier, category, status, tracking_token,
			message, metadata, created_at
		FROM sink_events
		WHERE type = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at ASC`,
		string(sinks.EventTypeOutcomeRecorded), from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sinks.Event
	for rows.Next() {
		var (
			e   sinks.Event
			typ string
		)
		err := rows.Scan(&e.ID, &typ, &e.Identifier, &e.Category, &e.Status,
			&e.TrackingToken, &e.Message, &e.Metadata, &e.CreatedAt)
		if err != nil {
			return nil, err
		}
		e.Type = sinks.EventType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}
