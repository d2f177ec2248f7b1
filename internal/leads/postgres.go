package leads

import (
	"context"
	"database/sql"
	"encoding/json"
)

// PostgresRepo implements Repo over the leads table.
//
// Schema:
//
//	CREATE TABLE leads (
//	    id          TEXT PRIMARY KEY,
//	    destination TEXT NOT NULL UNIQUE,
//	    name        TEXT NOT NULL DEFAULT '',
//	    source      TEXT NOT NULL DEFAULT '',
//	    attributes  JSONB NOT NULL DEFAULT '{}',
//	    created_at  TIMESTAMPTZ NOT NULL
//	);
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Create(ctx context.Context, l Lead) error {
	attrs, err := json.Marshal(l.Attributes)
	if err != nil {
		return err
	}
	if l.Attributes == nil {
		attrs = []byte("{}")
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO leads (id, destination, name, source, attributes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		l.ID, l.Destination, l.Name, l.Source, attrs, l.CreatedAt)
	return err
}

func (r *PostgresRepo) GetByID(ctx context.Context, id string) (Lead, bool, error) {
	return r.getBy(ctx, `WHERE id = $1`, id)
}

func (r *PostgresRepo) GetByDestination(ctx context.Context, destination string) (Lead, bool, error) {
	return r.getBy(ctx, `WHERE destination = $1`, destination)
}

func (r *PostgresRepo) getBy(ctx context.Context, where, arg string) (Lead, bool, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, destination, name, source, attributes, created_at FROM leads `+where, arg)

	var l Lead
	var attrs []byte
	err := row.Scan(&l.ID, &l.Destination, &l.Name, &l.Source, &attrs, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return Lead{}, false, nil
	}
	if err != nil {
		return Lead{}, false, err
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &l.Attributes); err != nil {
			return Lead{}, false, err
		}
	}
	return l, true, nil
}
