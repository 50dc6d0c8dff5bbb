package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer runs a statement. *pgxpool.Pool and pgx.Tx satisfy it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// schema creates the observations table. Statements are idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS observations (
		id          UUID PRIMARY KEY,
		observer_id UUID NOT NULL,
		topic       TEXT NOT NULL,
		status      TEXT NOT NULL,
		version     BIGINT NOT NULL,
		payload     JSONB,
		observed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS observations_topic_observed_at_idx
		ON observations (topic, observed_at DESC)`,
}

// EnsureSchema creates the tables the recorder writes to.
func EnsureSchema(ctx context.Context, db Execer) error {
	for i, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
