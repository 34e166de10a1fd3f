package data

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS feed_states (
		feed_id    TEXT PRIMARY KEY,
		value      DOUBLE PRECISION NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		round_seq  BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS round_archives (
		id          TEXT PRIMARY KEY,
		feed_id     TEXT NOT NULL,
		round_seq   BIGINT NOT NULL,
		outcome     TEXT NOT NULL,
		value       DOUBLE PRECISION NOT NULL,
		confidence  DOUBLE PRECISION NOT NULL,
		closed_at   TIMESTAMPTZ NOT NULL,
		submissions JSONB NOT NULL,
		outliers    JSONB NOT NULL,
		UNIQUE (feed_id, round_seq)
	)`,
	`CREATE TABLE IF NOT EXISTS reporters (
		id            TEXT PRIMARY KEY,
		public_key    BYTEA NOT NULL,
		stake         BIGINT NOT NULL,
		reputation    DOUBLE PRECISION NOT NULL,
		status        TEXT NOT NULL,
		registered_at TIMESTAMPTZ NOT NULL,
		last_active   TIMESTAMPTZ NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS audit_events (
		id          TEXT PRIMARY KEY,
		type        TEXT NOT NULL,
		reporter_id TEXT NOT NULL,
		feed_id     TEXT NOT NULL DEFAULT '',
		round_seq   BIGINT NOT NULL DEFAULT 0,
		amount      BIGINT NOT NULL DEFAULT 0,
		detail      TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_round_archives_feed ON round_archives (feed_id, round_seq DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_reporter ON audit_events (reporter_id, created_at DESC)`,
}

func (r *PostgresRepository) initSchema(ctx context.Context) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, stmt := range schemaStatements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing schema transaction: %w", err)
	}

	return nil
}
