package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS ingest_queue (
	id BIGSERIAL PRIMARY KEY,
	received_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	payload JSONB NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	locked_until TIMESTAMPTZ NULL,
	status TEXT NOT NULL DEFAULT 'queued' CHECK (status IN ('queued', 'processing', 'done', 'failed')),
	last_error TEXT NULL,
	processed_at TIMESTAMPTZ NULL
)`,
	`CREATE INDEX IF NOT EXISTS ingest_queue_eligible_idx ON ingest_queue (status, received_at)`,
	`CREATE TABLE IF NOT EXISTS ingest_dead_letter (
	id BIGSERIAL PRIMARY KEY,
	entry_id BIGINT NOT NULL,
	received_at TIMESTAMPTZ NOT NULL,
	payload JSONB NOT NULL,
	attempts INTEGER NOT NULL,
	last_error TEXT NULL,
	failed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE TABLE IF NOT EXISTS fact_telemetry (
	id BIGSERIAL PRIMARY KEY,
	room TEXT NOT NULL DEFAULT '',
	desk TEXT NOT NULL DEFAULT '',
	device TEXT NOT NULL DEFAULT '',
	metric TEXT NOT NULL,
	value DOUBLE PRECISION NOT NULL,
	unit TEXT NOT NULL DEFAULT '',
	observed_at TIMESTAMPTZ NOT NULL,
	queue_entry_id BIGINT NULL,
	parent_path TEXT NOT NULL DEFAULT '',
	content_id TEXT NOT NULL DEFAULT '',
	inserted_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE INDEX IF NOT EXISTS fact_telemetry_room_ts_idx ON fact_telemetry (room, observed_at)`,
	`CREATE TABLE IF NOT EXISTS fact_mood (
	id BIGSERIAL PRIMARY KEY,
	parent_path TEXT NOT NULL,
	content_id TEXT NOT NULL,
	observed_at TIMESTAMPTZ NOT NULL,
	score INTEGER NOT NULL CHECK (score BETWEEN 0 AND 100),
	label TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	room TEXT NOT NULL DEFAULT '',
	desk TEXT NOT NULL DEFAULT '',
	device TEXT NOT NULL DEFAULT '',
	led_color TEXT NOT NULL,
	heuristic_score DOUBLE PRECISION NOT NULL,
	model_score DOUBLE PRECISION NULL,
	sources JSONB NULL,
	inserted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (parent_path, content_id)
)`,
	`CREATE INDEX IF NOT EXISTS fact_mood_room_ts_idx ON fact_mood (room, observed_at DESC)`,
	`CREATE TABLE IF NOT EXISTS operator_audit (
	id TEXT PRIMARY KEY,
	actor TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL DEFAULT '',
	action TEXT NOT NULL,
	resource_type TEXT NOT NULL DEFAULT '',
	resource_id TEXT NOT NULL DEFAULT '',
	metadata JSONB NULL,
	payload_digest TEXT NOT NULL DEFAULT '',
	ip TEXT NOT NULL DEFAULT '',
	user_agent TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
}

// Migrate creates the pipeline tables when missing.
func Migrate(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.New("postgres migrate: nil db")
	}
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: statement %d: %w", i, err)
		}
	}
	return nil
}
