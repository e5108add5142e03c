package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS ingest_queue (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	received_at INTEGER NOT NULL,
	payload TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	locked_until INTEGER NULL,
	status TEXT NOT NULL DEFAULT 'queued',
	last_error TEXT NULL,
	processed_at INTEGER NULL
)`,
	`CREATE INDEX IF NOT EXISTS ingest_queue_eligible_idx ON ingest_queue (status, received_at)`,
	`CREATE TABLE IF NOT EXISTS ingest_dead_letter (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	entry_id INTEGER NOT NULL,
	received_at INTEGER NOT NULL,
	payload TEXT NOT NULL,
	attempts INTEGER NOT NULL,
	last_error TEXT NULL,
	failed_at INTEGER NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS fact_telemetry (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	room TEXT NOT NULL DEFAULT '',
	desk TEXT NOT NULL DEFAULT '',
	device TEXT NOT NULL DEFAULT '',
	metric TEXT NOT NULL,
	value REAL NOT NULL,
	unit TEXT NOT NULL DEFAULT '',
	observed_at INTEGER NOT NULL,
	queue_entry_id INTEGER NULL,
	parent_path TEXT NOT NULL DEFAULT '',
	content_id TEXT NOT NULL DEFAULT '',
	inserted_at INTEGER NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS fact_telemetry_room_ts_idx ON fact_telemetry (room, observed_at)`,
	`CREATE TABLE IF NOT EXISTS fact_mood (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	parent_path TEXT NOT NULL,
	content_id TEXT NOT NULL,
	observed_at INTEGER NOT NULL,
	score INTEGER NOT NULL,
	label TEXT NOT NULL,
	confidence REAL NOT NULL,
	room TEXT NOT NULL DEFAULT '',
	desk TEXT NOT NULL DEFAULT '',
	device TEXT NOT NULL DEFAULT '',
	led_color TEXT NOT NULL,
	heuristic_score REAL NOT NULL,
	model_score REAL NULL,
	sources TEXT NULL,
	inserted_at INTEGER NOT NULL,
	UNIQUE (parent_path, content_id)
)`,
	`CREATE INDEX IF NOT EXISTS fact_mood_room_ts_idx ON fact_mood (room, observed_at)`,
	`CREATE TABLE IF NOT EXISTS operator_audit (
	id TEXT PRIMARY KEY,
	actor TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL DEFAULT '',
	action TEXT NOT NULL,
	resource_type TEXT NOT NULL DEFAULT '',
	resource_id TEXT NOT NULL DEFAULT '',
	metadata TEXT NULL,
	payload_digest TEXT NOT NULL DEFAULT '',
	ip TEXT NOT NULL DEFAULT '',
	user_agent TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
)`,
}

// Open opens a SQLite database and applies the schema.
// A single connection serializes writers, which the queue relies on.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("sqlite: empty path")
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate creates the pipeline tables when missing.
func Migrate(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.New("sqlite migrate: nil db")
	}
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite migrate: statement %d: %w", i, err)
		}
	}
	return nil
}
