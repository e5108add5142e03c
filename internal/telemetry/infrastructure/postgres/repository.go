package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	telemetry "workspace-mood-monitor/internal/telemetry/domain"
)

const defaultTelemetryTable = "fact_telemetry"

// TelemetryRepository is a Postgres implementation for canonical telemetry records.
type TelemetryRepository struct {
	db    *sql.DB
	table string
}

// NewTelemetryRepository constructs a repository with default table name.
func NewTelemetryRepository(db *sql.DB, opts ...RepositoryOption) *TelemetryRepository {
	repo := &TelemetryRepository{db: db, table: defaultTelemetryTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// RepositoryOption configures the repository.
type RepositoryOption func(*TelemetryRepository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *TelemetryRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// AppendRecords inserts all records of one envelope in a single transaction.
func (r *TelemetryRepository) AppendRecords(ctx context.Context, records []telemetry.TelemetryRecord) error {
	if r == nil || r.db == nil {
		return errors.New("telemetry repo: nil db")
	}
	if len(records) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	room,
	desk,
	device,
	metric,
	value,
	unit,
	observed_at,
	queue_entry_id,
	parent_path,
	content_id
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
)`, r.table)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		if rec.Metric == "" || rec.ObservedAt.IsZero() {
			_ = tx.Rollback()
			return errors.New("telemetry repo: invalid record")
		}
		entryID := sql.NullInt64{}
		if rec.Provenance.QueueEntryID > 0 {
			entryID = sql.NullInt64{Int64: rec.Provenance.QueueEntryID, Valid: true}
		}
		if _, err := stmt.ExecContext(
			ctx,
			rec.Room,
			rec.Desk,
			rec.Device,
			string(rec.Metric),
			rec.Value,
			rec.Unit,
			rec.ObservedAt.UTC(),
			entryID,
			rec.Provenance.ParentPath,
			rec.Provenance.ContentID,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// QueryRoom returns records for a room within [from, to), oldest first.
// An empty room matches every room.
func (r *TelemetryRepository) QueryRoom(ctx context.Context, room string, from, to time.Time) ([]telemetry.TelemetryRecord, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("telemetry query: nil db")
	}
	if from.IsZero() || to.IsZero() || !from.Before(to) {
		return nil, errors.New("telemetry query: invalid range")
	}

	query := fmt.Sprintf(`
SELECT room, desk, device, metric, value, unit, observed_at, COALESCE(queue_entry_id, 0), parent_path, content_id
FROM %s
WHERE ($1 = '' OR room = $1)
	AND observed_at >= $2
	AND observed_at < $3
ORDER BY observed_at ASC, id ASC`, r.table)

	rows, err := r.db.QueryContext(ctx, query, room, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []telemetry.TelemetryRecord
	for rows.Next() {
		var (
			rec    telemetry.TelemetryRecord
			metric string
		)
		if err := rows.Scan(
			&rec.Room,
			&rec.Desk,
			&rec.Device,
			&metric,
			&rec.Value,
			&rec.Unit,
			&rec.ObservedAt,
			&rec.Provenance.QueueEntryID,
			&rec.Provenance.ParentPath,
			&rec.Provenance.ContentID,
		); err != nil {
			return nil, err
		}
		rec.Metric = telemetry.Metric(metric)
		records = append(records, rec)
	}
	return records, rows.Err()
}
