package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	telemetry "workspace-mood-monitor/internal/telemetry/domain"
)

const defaultTelemetryTable = "fact_telemetry"

// TelemetryRepository stores telemetry records in SQLite with unix-millisecond timestamps.
type TelemetryRepository struct {
	db    *sql.DB
	table string
	now   func() time.Time
}

// NewTelemetryRepository constructs a repository.
func NewTelemetryRepository(db *sql.DB) *TelemetryRepository {
	return &TelemetryRepository{
		db:    db,
		table: defaultTelemetryTable,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// AppendRecords inserts all records in one transaction.
func (r *TelemetryRepository) AppendRecords(ctx context.Context, records []telemetry.TelemetryRecord) error {
	if r == nil || r.db == nil {
		return errors.New("telemetry repo: nil db")
	}
	if len(records) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
INSERT INTO %s (room, desk, device, metric, value, unit, observed_at, queue_entry_id, parent_path, content_id, inserted_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, r.table)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	insertedAt := r.now().UnixMilli()
	for _, rec := range records {
		if rec.Metric == "" || rec.ObservedAt.IsZero() {
			return errors.New("telemetry repo: invalid record")
		}
		entryID := sql.NullInt64{}
		if rec.Provenance.QueueEntryID > 0 {
			entryID = sql.NullInt64{Int64: rec.Provenance.QueueEntryID, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, query,
			rec.Room,
			rec.Desk,
			rec.Device,
			string(rec.Metric),
			rec.Value,
			rec.Unit,
			rec.ObservedAt.UnixMilli(),
			entryID,
			rec.Provenance.ParentPath,
			rec.Provenance.ContentID,
			insertedAt,
		); err != nil {
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
WHERE (? = '' OR room = ?)
	AND observed_at >= ?
	AND observed_at < ?
ORDER BY observed_at ASC, id ASC`, r.table)

	rows, err := r.db.QueryContext(ctx, query, room, room, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []telemetry.TelemetryRecord
	for rows.Next() {
		var (
			rec        telemetry.TelemetryRecord
			metric     string
			observedAt int64
		)
		if err := rows.Scan(
			&rec.Room,
			&rec.Desk,
			&rec.Device,
			&metric,
			&rec.Value,
			&rec.Unit,
			&observedAt,
			&rec.Provenance.QueueEntryID,
			&rec.Provenance.ParentPath,
			&rec.Provenance.ContentID,
		); err != nil {
			return nil, err
		}
		rec.Metric = telemetry.Metric(metric)
		rec.ObservedAt = time.UnixMilli(observedAt).UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}
