package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mood "workspace-mood-monitor/internal/mood/domain"
	telemetry "workspace-mood-monitor/internal/telemetry/domain"
)

const defaultMoodTable = "fact_mood"

const moodColumns = `parent_path, content_id, observed_at, score, label, confidence, room, desk, device, led_color, heuristic_score, model_score, sources, inserted_at`

// MoodRepository stores mood records in SQLite with unix-millisecond timestamps.
type MoodRepository struct {
	db    *sql.DB
	table string
}

// NewMoodRepository constructs a repository.
func NewMoodRepository(db *sql.DB) *MoodRepository {
	return &MoodRepository{db: db, table: defaultMoodTable}
}

// Insert stores rec unless (parent_path, content_id) already exists.
func (r *MoodRepository) Insert(ctx context.Context, rec mood.MoodRecord) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("mood repo: nil db")
	}
	if rec.ParentPath == "" || rec.ContentID == "" {
		return false, errors.New("mood repo: parent path and content id required")
	}
	sources, err := json.Marshal(rec.Inputs)
	if err != nil {
		return false, err
	}
	modelScore := sql.NullFloat64{}
	if rec.ModelScore != nil {
		modelScore = sql.NullFloat64{Float64: *rec.ModelScore, Valid: true}
	}
	insertedAt := rec.InsertedAt
	if insertedAt.IsZero() {
		insertedAt = time.Now().UTC()
	}

	query := fmt.Sprintf(`
INSERT OR IGNORE INTO %s (%s)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, r.table, moodColumns)

	res, err := r.db.ExecContext(ctx, query,
		rec.ParentPath,
		rec.ContentID,
		rec.ObservedAt.UnixMilli(),
		rec.Score,
		string(rec.Label),
		rec.Confidence,
		rec.Room,
		rec.Desk,
		rec.Device,
		rec.LEDColor,
		rec.HeuristicScore,
		modelScore,
		string(sources),
		insertedAt.UnixMilli(),
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Latest returns the newest record for room observed at or after since.
func (r *MoodRepository) Latest(ctx context.Context, room string, since time.Time) (*mood.MoodRecord, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("mood repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE (? = '' OR room = ?)
	AND observed_at >= ?
ORDER BY observed_at DESC, id DESC
LIMIT 1`, moodColumns, r.table)

	rows, err := r.db.QueryContext(ctx, query, room, room, since.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records, err := scanRecords(rows)
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return &records[0], nil
}

// List returns records for room within [from, to), oldest first.
func (r *MoodRepository) List(ctx context.Context, room string, from, to time.Time) ([]mood.MoodRecord, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("mood repo: nil db")
	}
	if from.IsZero() || to.IsZero() || !from.Before(to) {
		return nil, errors.New("mood repo: invalid range")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE (? = '' OR room = ?)
	AND observed_at >= ?
	AND observed_at < ?
ORDER BY observed_at ASC, id ASC`, moodColumns, r.table)

	rows, err := r.db.QueryContext(ctx, query, room, room, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]mood.MoodRecord, error) {
	var records []mood.MoodRecord
	for rows.Next() {
		var (
			rec        mood.MoodRecord
			label      string
			observedAt int64
			insertedAt int64
			modelScore sql.NullFloat64
			sources    sql.NullString
		)
		if err := rows.Scan(
			&rec.ParentPath,
			&rec.ContentID,
			&observedAt,
			&rec.Score,
			&label,
			&rec.Confidence,
			&rec.Room,
			&rec.Desk,
			&rec.Device,
			&rec.LEDColor,
			&rec.HeuristicScore,
			&modelScore,
			&sources,
			&insertedAt,
		); err != nil {
			return nil, err
		}
		rec.Label = mood.Label(label)
		rec.ObservedAt = time.UnixMilli(observedAt).UTC()
		rec.InsertedAt = time.UnixMilli(insertedAt).UTC()
		if modelScore.Valid {
			v := modelScore.Float64
			rec.ModelScore = &v
		}
		if sources.Valid && sources.String != "" {
			inputs := make(map[telemetry.Metric]mood.Input)
			if err := json.Unmarshal([]byte(sources.String), &inputs); err == nil {
				rec.Inputs = inputs
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
