package postgres

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

// MoodRepository is a Postgres implementation for mood records.
type MoodRepository struct {
	db    *sql.DB
	table string
}

// Option configures the repository.
type Option func(*MoodRepository)

// WithTable overrides the default table name.
func WithTable(table string) Option {
	return func(repo *MoodRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewMoodRepository constructs a repository.
func NewMoodRepository(db *sql.DB, opts ...Option) *MoodRepository {
	repo := &MoodRepository{db: db, table: defaultMoodTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
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
INSERT INTO %s (%s)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (parent_path, content_id) DO NOTHING`, r.table, moodColumns)

	res, err := r.db.ExecContext(ctx, query,
		rec.ParentPath,
		rec.ContentID,
		rec.ObservedAt.UTC(),
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
		insertedAt,
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
WHERE ($1 = '' OR room = $1)
	AND observed_at >= $2
ORDER BY observed_at DESC, id DESC
LIMIT 1`, moodColumns, r.table)

	rows, err := r.db.QueryContext(ctx, query, room, since.UTC())
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
WHERE ($1 = '' OR room = $1)
	AND observed_at >= $2
	AND observed_at < $3
ORDER BY observed_at ASC, id ASC`, moodColumns, r.table)

	rows, err := r.db.QueryContext(ctx, query, room, from.UTC(), to.UTC())
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
			modelScore sql.NullFloat64
			sources    []byte
		)
		if err := rows.Scan(
			&rec.ParentPath,
			&rec.ContentID,
			&rec.ObservedAt,
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
			&rec.InsertedAt,
		); err != nil {
			return nil, err
		}
		rec.Label = mood.Label(label)
		if modelScore.Valid {
			v := modelScore.Float64
			rec.ModelScore = &v
		}
		if len(sources) > 0 {
			inputs := make(map[telemetry.Metric]mood.Input)
			if err := json.Unmarshal(sources, &inputs); err == nil {
				rec.Inputs = inputs
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
