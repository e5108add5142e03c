package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mood "workspace-mood-monitor/internal/mood/domain"
	telemetry "workspace-mood-monitor/internal/telemetry/domain"
)

var moodColumnNames = []string{"parent_path", "content_id", "observed_at", "score", "label", "confidence", "room", "desk", "device", "led_color", "heuristic_score", "model_score", "sources", "inserted_at"}

func sampleRecord() mood.MoodRecord {
	return mood.MoodRecord{
		ParentPath:     "/cse/ae/room1/desk1/telemetry",
		ContentID:      "cin-1",
		ObservedAt:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Score:          90,
		Label:          mood.LabelFocus,
		Confidence:     1,
		Room:           "room1",
		Desk:           "desk1",
		LEDColor:       "#33FF00",
		HeuristicScore: 93.75,
		Inputs: map[telemetry.Metric]mood.Input{
			telemetry.MetricCO2: {Value: 650, Source: mood.SourceEnvelope},
		},
		InsertedAt: time.Date(2026, 3, 1, 9, 0, 1, 0, time.UTC),
	}
}

func TestMoodRepository_InsertSkipsDuplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	query := regexp.QuoteMeta("ON CONFLICT (parent_path, content_id) DO NOTHING")
	mock.ExpectExec(query).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(query).WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewMoodRepository(db)
	inserted, err := repo.Insert(context.Background(), sampleRecord())
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.Insert(context.Background(), sampleRecord())
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMoodRepository_InsertRequiresIdentity(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rec := sampleRecord()
	rec.ContentID = ""
	_, err = NewMoodRepository(db).Insert(context.Background(), rec)
	assert.Error(t, err)
}

func TestMoodRepository_Latest(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rec := sampleRecord()
	since := rec.ObservedAt.Add(-time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY observed_at DESC, id DESC")).
		WithArgs("room1", since).
		WillReturnRows(sqlmock.NewRows(moodColumnNames).AddRow(
			rec.ParentPath, rec.ContentID, rec.ObservedAt, rec.Score, "focus", rec.Confidence,
			rec.Room, rec.Desk, "", rec.LEDColor, rec.HeuristicScore, 88.5,
			[]byte(`{"co2":{"value":650,"source":"envelope"}}`), rec.InsertedAt,
		))

	got, err := NewMoodRepository(db).Latest(context.Background(), "room1", since)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 90, got.Score)
	assert.Equal(t, mood.LabelFocus, got.Label)
	require.NotNil(t, got.ModelScore)
	assert.Equal(t, 88.5, *got.ModelScore)
	assert.Equal(t, mood.SourceEnvelope, got.Inputs[telemetry.MetricCO2].Source)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMoodRepository_LatestNone(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM fact_mood")).WillReturnRows(sqlmock.NewRows(moodColumnNames))

	got, err := NewMoodRepository(db).Latest(context.Background(), "", time.Now())
	require.NoError(t, err)
	assert.Nil(t, got)
}
