package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sqlitestorage "workspace-mood-monitor/internal/storage/sqlite"
	telemetry "workspace-mood-monitor/internal/telemetry/domain"
)

func TestTelemetryRepository_AppendAndQuery(t *testing.T) {
	ctx := context.Background()
	db, err := sqlitestorage.Open(ctx, filepath.Join(t.TempDir(), "telemetry.db"))
	require.NoError(t, err)
	defer db.Close()

	repo := NewTelemetryRepository(db)
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	env := telemetry.NormalizedEnvelope{
		ParentPath: "/cse/ae/room1/desk1",
		ContentID:  "cin-1",
		ObservedAt: at,
		Room:       "room1",
		Desk:       "desk1",
		Device:     "sensor-a",
		Metrics: map[telemetry.Metric]float64{
			telemetry.MetricCO2:         650,
			telemetry.MetricTemperature: 22,
		},
	}
	other := env
	other.Room = "room2"

	require.NoError(t, repo.AppendRecords(ctx, env.Records(11)))
	require.NoError(t, repo.AppendRecords(ctx, other.Records(12)))

	records, err := repo.QueryRoom(ctx, "room1", at.Add(-time.Hour), at.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, telemetry.MetricCO2, records[0].Metric)
	assert.Equal(t, telemetry.MetricTemperature, records[1].Metric)
	assert.True(t, records[0].ObservedAt.Equal(at))
	assert.Equal(t, int64(11), records[0].Provenance.QueueEntryID)

	all, err := repo.QueryRoom(ctx, "", at.Add(-time.Hour), at.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, all, 4)

	none, err := repo.QueryRoom(ctx, "room1", at.Add(time.Minute), at.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, none)
}
