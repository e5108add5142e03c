package integration_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	ingestqueue "workspace-mood-monitor/internal/ingestqueue/domain"
	queuepostgres "workspace-mood-monitor/internal/ingestqueue/infrastructure/postgres"
	pgstorage "workspace-mood-monitor/internal/storage/postgres"
)

func TestPostgresQueue_RetryDeadLetterRequeue(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := pgstorage.Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM ingest_dead_letter`); err != nil {
		t.Fatalf("clean dead letters: %v", err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM ingest_queue`); err != nil {
		t.Fatalf("clean queue: %v", err)
	}

	store := queuepostgres.NewStore(db, queuepostgres.WithMaxAttempts(2))
	payload := json.RawMessage(`{"room":"Room01","desk":"Desk01","co2":640}`)
	id, err := store.Enqueue(ctx, payload)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	for attempt := 1; attempt <= 2; attempt++ {
		entry, err := store.LeaseNext(ctx, 30*time.Second)
		if err != nil {
			t.Fatalf("lease %d: %v", attempt, err)
		}
		if entry == nil || entry.ID != id {
			t.Fatalf("lease %d: expected entry %d, got %+v", attempt, id, entry)
		}
		if again, err := store.LeaseNext(ctx, 30*time.Second); err != nil || again != nil {
			t.Fatalf("leased entry visible twice: %+v err=%v", again, err)
		}
		status, err := store.Nack(ctx, entry.Lease(), errors.New("sink unavailable"), 0)
		if err != nil {
			t.Fatalf("nack %d: %v", attempt, err)
		}
		want := ingestqueue.StatusQueued
		if attempt == 2 {
			want = ingestqueue.StatusFailed
		}
		if status != want {
			t.Fatalf("nack %d: expected %s, got %s", attempt, want, status)
		}
	}

	letters, err := store.ListDeadLetters(ctx, 10)
	if err != nil {
		t.Fatalf("list dead letters: %v", err)
	}
	if len(letters) != 1 || letters[0].EntryID != id || letters[0].Attempts != 2 {
		t.Fatalf("unexpected dead letters: %+v", letters)
	}
	if letters[0].LastError != "sink unavailable" {
		t.Fatalf("expected last error, got %q", letters[0].LastError)
	}

	requeued, err := store.Requeue(ctx, letters[0].ID)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	entry, err := store.LeaseNext(ctx, 30*time.Second)
	if err != nil || entry == nil || entry.ID != requeued {
		t.Fatalf("expected requeued entry %d, got %+v err=%v", requeued, entry, err)
	}
	var got, want map[string]any
	_ = json.Unmarshal(entry.Payload, &got)
	_ = json.Unmarshal(payload, &want)
	if got["co2"] != want["co2"] {
		t.Fatalf("payload changed on requeue: %s", entry.Payload)
	}
	if err := store.Ack(ctx, entry.Lease()); err != nil {
		t.Fatalf("ack: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Done != 1 || stats.Failed != 1 || stats.DeadLetters != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
