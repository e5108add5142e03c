package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	_ "github.com/jackc/pgx/v5/stdlib"

	"workspace-mood-monitor/internal/audit"
	ingestqueue "workspace-mood-monitor/internal/ingestqueue/domain"
	queuememory "workspace-mood-monitor/internal/ingestqueue/infrastructure/memory"
	queuepostgres "workspace-mood-monitor/internal/ingestqueue/infrastructure/postgres"
	queuesqlite "workspace-mood-monitor/internal/ingestqueue/infrastructure/sqlite"
	mood "workspace-mood-monitor/internal/mood/domain"
	moodmemory "workspace-mood-monitor/internal/mood/infrastructure/memory"
	moodpostgres "workspace-mood-monitor/internal/mood/infrastructure/postgres"
	moodsqlite "workspace-mood-monitor/internal/mood/infrastructure/sqlite"
	pgstorage "workspace-mood-monitor/internal/storage/postgres"
	sqlitestorage "workspace-mood-monitor/internal/storage/sqlite"
	telemetry "workspace-mood-monitor/internal/telemetry/domain"
	telemetrymemory "workspace-mood-monitor/internal/telemetry/infrastructure/memory"
	telemetrypostgres "workspace-mood-monitor/internal/telemetry/infrastructure/postgres"
	telemetrysqlite "workspace-mood-monitor/internal/telemetry/infrastructure/sqlite"
)

type queueStore interface {
	ingestqueue.Store
	ingestqueue.DeadLetterStore
}

type telemetryStore interface {
	telemetry.TelemetryRepository
	telemetry.TelemetryQuery
}

type storage struct {
	db        *sql.DB
	queue     queueStore
	telemetry telemetryStore
	moods     mood.Repository
	audit     audit.Logger
}

func (s *storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func openStorage(ctx context.Context, cfg config, logger *log.Logger) (*storage, error) {
	switch cfg.StorageDriver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL or PG_DSN is required for postgres storage")
		}
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("db open: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("db ping: %w", err)
		}
		if err := pgstorage.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		return &storage{
			db:        db,
			queue:     queuepostgres.NewStore(db, queuepostgres.WithMaxAttempts(cfg.QueueMaxAttempts)),
			telemetry: telemetrypostgres.NewTelemetryRepository(db),
			moods:     moodpostgres.NewMoodRepository(db),
			audit:     audit.NewRepository(db, audit.Postgres),
		}, nil
	case "sqlite":
		db, err := sqlitestorage.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &storage{
			db:        db,
			queue:     queuesqlite.NewStore(db, queuesqlite.WithMaxAttempts(cfg.QueueMaxAttempts)),
			telemetry: telemetrysqlite.NewTelemetryRepository(db),
			moods:     moodsqlite.NewMoodRepository(db),
			audit:     audit.NewRepository(db, audit.SQLite),
		}, nil
	case "memory":
		logger.Printf("storage: memory driver, data is lost on exit")
		return &storage{
			queue:     queuememory.NewStore(queuememory.WithMaxAttempts(cfg.QueueMaxAttempts)),
			telemetry: telemetrymemory.NewTelemetryRepository(),
			moods:     moodmemory.NewMoodRepository(),
		}, nil
	}
	return nil, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
}
