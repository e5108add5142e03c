package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	ingestqueue "workspace-mood-monitor/internal/ingestqueue/domain"
)

const (
	defaultQueueTable      = "ingest_queue"
	defaultDeadLetterTable = "ingest_dead_letter"
)

// Store is a Postgres implementation of the durable queue.
type Store struct {
	db              *sql.DB
	queueTable      string
	deadLetterTable string
	maxAttempts     int
}

// Option configures the store.
type Option func(*Store)

// WithQueueTable overrides the queue table name.
func WithQueueTable(table string) Option {
	return func(s *Store) {
		if table != "" {
			s.queueTable = table
		}
	}
}

// WithDeadLetterTable overrides the dead letter table name.
func WithDeadLetterTable(table string) Option {
	return func(s *Store) {
		if table != "" {
			s.deadLetterTable = table
		}
	}
}

// WithMaxAttempts overrides the attempt budget.
func WithMaxAttempts(max int) Option {
	return func(s *Store) {
		if max > 0 {
			s.maxAttempts = max
		}
	}
}

// NewStore constructs a queue store.
func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:              db,
		queueTable:      defaultQueueTable,
		deadLetterTable: defaultDeadLetterTable,
		maxAttempts:     ingestqueue.DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue appends a payload with status queued.
func (s *Store) Enqueue(ctx context.Context, payload json.RawMessage) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("ingest queue: nil db")
	}
	if !json.Valid(payload) {
		return 0, errors.New("ingest queue: invalid payload")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (payload, status, attempts, received_at)
VALUES ($1, 'queued', 0, NOW())
RETURNING id`, s.queueTable)
	var id int64
	if err := s.db.QueryRowContext(ctx, query, []byte(payload)).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// LeaseNext leases the oldest queued entry or an entry whose lease expired.
func (s *Store) LeaseNext(ctx context.Context, lease time.Duration) (*ingestqueue.QueueEntry, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("ingest queue: nil db")
	}
	query := fmt.Sprintf(`
WITH next AS (
	SELECT id
	FROM %s
	WHERE (status = 'queued' AND (locked_until IS NULL OR locked_until <= NOW()))
	   OR (status = 'processing' AND locked_until < NOW())
	ORDER BY received_at, id
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
UPDATE %s q
SET status = 'processing',
	locked_until = NOW() + ($1::bigint * INTERVAL '1 millisecond')
FROM next
WHERE q.id = next.id
RETURNING q.id, q.received_at, q.payload, q.attempts, q.locked_until, q.status, COALESCE(q.last_error, '')`, s.queueTable, s.queueTable)

	var (
		entry       ingestqueue.QueueEntry
		payload     []byte
		lockedUntil sql.NullTime
		status      string
	)
	err := s.db.QueryRowContext(ctx, query, lease.Milliseconds()).Scan(
		&entry.ID,
		&entry.ReceivedAt,
		&payload,
		&entry.Attempts,
		&lockedUntil,
		&status,
		&entry.LastError,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	entry.Payload = json.RawMessage(payload)
	entry.Status = ingestqueue.Status(status)
	if lockedUntil.Valid {
		t := lockedUntil.Time.UTC()
		entry.LockedUntil = &t
	}
	entry.ReceivedAt = entry.ReceivedAt.UTC()
	return &entry, nil
}

// Ack marks a leased entry done.
func (s *Store) Ack(ctx context.Context, lease ingestqueue.Lease) error {
	if s == nil || s.db == nil {
		return errors.New("ingest queue: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = 'done', locked_until = NULL, processed_at = NOW()
WHERE id = $1 AND status = 'processing' AND locked_until = $2`, s.queueTable)
	res, err := s.db.ExecContext(ctx, query, lease.EntryID, lease.Until)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ingestqueue.ErrNotLeased
	}
	return nil
}

// Nack records a failed attempt in one transaction.
func (s *Store) Nack(ctx context.Context, lease ingestqueue.Lease, cause error, retryDelay time.Duration) (ingestqueue.Status, error) {
	if s == nil || s.db == nil {
		return "", errors.New("ingest queue: nil db")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	id := lease.EntryID
	attempts, status, err := s.lockEntry(ctx, tx, lease)
	if err != nil {
		return status, err
	}
	attempts++
	lastError := ingestqueue.TruncateError(cause)

	if attempts >= s.maxAttempts {
		if err := s.failEntry(ctx, tx, id, attempts, lastError); err != nil {
			return "", err
		}
		if err := tx.Commit(); err != nil {
			return "", err
		}
		return ingestqueue.StatusFailed, nil
	}

	query := fmt.Sprintf(`
UPDATE %s
SET status = 'queued',
	attempts = $2,
	last_error = $3,
	locked_until = CASE WHEN $4::bigint > 0 THEN NOW() + ($4::bigint * INTERVAL '1 millisecond') ELSE NULL END
WHERE id = $1`, s.queueTable)
	if _, err := tx.ExecContext(ctx, query, id, attempts, lastError, retryDelay.Milliseconds()); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return ingestqueue.StatusQueued, nil
}

// DeadLetter fails an entry immediately, bypassing the retry budget.
func (s *Store) DeadLetter(ctx context.Context, lease ingestqueue.Lease, cause error) error {
	if s == nil || s.db == nil {
		return errors.New("ingest queue: nil db")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	attempts, _, err := s.lockEntry(ctx, tx, lease)
	if err != nil {
		return err
	}
	if err := s.failEntry(ctx, tx, lease.EntryID, attempts+1, ingestqueue.TruncateError(cause)); err != nil {
		return err
	}
	return tx.Commit()
}

// lockEntry row-locks an entry and checks that lease still holds it.
func (s *Store) lockEntry(ctx context.Context, tx *sql.Tx, lease ingestqueue.Lease) (int, ingestqueue.Status, error) {
	query := fmt.Sprintf(`SELECT attempts, status, locked_until FROM %s WHERE id = $1 FOR UPDATE`, s.queueTable)
	var (
		attempts    int
		status      string
		lockedUntil sql.NullTime
	)
	err := tx.QueryRowContext(ctx, query, lease.EntryID).Scan(&attempts, &status, &lockedUntil)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", ingestqueue.ErrNotFound
	}
	if err != nil {
		return 0, "", err
	}
	var until *time.Time
	if lockedUntil.Valid {
		until = &lockedUntil.Time
	}
	if !lease.Holds(ingestqueue.Status(status), until) {
		return attempts, ingestqueue.Status(status), ingestqueue.ErrNotLeased
	}
	return attempts, ingestqueue.Status(status), nil
}

func (s *Store) failEntry(ctx context.Context, tx *sql.Tx, id int64, attempts int, lastError string) error {
	update := fmt.Sprintf(`
UPDATE %s
SET status = 'failed', attempts = $2, last_error = $3, locked_until = NULL, processed_at = NOW()
WHERE id = $1`, s.queueTable)
	if _, err := tx.ExecContext(ctx, update, id, attempts, lastError); err != nil {
		return err
	}
	insert := fmt.Sprintf(`
INSERT INTO %s (entry_id, received_at, payload, attempts, last_error, failed_at)
SELECT id, received_at, payload, attempts, last_error, NOW()
FROM %s
WHERE id = $1`, s.deadLetterTable, s.queueTable)
	_, err := tx.ExecContext(ctx, insert, id)
	return err
}

// ListDeadLetters returns the newest dead letters first.
func (s *Store) ListDeadLetters(ctx context.Context, limit int) ([]ingestqueue.DeadLetter, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("ingest queue: nil db")
	}
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
SELECT id, entry_id, received_at, payload, attempts, COALESCE(last_error, ''), failed_at
FROM %s
ORDER BY id DESC
LIMIT $1`, s.deadLetterTable)
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var letters []ingestqueue.DeadLetter
	for rows.Next() {
		var (
			dl      ingestqueue.DeadLetter
			payload []byte
		)
		if err := rows.Scan(&dl.ID, &dl.EntryID, &dl.ReceivedAt, &payload, &dl.Attempts, &dl.LastError, &dl.FailedAt); err != nil {
			return nil, err
		}
		dl.Payload = json.RawMessage(payload)
		letters = append(letters, dl)
	}
	return letters, rows.Err()
}

// Requeue enqueues a dead letter's payload as a new entry.
func (s *Store) Requeue(ctx context.Context, deadLetterID int64) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("ingest queue: nil db")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (payload, status, attempts, received_at)
SELECT payload, 'queued', 0, NOW()
FROM %s
WHERE id = $1
RETURNING id`, s.queueTable, s.deadLetterTable)
	var id int64
	err := s.db.QueryRowContext(ctx, query, deadLetterID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ingestqueue.ErrNotFound
	}
	return id, err
}

// Stats counts entries per status.
func (s *Store) Stats(ctx context.Context) (ingestqueue.Stats, error) {
	if s == nil || s.db == nil {
		return ingestqueue.Stats{}, errors.New("ingest queue: nil db")
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT status, COUNT(*) FROM %s GROUP BY status`, s.queueTable))
	if err != nil {
		return ingestqueue.Stats{}, err
	}
	defer rows.Close()

	var stats ingestqueue.Stats
	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return ingestqueue.Stats{}, err
		}
		switch ingestqueue.Status(status) {
		case ingestqueue.StatusQueued:
			stats.Queued = count
		case ingestqueue.StatusProcessing:
			stats.Processing = count
		case ingestqueue.StatusDone:
			stats.Done = count
		case ingestqueue.StatusFailed:
			stats.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return ingestqueue.Stats{}, err
	}
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.deadLetterTable)).Scan(&stats.DeadLetters); err != nil {
		return ingestqueue.Stats{}, err
	}
	return stats, nil
}
