package sqlite

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

// Store is a SQLite implementation of the durable queue. Times are unix milliseconds.
type Store struct {
	db              *sql.DB
	queueTable      string
	deadLetterTable string
	maxAttempts     int
	now             func() time.Time
}

// Option configures the store.
type Option func(*Store)

// WithMaxAttempts overrides the attempt budget.
func WithMaxAttempts(max int) Option {
	return func(s *Store) {
		if max > 0 {
			s.maxAttempts = max
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore constructs a queue store over an opened SQLite database.
func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:              db,
		queueTable:      defaultQueueTable,
		deadLetterTable: defaultDeadLetterTable,
		maxAttempts:     ingestqueue.DefaultMaxAttempts,
		now:             func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue appends a payload with status queued.
func (s *Store) Enqueue(ctx context.Context, payload json.RawMessage) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("sqlite queue: nil db")
	}
	if !json.Valid(payload) {
		return 0, errors.New("sqlite queue: invalid payload")
	}
	query := fmt.Sprintf(`INSERT INTO %s (received_at, payload, attempts, status) VALUES (?, ?, 0, 'queued')`, s.queueTable)
	res, err := s.db.ExecContext(ctx, query, s.now().UnixMilli(), string(payload))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// LeaseNext leases the oldest eligible entry with a single conditional update.
func (s *Store) LeaseNext(ctx context.Context, lease time.Duration) (*ingestqueue.QueueEntry, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite queue: nil db")
	}
	now := s.now()
	query := fmt.Sprintf(`
UPDATE %s
SET status = 'processing', locked_until = ?
WHERE id = (
	SELECT id FROM %s
	WHERE (status = 'queued' AND (locked_until IS NULL OR locked_until <= ?))
	   OR (status = 'processing' AND locked_until < ?)
	ORDER BY received_at, id
	LIMIT 1
)
RETURNING id, received_at, payload, attempts, locked_until, status, COALESCE(last_error, '')`, s.queueTable, s.queueTable)

	var (
		entry       ingestqueue.QueueEntry
		receivedAt  int64
		payload     string
		lockedUntil sql.NullInt64
		status      string
	)
	err := s.db.QueryRowContext(ctx, query, now.Add(lease).UnixMilli(), now.UnixMilli(), now.UnixMilli()).Scan(
		&entry.ID,
		&receivedAt,
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
	entry.ReceivedAt = time.UnixMilli(receivedAt).UTC()
	entry.Payload = json.RawMessage(payload)
	entry.Status = ingestqueue.Status(status)
	if lockedUntil.Valid {
		t := time.UnixMilli(lockedUntil.Int64).UTC()
		entry.LockedUntil = &t
	}
	return &entry, nil
}

// Ack marks a leased entry done.
func (s *Store) Ack(ctx context.Context, lease ingestqueue.Lease) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite queue: nil db")
	}
	query := fmt.Sprintf(`UPDATE %s SET status = 'done', locked_until = NULL, processed_at = ? WHERE id = ? AND status = 'processing' AND locked_until = ?`, s.queueTable)
	res, err := s.db.ExecContext(ctx, query, s.now().UnixMilli(), lease.EntryID, lease.Until.UnixMilli())
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
		return "", errors.New("sqlite queue: nil db")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	id := lease.EntryID
	attempts, status, err := s.loadEntry(ctx, tx, lease)
	if err != nil {
		return status, err
	}
	attempts++
	lastError := ingestqueue.TruncateError(cause)
	now := s.now()

	if attempts >= s.maxAttempts {
		if err := s.failEntry(ctx, tx, id, attempts, lastError, now); err != nil {
			return "", err
		}
		if err := tx.Commit(); err != nil {
			return "", err
		}
		return ingestqueue.StatusFailed, nil
	}

	var lockedUntil sql.NullInt64
	if retryDelay > 0 {
		lockedUntil = sql.NullInt64{Int64: now.Add(retryDelay).UnixMilli(), Valid: true}
	}
	query := fmt.Sprintf(`UPDATE %s SET status = 'queued', attempts = ?, last_error = ?, locked_until = ? WHERE id = ?`, s.queueTable)
	if _, err := tx.ExecContext(ctx, query, attempts, lastError, lockedUntil, id); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return ingestqueue.StatusQueued, nil
}

// DeadLetter fails an entry immediately.
func (s *Store) DeadLetter(ctx context.Context, lease ingestqueue.Lease, cause error) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite queue: nil db")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	attempts, _, err := s.loadEntry(ctx, tx, lease)
	if err != nil {
		return err
	}
	if err := s.failEntry(ctx, tx, lease.EntryID, attempts+1, ingestqueue.TruncateError(cause), s.now()); err != nil {
		return err
	}
	return tx.Commit()
}

// loadEntry reads the attempt count of an entry still held by lease.
func (s *Store) loadEntry(ctx context.Context, tx *sql.Tx, lease ingestqueue.Lease) (int, ingestqueue.Status, error) {
	query := fmt.Sprintf(`SELECT attempts, status, locked_until FROM %s WHERE id = ?`, s.queueTable)
	var (
		attempts    int
		status      string
		lockedUntil sql.NullInt64
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
		t := time.UnixMilli(lockedUntil.Int64).UTC()
		until = &t
	}
	if !lease.Holds(ingestqueue.Status(status), until) {
		return attempts, ingestqueue.Status(status), ingestqueue.ErrNotLeased
	}
	return attempts, ingestqueue.Status(status), nil
}

func (s *Store) failEntry(ctx context.Context, tx *sql.Tx, id int64, attempts int, lastError string, now time.Time) error {
	update := fmt.Sprintf(`UPDATE %s SET status = 'failed', attempts = ?, last_error = ?, locked_until = NULL, processed_at = ? WHERE id = ?`, s.queueTable)
	if _, err := tx.ExecContext(ctx, update, attempts, lastError, now.UnixMilli(), id); err != nil {
		return err
	}
	insert := fmt.Sprintf(`
INSERT INTO %s (entry_id, received_at, payload, attempts, last_error, failed_at)
SELECT id, received_at, payload, attempts, last_error, ?
FROM %s
WHERE id = ?`, s.deadLetterTable, s.queueTable)
	_, err := tx.ExecContext(ctx, insert, now.UnixMilli(), id)
	return err
}

// ListDeadLetters returns the newest dead letters first.
func (s *Store) ListDeadLetters(ctx context.Context, limit int) ([]ingestqueue.DeadLetter, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite queue: nil db")
	}
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
SELECT id, entry_id, received_at, payload, attempts, COALESCE(last_error, ''), failed_at
FROM %s
ORDER BY id DESC
LIMIT ?`, s.deadLetterTable)
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var letters []ingestqueue.DeadLetter
	for rows.Next() {
		var (
			dl         ingestqueue.DeadLetter
			receivedAt int64
			failedAt   int64
			payload    string
		)
		if err := rows.Scan(&dl.ID, &dl.EntryID, &receivedAt, &payload, &dl.Attempts, &dl.LastError, &failedAt); err != nil {
			return nil, err
		}
		dl.ReceivedAt = time.UnixMilli(receivedAt).UTC()
		dl.FailedAt = time.UnixMilli(failedAt).UTC()
		dl.Payload = json.RawMessage(payload)
		letters = append(letters, dl)
	}
	return letters, rows.Err()
}

// Requeue enqueues a dead letter's payload as a new entry.
func (s *Store) Requeue(ctx context.Context, deadLetterID int64) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("sqlite queue: nil db")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (received_at, payload, attempts, status)
SELECT ?, payload, 0, 'queued'
FROM %s
WHERE id = ?`, s.queueTable, s.deadLetterTable)
	res, err := s.db.ExecContext(ctx, query, s.now().UnixMilli(), deadLetterID)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		return 0, ingestqueue.ErrNotFound
	}
	return res.LastInsertId()
}

// Stats counts entries per status.
func (s *Store) Stats(ctx context.Context) (ingestqueue.Stats, error) {
	if s == nil || s.db == nil {
		return ingestqueue.Stats{}, errors.New("sqlite queue: nil db")
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
	rows.Close()
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.deadLetterTable)).Scan(&stats.DeadLetters); err != nil {
		return ingestqueue.Stats{}, err
	}
	return stats, nil
}
