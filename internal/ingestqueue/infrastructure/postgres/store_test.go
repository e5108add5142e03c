package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ingestqueue "workspace-mood-monitor/internal/ingestqueue/domain"
)

func TestStore_LeaseNextEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WithArgs(int64(30000)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "received_at", "payload", "attempts", "locked_until", "status", "last_error"}))

	entry, err := NewStore(db).LeaseNext(context.Background(), 30*time.Second)
	assert.NoError(t, err)
	assert.Nil(t, entry)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LeaseNextReturnsEntry(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "received_at", "payload", "attempts", "locked_until", "status", "last_error"}).
		AddRow(int64(3), now, []byte(`{"co2":1}`), 2, now.Add(30*time.Second), "processing", "timeout")
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE ingest_queue q")).
		WithArgs(int64(30000)).
		WillReturnRows(rows)

	entry, err := NewStore(db).LeaseNext(context.Background(), 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, int64(3), entry.ID)
	assert.Equal(t, 2, entry.Attempts)
	assert.Equal(t, ingestqueue.StatusProcessing, entry.Status)
	assert.JSONEq(t, `{"co2":1}`, string(entry.Payload))
	require.NotNil(t, entry.LockedUntil)
	assert.NoError(t, mock.ExpectationsWereMet())
}

var leaseUntil = time.Date(2026, 1, 1, 9, 0, 30, 0, time.UTC)

func heldLease(id int64) ingestqueue.Lease {
	return ingestqueue.Lease{EntryID: id, Until: leaseUntil}
}

func lockedRow(attempts int, status string, lockedUntil any) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"attempts", "status", "locked_until"}).AddRow(attempts, status, lockedUntil)
}

func TestStore_NackAtMaxAttemptsDeadLetters(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT attempts, status, locked_until FROM ingest_queue WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(7)).
		WillReturnRows(lockedRow(4, "processing", leaseUntil))
	mock.ExpectExec(regexp.QuoteMeta("SET status = 'failed'")).
		WithArgs(int64(7), 5, "boom").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ingest_dead_letter")).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	status, err := NewStore(db).Nack(context.Background(), heldLease(7), errors.New("boom"), time.Second)
	assert.NoError(t, err)
	assert.Equal(t, ingestqueue.StatusFailed, status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_NackRequeuesWithDelay(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT attempts, status, locked_until FROM ingest_queue")).
		WithArgs(int64(7)).
		WillReturnRows(lockedRow(1, "processing", leaseUntil))
	mock.ExpectExec(regexp.QuoteMeta("SET status = 'queued'")).
		WithArgs(int64(7), 2, "boom", int64(5000)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	status, err := NewStore(db).Nack(context.Background(), heldLease(7), errors.New("boom"), 5*time.Second)
	assert.NoError(t, err)
	assert.Equal(t, ingestqueue.StatusQueued, status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_NackRejectsUnleasedEntry(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT attempts, status, locked_until FROM ingest_queue")).
		WithArgs(int64(7)).
		WillReturnRows(lockedRow(5, "failed", nil))
	mock.ExpectRollback()

	_, err = NewStore(db).Nack(context.Background(), heldLease(7), errors.New("boom"), 0)
	assert.ErrorIs(t, err, ingestqueue.ErrNotLeased)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ExpiredHolderCannotSettle(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// Another worker re-leased the entry after the first lease expired.
	releasedUntil := leaseUntil.Add(45 * time.Second)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT attempts, status, locked_until FROM ingest_queue")).
		WithArgs(int64(7)).
		WillReturnRows(lockedRow(1, "processing", releasedUntil))
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT attempts, status, locked_until FROM ingest_queue")).
		WithArgs(int64(7)).
		WillReturnRows(lockedRow(1, "processing", releasedUntil))
	mock.ExpectRollback()
	mock.ExpectExec(regexp.QuoteMeta("AND locked_until = $2")).
		WithArgs(int64(7), leaseUntil).
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewStore(db)
	status, err := store.Nack(context.Background(), heldLease(7), errors.New("late"), 0)
	assert.ErrorIs(t, err, ingestqueue.ErrNotLeased)
	assert.Equal(t, ingestqueue.StatusProcessing, status)
	assert.ErrorIs(t, store.DeadLetter(context.Background(), heldLease(7), errors.New("late")), ingestqueue.ErrNotLeased)
	assert.ErrorIs(t, store.Ack(context.Background(), heldLease(7)), ingestqueue.ErrNotLeased)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_AckRequiresLease(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("SET status = 'done'")).
		WithArgs(int64(9), leaseUntil).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = NewStore(db).Ack(context.Background(), heldLease(9))
	assert.ErrorIs(t, err, ingestqueue.ErrNotLeased)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_RequeueMissingDeadLetter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM ingest_dead_letter")).
		WithArgs(int64(11)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = NewStore(db).Requeue(context.Background(), 11)
	assert.ErrorIs(t, err, ingestqueue.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
