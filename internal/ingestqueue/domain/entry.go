package ingestqueue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Status is the queue entry lifecycle state.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// DefaultMaxAttempts is the attempt budget before an entry is dead-lettered.
const DefaultMaxAttempts = 5

// MaxErrorLength bounds the stored last error.
const MaxErrorLength = 1000

// ErrNotFound is returned when an entry or dead letter does not exist.
var ErrNotFound = errors.New("ingestqueue: not found")

// ErrNotLeased is returned when acking or nacking an entry the caller no longer holds.
var ErrNotLeased = errors.New("ingestqueue: entry not leased")

// QueueEntry is one durably queued inbound payload.
type QueueEntry struct {
	ID          int64
	ReceivedAt  time.Time
	Payload     json.RawMessage
	Attempts    int
	LockedUntil *time.Time
	Status      Status
	LastError   string
	ProcessedAt *time.Time
}

// Lease names one holder's claim on a processing entry. A re-lease after
// expiry moves the deadline, which invalidates earlier claims.
type Lease struct {
	EntryID int64
	Until   time.Time
}

// Lease returns the claim held by whoever leased e.
func (e *QueueEntry) Lease() Lease {
	l := Lease{EntryID: e.ID}
	if e.LockedUntil != nil {
		l.Until = *e.LockedUntil
	}
	return l
}

// Holds reports whether a processing entry locked until lockedUntil is still held by l.
func (l Lease) Holds(status Status, lockedUntil *time.Time) bool {
	return status == StatusProcessing && lockedUntil != nil && !l.Until.IsZero() && lockedUntil.Equal(l.Until)
}

// DeadLetter is a permanently failed entry retained for diagnosis.
type DeadLetter struct {
	ID         int64
	EntryID    int64
	ReceivedAt time.Time
	Payload    json.RawMessage
	Attempts   int
	LastError  string
	FailedAt   time.Time
}

// Stats counts entries per status.
type Stats struct {
	Queued      int64
	Processing  int64
	Done        int64
	Failed      int64
	DeadLetters int64
}

// Store is the durable queue contract.
type Store interface {
	Enqueue(ctx context.Context, payload json.RawMessage) (int64, error)
	LeaseNext(ctx context.Context, lease time.Duration) (*QueueEntry, error)
	Ack(ctx context.Context, lease Lease) error
	Nack(ctx context.Context, lease Lease, cause error, retryDelay time.Duration) (Status, error)
	DeadLetter(ctx context.Context, lease Lease, cause error) error
}

// DeadLetterStore exposes dead letters to operators.
type DeadLetterStore interface {
	ListDeadLetters(ctx context.Context, limit int) ([]DeadLetter, error)
	Requeue(ctx context.Context, deadLetterID int64) (int64, error)
	Stats(ctx context.Context) (Stats, error)
}

// TruncateError formats cause for storage.
func TruncateError(cause error) string {
	if cause == nil {
		return ""
	}
	msg := cause.Error()
	if len(msg) > MaxErrorLength {
		msg = msg[:MaxErrorLength]
	}
	return msg
}
