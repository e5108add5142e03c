package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	ingestqueue "workspace-mood-monitor/internal/ingestqueue/domain"
)

// Store is an in-memory durable queue for tests and single-process development.
type Store struct {
	mu          sync.Mutex
	nextID      int64
	nextDLID    int64
	entries     map[int64]*ingestqueue.QueueEntry
	deadLetters []ingestqueue.DeadLetter
	maxAttempts int
	now         func() time.Time
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

// NewStore constructs an in-memory queue.
func NewStore(opts ...Option) *Store {
	s := &Store{
		entries:     make(map[int64]*ingestqueue.QueueEntry),
		maxAttempts: ingestqueue.DefaultMaxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue appends a payload with status queued.
func (s *Store) Enqueue(ctx context.Context, payload json.RawMessage) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.entries[s.nextID] = &ingestqueue.QueueEntry{
		ID:         s.nextID,
		ReceivedAt: s.now(),
		Payload:    append(json.RawMessage(nil), payload...),
		Status:     ingestqueue.StatusQueued,
	}
	return s.nextID, nil
}

// LeaseNext leases the oldest eligible entry.
func (s *Store) LeaseNext(ctx context.Context, lease time.Duration) (*ingestqueue.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var picked *ingestqueue.QueueEntry
	for _, entry := range s.entries {
		if !eligible(entry, now) {
			continue
		}
		if picked == nil || entry.ReceivedAt.Before(picked.ReceivedAt) ||
			(entry.ReceivedAt.Equal(picked.ReceivedAt) && entry.ID < picked.ID) {
			picked = entry
		}
	}
	if picked == nil {
		return nil, nil
	}
	until := now.Add(lease)
	picked.Status = ingestqueue.StatusProcessing
	picked.LockedUntil = &until
	leased := *picked
	return &leased, nil
}

func eligible(entry *ingestqueue.QueueEntry, now time.Time) bool {
	switch entry.Status {
	case ingestqueue.StatusQueued:
		return entry.LockedUntil == nil || !entry.LockedUntil.After(now)
	case ingestqueue.StatusProcessing:
		return entry.LockedUntil != nil && entry.LockedUntil.Before(now)
	default:
		return false
	}
}

// Ack marks an entry done.
func (s *Store) Ack(ctx context.Context, lease ingestqueue.Lease) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[lease.EntryID]
	if !ok {
		return ingestqueue.ErrNotFound
	}
	if !lease.Holds(entry.Status, entry.LockedUntil) {
		return ingestqueue.ErrNotLeased
	}
	now := s.now()
	entry.Status = ingestqueue.StatusDone
	entry.LockedUntil = nil
	entry.ProcessedAt = &now
	return nil
}

// Nack records a failed attempt, requeueing or dead-lettering the entry.
func (s *Store) Nack(ctx context.Context, lease ingestqueue.Lease, cause error, retryDelay time.Duration) (ingestqueue.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[lease.EntryID]
	if !ok {
		return "", ingestqueue.ErrNotFound
	}
	if !lease.Holds(entry.Status, entry.LockedUntil) {
		return entry.Status, ingestqueue.ErrNotLeased
	}
	entry.Attempts++
	entry.LastError = ingestqueue.TruncateError(cause)
	if entry.Attempts >= s.maxAttempts {
		s.failLocked(entry)
		return ingestqueue.StatusFailed, nil
	}
	entry.Status = ingestqueue.StatusQueued
	if retryDelay > 0 {
		until := s.now().Add(retryDelay)
		entry.LockedUntil = &until
	} else {
		entry.LockedUntil = nil
	}
	return ingestqueue.StatusQueued, nil
}

// DeadLetter fails an entry immediately.
func (s *Store) DeadLetter(ctx context.Context, lease ingestqueue.Lease, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[lease.EntryID]
	if !ok {
		return ingestqueue.ErrNotFound
	}
	if !lease.Holds(entry.Status, entry.LockedUntil) {
		return ingestqueue.ErrNotLeased
	}
	entry.Attempts++
	entry.LastError = ingestqueue.TruncateError(cause)
	s.failLocked(entry)
	return nil
}

func (s *Store) failLocked(entry *ingestqueue.QueueEntry) {
	now := s.now()
	entry.Status = ingestqueue.StatusFailed
	entry.LockedUntil = nil
	entry.ProcessedAt = &now
	s.nextDLID++
	s.deadLetters = append(s.deadLetters, ingestqueue.DeadLetter{
		ID:         s.nextDLID,
		EntryID:    entry.ID,
		ReceivedAt: entry.ReceivedAt,
		Payload:    append(json.RawMessage(nil), entry.Payload...),
		Attempts:   entry.Attempts,
		LastError:  entry.LastError,
		FailedAt:   now,
	})
}

// ListDeadLetters returns the newest dead letters first.
func (s *Store) ListDeadLetters(ctx context.Context, limit int) ([]ingestqueue.DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]ingestqueue.DeadLetter(nil), s.deadLetters...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Requeue enqueues a dead letter's payload as a fresh entry.
func (s *Store) Requeue(ctx context.Context, deadLetterID int64) (int64, error) {
	s.mu.Lock()
	var payload json.RawMessage
	found := false
	for _, dl := range s.deadLetters {
		if dl.ID == deadLetterID {
			payload = dl.Payload
			found = true
			break
		}
	}
	s.mu.Unlock()
	if !found {
		return 0, ingestqueue.ErrNotFound
	}
	return s.Enqueue(ctx, payload)
}

// Stats counts entries per status.
func (s *Store) Stats(ctx context.Context) (ingestqueue.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := ingestqueue.Stats{DeadLetters: int64(len(s.deadLetters))}
	for _, entry := range s.entries {
		switch entry.Status {
		case ingestqueue.StatusQueued:
			stats.Queued++
		case ingestqueue.StatusProcessing:
			stats.Processing++
		case ingestqueue.StatusDone:
			stats.Done++
		case ingestqueue.StatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// Get returns a copy of an entry.
func (s *Store) Get(id int64) (ingestqueue.QueueEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return ingestqueue.QueueEntry{}, false
	}
	return *entry, true
}
