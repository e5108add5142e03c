package latestcache

import (
	"context"
	"sync"
	"time"

	telemetry "workspace-mood-monitor/internal/telemetry/domain"
)

// Memory is a process-local cache.
type Memory struct {
	mu      sync.RWMutex
	entries map[key]entry
	ttl     time.Duration
	now     func() time.Time
}

// MemoryOption configures the memory cache.
type MemoryOption func(*Memory)

// WithTTL overrides the freshness window.
func WithTTL(ttl time.Duration) MemoryOption {
	return func(m *Memory) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemory constructs an empty cache.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		entries: make(map[key]entry),
		ttl:     DefaultTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Put stores value unless a newer observation is already cached.
func (m *Memory) Put(ctx context.Context, room, desk string, metric telemetry.Metric, value float64, observedAt time.Time) error {
	now := m.now()
	if observedAt.IsZero() {
		observedAt = now
	}
	k := key{room: room, desk: desk, metric: metric}
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.entries[k]; ok && observedAt.Before(prev.observedAt) {
		return nil
	}
	m.entries[k] = entry{
		value:      value,
		observedAt: observedAt,
		cachedAt:   now,
	}
	return nil
}

// Get returns the cached value when it is still fresh.
func (m *Memory) Get(ctx context.Context, room, desk string, metric telemetry.Metric) (float64, bool) {
	m.mu.RLock()
	e, ok := m.entries[key{room: room, desk: desk, metric: metric}]
	m.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if m.now().Sub(e.cachedAt) >= m.ttl {
		return 0, false
	}
	return e.value, true
}
