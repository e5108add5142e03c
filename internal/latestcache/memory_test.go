package latestcache

import (
	"context"
	"sync"
	"testing"
	"time"

	telemetry "workspace-mood-monitor/internal/telemetry/domain"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemory_FreshValueWithinTTL(t *testing.T) {
	ctx := context.Background()
	clock := &manualClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	cache := NewMemory(WithClock(clock.Now))

	if err := cache.Put(ctx, "room1", "desk1", telemetry.MetricLux, 420, clock.Now()); err != nil {
		t.Fatalf("put: %v", err)
	}
	clock.Advance(5 * time.Minute)
	if v, ok := cache.Get(ctx, "room1", "desk1", telemetry.MetricLux); !ok || v != 420 {
		t.Fatalf("expected fresh 420, got %v %v", v, ok)
	}

	clock.Advance(15 * time.Minute)
	if _, ok := cache.Get(ctx, "room1", "desk1", telemetry.MetricLux); ok {
		t.Fatalf("expected stale entry after 20 minutes")
	}
}

func TestMemory_LastWriteWinsPerKey(t *testing.T) {
	ctx := context.Background()
	cache := NewMemory()
	now := time.Now()
	_ = cache.Put(ctx, "room1", "desk1", telemetry.MetricCO2, 500, now)
	_ = cache.Put(ctx, "room1", "desk1", telemetry.MetricCO2, 900, now)
	_ = cache.Put(ctx, "room1", "desk2", telemetry.MetricCO2, 700, now)

	if v, _ := cache.Get(ctx, "room1", "desk1", telemetry.MetricCO2); v != 900 {
		t.Fatalf("expected 900, got %v", v)
	}
	if v, _ := cache.Get(ctx, "room1", "desk2", telemetry.MetricCO2); v != 700 {
		t.Fatalf("expected 700, got %v", v)
	}
	if _, ok := cache.Get(ctx, "room2", "desk1", telemetry.MetricCO2); ok {
		t.Fatalf("unexpected hit for other room")
	}
}

func TestMemory_OlderObservationDoesNotReplaceNewer(t *testing.T) {
	ctx := context.Background()
	clock := &manualClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	cache := NewMemory(WithClock(clock.Now))
	newer := clock.Now().Add(-time.Minute)
	older := newer.Add(-time.Minute)

	_ = cache.Put(ctx, "room1", "desk1", telemetry.MetricCO2, 900, newer)
	_ = cache.Put(ctx, "room1", "desk1", telemetry.MetricCO2, 500, older)
	if v, _ := cache.Get(ctx, "room1", "desk1", telemetry.MetricCO2); v != 900 {
		t.Fatalf("late reading replaced newer value, got %v", v)
	}

	_ = cache.Put(ctx, "room1", "desk1", telemetry.MetricCO2, 650, newer.Add(30*time.Second))
	if v, _ := cache.Get(ctx, "room1", "desk1", telemetry.MetricCO2); v != 650 {
		t.Fatalf("expected newer reading 650, got %v", v)
	}

	// An unstamped reading counts as observed at cache time.
	_ = cache.Put(ctx, "room1", "desk1", telemetry.MetricCO2, 700, time.Time{})
	if v, _ := cache.Get(ctx, "room1", "desk1", telemetry.MetricCO2); v != 700 {
		t.Fatalf("expected unstamped reading 700, got %v", v)
	}
}

func TestMemory_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	cache := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = cache.Put(ctx, "room", "desk", telemetry.MetricNoise, float64(i), time.Now())
				cache.Get(ctx, "room", "desk", telemetry.MetricNoise)
			}
		}(i)
	}
	wg.Wait()
	if _, ok := cache.Get(ctx, "room", "desk", telemetry.MetricNoise); !ok {
		t.Fatalf("expected a value")
	}
}
