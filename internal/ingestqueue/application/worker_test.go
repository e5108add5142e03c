package application

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"workspace-mood-monitor/internal/eventing"
	ingestqueue "workspace-mood-monitor/internal/ingestqueue/domain"
	"workspace-mood-monitor/internal/ingestqueue/infrastructure/memory"
	"workspace-mood-monitor/internal/latestcache"
	telemetryapp "workspace-mood-monitor/internal/telemetry/application"
	"workspace-mood-monitor/internal/telemetry/application/events"
	telemetry "workspace-mood-monitor/internal/telemetry/domain"
	telemetrymemory "workspace-mood-monitor/internal/telemetry/infrastructure/memory"
)

type flakyRepo struct {
	mu       sync.Mutex
	failures int
	inner    *telemetrymemory.TelemetryRepository
}

func (r *flakyRepo) AppendRecords(ctx context.Context, records []telemetry.TelemetryRecord) error {
	r.mu.Lock()
	if r.failures > 0 {
		r.failures--
		r.mu.Unlock()
		return errors.New("connection reset")
	}
	r.mu.Unlock()
	return r.inner.AppendRecords(ctx, records)
}

type workerFixture struct {
	store  *memory.Store
	repo   *flakyRepo
	cache  *latestcache.Memory
	bus    *eventing.InMemoryBus
	events []events.EnvelopeIngested
	worker *Worker
}

func newWorkerFixture(t *testing.T, failures int, opts ...memory.Option) *workerFixture {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	f := &workerFixture{
		store: memory.NewStore(opts...),
		repo:  &flakyRepo{failures: failures, inner: telemetrymemory.NewTelemetryRepository()},
		cache: latestcache.NewMemory(),
		bus:   eventing.NewInMemoryBus(),
	}
	var mu sync.Mutex
	f.bus.Subscribe(eventing.EventTypeOf[events.EnvelopeIngested](), func(ctx context.Context, event any) error {
		mu.Lock()
		defer mu.Unlock()
		f.events = append(f.events, event.(events.EnvelopeIngested))
		return nil
	})
	worker, err := NewWorker(f.store, telemetryapp.NewNormalizer(logger), f.repo, f.cache, f.bus, WorkerConfig{
		Lease:     time.Minute,
		IdleSleep: 10 * time.Millisecond,
		Retry:     ingestqueue.RetryPolicy{},
	}, logger)
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	f.worker = worker
	return f
}

func TestWorker_ProcessesEntryEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t, 0)
	id, _ := f.store.Enqueue(ctx, json.RawMessage(`{"room":"room1","desk":"desk1","co2":650,"noise":45,"light":400}`))

	processed, err := f.worker.ProcessNext(ctx)
	if err != nil || !processed {
		t.Fatalf("process: %v %v", processed, err)
	}

	entry, _ := f.store.Get(id)
	if entry.Status != ingestqueue.StatusDone {
		t.Fatalf("expected done, got %s", entry.Status)
	}
	if f.repo.inner.Len() != 3 {
		t.Fatalf("expected 3 telemetry records, got %d", f.repo.inner.Len())
	}
	if v, ok := f.cache.Get(ctx, "room1", "desk1", telemetry.MetricLux); !ok || v != 400 {
		t.Fatalf("expected cached lux 400, got %v %v", v, ok)
	}
	if len(f.events) != 1 || f.events[0].QueueEntryID != id || f.events[0].Room != "room1" {
		t.Fatalf("unexpected events %+v", f.events)
	}
}

func TestWorker_EmptyQueue(t *testing.T) {
	f := newWorkerFixture(t, 0)
	processed, err := f.worker.ProcessNext(context.Background())
	if err != nil || processed {
		t.Fatalf("expected idle, got %v %v", processed, err)
	}
}

func TestWorker_NormalizationErrorDeadLettersImmediately(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t, 0)
	id, _ := f.store.Enqueue(ctx, json.RawMessage(`{"firmware":"1.2.0"}`))

	if _, err := f.worker.ProcessNext(ctx); err != nil {
		t.Fatalf("process: %v", err)
	}
	entry, _ := f.store.Get(id)
	if entry.Status != ingestqueue.StatusFailed || entry.Attempts != 1 {
		t.Fatalf("expected failed after one attempt, got %+v", entry)
	}
	letters, _ := f.store.ListDeadLetters(ctx, 10)
	if len(letters) != 1 || letters[0].EntryID != id {
		t.Fatalf("expected dead letter for %d, got %+v", id, letters)
	}
	if len(f.events) != 0 {
		t.Fatalf("no event expected for dead-lettered entry")
	}
}

func TestWorker_TransientErrorRetriesThenSucceeds(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t, 2)
	id, _ := f.store.Enqueue(ctx, json.RawMessage(`{"co2":700}`))

	for i := 0; i < 3; i++ {
		if _, err := f.worker.ProcessNext(ctx); err != nil {
			t.Fatalf("process %d: %v", i, err)
		}
	}
	entry, _ := f.store.Get(id)
	if entry.Status != ingestqueue.StatusDone || entry.Attempts != 2 {
		t.Fatalf("expected done after two retries, got %+v", entry)
	}
	if len(f.events) != 1 {
		t.Fatalf("expected one event, got %d", len(f.events))
	}
}

func TestWorker_TransientErrorExhaustsAttempts(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t, 10, memory.WithMaxAttempts(3))
	id, _ := f.store.Enqueue(ctx, json.RawMessage(`{"co2":700}`))

	for i := 0; i < 5; i++ {
		if _, err := f.worker.ProcessNext(ctx); err != nil {
			t.Fatalf("process %d: %v", i, err)
		}
	}
	entry, _ := f.store.Get(id)
	if entry.Status != ingestqueue.StatusFailed || entry.Attempts != 3 {
		t.Fatalf("expected failed after 3 attempts, got %+v", entry)
	}
	letters, _ := f.store.ListDeadLetters(ctx, 10)
	if len(letters) != 1 {
		t.Fatalf("expected exactly one dead letter, got %d", len(letters))
	}
}

func TestWorker_RunDrainsAndStops(t *testing.T) {
	f := newWorkerFixture(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 20; i++ {
		_, _ = f.store.Enqueue(ctx, json.RawMessage(`{"noise":40}`))
	}
	f.worker.cfg.Concurrency = 4

	done := make(chan struct{})
	go func() {
		f.worker.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		stats, _ := f.store.Stats(context.Background())
		if stats.Done == 20 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("worker did not drain queue: %+v", stats)
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop after cancel")
	}
}

func TestNewWorker_RejectsNilDependencies(t *testing.T) {
	if _, err := NewWorker(nil, nil, nil, nil, nil, WorkerConfig{}, nil); err == nil {
		t.Fatalf("expected error")
	}
}
