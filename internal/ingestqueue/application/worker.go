package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"workspace-mood-monitor/internal/eventing"
	ingestqueue "workspace-mood-monitor/internal/ingestqueue/domain"
	"workspace-mood-monitor/internal/latestcache"
	"workspace-mood-monitor/internal/observability/metrics"
	telemetryapp "workspace-mood-monitor/internal/telemetry/application"
	"workspace-mood-monitor/internal/telemetry/application/events"
	telemetry "workspace-mood-monitor/internal/telemetry/domain"
)

const (
	defaultLease       = 30 * time.Second
	defaultIdleSleep   = time.Second
	defaultConcurrency = 1
)

// Normalizer turns raw queued payloads into envelopes.
type Normalizer interface {
	Normalize(raw []byte, hints telemetryapp.SourceHints) (telemetry.NormalizedEnvelope, error)
}

// WorkerConfig tunes the worker loop.
type WorkerConfig struct {
	Concurrency int
	Lease       time.Duration
	IdleSleep   time.Duration
	Retry       ingestqueue.RetryPolicy
}

// Worker drains the durable queue into telemetry, the latest-value cache and the event bus.
type Worker struct {
	store      ingestqueue.Store
	normalizer Normalizer
	repo       telemetry.TelemetryRepository
	cache      latestcache.Cache
	bus        eventing.EventBus
	cfg        WorkerConfig
	logger     *log.Logger
	now        func() time.Time
}

// NewWorker constructs a worker.
func NewWorker(
	store ingestqueue.Store,
	normalizer Normalizer,
	repo telemetry.TelemetryRepository,
	cache latestcache.Cache,
	bus eventing.EventBus,
	cfg WorkerConfig,
	logger *log.Logger,
) (*Worker, error) {
	if store == nil {
		return nil, errors.New("queue worker: nil store")
	}
	if normalizer == nil {
		return nil, errors.New("queue worker: nil normalizer")
	}
	if repo == nil {
		return nil, errors.New("queue worker: nil telemetry repository")
	}
	if cache == nil {
		return nil, errors.New("queue worker: nil cache")
	}
	if bus == nil {
		return nil, errors.New("queue worker: nil event bus")
	}
	if logger == nil {
		logger = log.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Lease <= 0 {
		cfg.Lease = defaultLease
	}
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = defaultIdleSleep
	}
	return &Worker{
		store:      store,
		normalizer: normalizer,
		repo:       repo,
		cache:      cache,
		bus:        bus,
		cfg:        cfg,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run starts the configured number of loops and blocks until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.loop(ctx, slot)
		}(i)
	}
	wg.Wait()
}

func (w *Worker) loop(ctx context.Context, slot int) {
	for {
		if ctx.Err() != nil {
			return
		}
		processed, err := w.ProcessNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Printf("queue worker %d: %v", slot, err)
		}
		if processed && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.cfg.IdleSleep):
		}
	}
}

// ProcessNext leases and handles one entry. It reports false when the queue was empty.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	entry, err := w.store.LeaseNext(ctx, w.cfg.Lease)
	if err != nil {
		metrics.IncQueueLeaseError()
		return false, fmt.Errorf("lease: %w", err)
	}
	if entry == nil {
		return false, nil
	}

	start := time.Now()
	handleErr := w.handle(ctx, entry)
	if handleErr == nil {
		if err := w.store.Ack(ctx, entry.Lease()); err != nil {
			return true, fmt.Errorf("ack entry %d: %w", entry.ID, err)
		}
		metrics.ObserveQueueJob(metrics.JobOutcomeAcked, time.Since(start))
		return true, nil
	}

	var normErr *telemetry.NormalizationError
	if errors.As(handleErr, &normErr) {
		w.logger.Printf("queue worker: entry %d dead-lettered: %v", entry.ID, handleErr)
		if err := w.store.DeadLetter(ctx, entry.Lease(), handleErr); err != nil {
			return true, fmt.Errorf("dead letter entry %d: %w", entry.ID, err)
		}
		metrics.ObserveQueueJob(metrics.JobOutcomeDeadLettered, time.Since(start))
		return true, nil
	}

	delay := w.cfg.Retry.Delay(entry.Attempts)
	status, err := w.store.Nack(ctx, entry.Lease(), handleErr, delay)
	if err != nil {
		return true, fmt.Errorf("nack entry %d: %w", entry.ID, err)
	}
	if status == ingestqueue.StatusFailed {
		w.logger.Printf("queue worker: entry %d failed after %d attempts: %v", entry.ID, entry.Attempts+1, handleErr)
		metrics.ObserveQueueJob(metrics.JobOutcomeDeadLettered, time.Since(start))
	} else {
		w.logger.Printf("queue worker: entry %d retry in %s: %v", entry.ID, delay, handleErr)
		metrics.ObserveQueueJob(metrics.JobOutcomeRequeued, time.Since(start))
	}
	return true, nil
}

func (w *Worker) handle(ctx context.Context, entry *ingestqueue.QueueEntry) error {
	env, err := w.normalizer.Normalize(entry.Payload, telemetryapp.SourceHints{
		EntryID:    entry.ID,
		ReceivedAt: entry.ReceivedAt,
	})
	if err != nil {
		return err
	}

	if err := w.repo.AppendRecords(ctx, env.Records(entry.ID)); err != nil {
		return fmt.Errorf("append telemetry: %w", err)
	}

	for metric, value := range env.Metrics {
		if err := w.cache.Put(ctx, env.Room, env.Desk, metric, value, env.ObservedAt); err != nil {
			w.logger.Printf("queue worker: cache put %s: %v", metric, err)
		}
	}

	event := events.EnvelopeIngested{
		EventID:      eventing.NewEventID(),
		QueueEntryID: entry.ID,
		ParentPath:   env.ParentPath,
		ContentID:    env.ContentID,
		Room:         env.Room,
		Desk:         env.Desk,
		Device:       env.Device,
		Metrics:      env.Metrics,
		ObservedAt:   env.ObservedAt,
		OccurredAt:   w.now(),
	}
	if err := w.bus.Publish(ctx, event); err != nil {
		return fmt.Errorf("publish envelope: %w", err)
	}
	return nil
}
