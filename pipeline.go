package main

import (
	"context"
	"fmt"
	"log"
	"sync"

	"workspace-mood-monitor/internal/eventing"
	"workspace-mood-monitor/internal/feedback"
	queueapp "workspace-mood-monitor/internal/ingestqueue/application"
	ingestqueue "workspace-mood-monitor/internal/ingestqueue/domain"
	"workspace-mood-monitor/internal/latestcache"
	moodapp "workspace-mood-monitor/internal/mood/application"
	moodevents "workspace-mood-monitor/internal/mood/application/events"
	moodcse "workspace-mood-monitor/internal/mood/interfaces/cse"
	moodkafka "workspace-mood-monitor/internal/mood/interfaces/kafka"
	"workspace-mood-monitor/internal/observability/metrics"
	"workspace-mood-monitor/internal/onem2m"
	telemetryapp "workspace-mood-monitor/internal/telemetry/application"
	telemetryevents "workspace-mood-monitor/internal/telemetry/application/events"
)

// pipeline is the queue worker plus every event consumer downstream of it.
type pipeline struct {
	worker     *queueapp.Worker
	dispatcher *feedback.Dispatcher
	publisher  *moodkafka.Publisher
	logger     *log.Logger
}

func buildPipeline(cfg config, store *storage, logger *log.Logger) (*pipeline, error) {
	cache, err := buildCache(cfg, logger)
	if err != nil {
		return nil, err
	}

	moodCfg, err := moodapp.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("mood config: %w", err)
	}
	var model moodapp.Model
	if cfg.MoodModelPath != "" {
		loaded, err := moodapp.LoadLinearModel(cfg.MoodModelPath)
		if err != nil {
			logger.Printf("mood: model unavailable, heuristic only: %v", err)
			metrics.IncModelFallback("load")
		} else {
			model = loaded
		}
	}
	engine, err := moodapp.NewEngine(moodCfg, cache, model, logger)
	if err != nil {
		return nil, fmt.Errorf("mood engine: %w", err)
	}

	bus := eventing.NewInMemoryBus()
	consumer, err := moodapp.NewConsumer(engine, store.moods, bus, logger)
	if err != nil {
		return nil, err
	}
	eventing.Subscribe(bus, eventing.EventTypeOf[telemetryevents.EnvelopeIngested](), "mood_scoring", consumer.HandleEnvelopeIngested, logger)

	p := &pipeline{logger: logger}
	moodScored := eventing.EventTypeOf[moodevents.MoodScored]()

	var cse *onem2m.Client
	if cfg.CSEBase != "" {
		cse, err = onem2m.NewClient(onem2m.Config{
			BaseURL:  cfg.CSEBase,
			Origin:   cfg.CSEOrigin,
			RVI:      cfg.CSERVI,
			Username: cfg.CSEUser,
			Password: cfg.CSEPass,
		})
		if err != nil {
			return nil, err
		}
	}
	if cse != nil && cfg.FeedbackEnabled {
		p.dispatcher, err = feedback.NewDispatcher(cse, feedback.Config{
			CSEID:         cfg.CSEID,
			AE:            cfg.CSEAE,
			MaxAttempts:   cfg.FeedbackMaxAttempts,
			Backoff:       cfg.FeedbackBackoff,
			SwitchOn:      cfg.FeedbackSwitchOn,
			RatePerSecond: cfg.FeedbackRate,
		}, logger)
		if err != nil {
			return nil, err
		}
		eventing.Subscribe(bus, moodScored, "lamp_feedback", p.dispatcher.HandleMoodScored, logger)
	}
	if cse != nil && cfg.CSEMoodPath != "" {
		cinPublisher, err := moodcse.NewPublisher(cse, cfg.CSEMoodPath, logger)
		if err != nil {
			return nil, err
		}
		eventing.Subscribe(bus, moodScored, "cse_publish", cinPublisher.HandleMoodScored, logger)
	}
	if len(cfg.KafkaBrokers) > 0 {
		writer, err := moodkafka.NewWriter(cfg.KafkaBrokers, cfg.KafkaMoodTopic)
		if err != nil {
			return nil, err
		}
		p.publisher, err = moodkafka.NewPublisher(writer, logger)
		if err != nil {
			return nil, err
		}
		eventing.Subscribe(bus, moodScored, "kafka_publish", p.publisher.HandleMoodScored, logger)
	}

	p.worker, err = queueapp.NewWorker(
		store.queue,
		telemetryapp.NewNormalizer(logger),
		store.telemetry,
		cache,
		bus,
		queueapp.WorkerConfig{
			Concurrency: cfg.WorkerConcurrency,
			Lease:       cfg.QueueLease,
			IdleSleep:   cfg.WorkerIdleSleep,
			Retry:       ingestqueue.RetryPolicy{Base: cfg.QueueBackoffBase, Max: cfg.QueueBackoffMax},
		},
		logger,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func buildCache(cfg config, logger *log.Logger) (latestcache.Cache, error) {
	if cfg.RedisAddr == "" {
		return latestcache.NewMemory(latestcache.WithTTL(cfg.LatestTTL)), nil
	}
	client := latestcache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	return latestcache.NewRedis(client, logger, latestcache.WithRedisTTL(cfg.LatestTTL))
}

// Run drives the worker and the feedback dispatcher until ctx is done.
func (p *pipeline) Run(ctx context.Context) {
	var wg sync.WaitGroup
	if p.dispatcher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.dispatcher.Run(ctx)
		}()
	}
	p.worker.Run(ctx)
	wg.Wait()
	if p.publisher != nil {
		if err := p.publisher.Close(); err != nil {
			p.logger.Printf("kafka: close: %v", err)
		}
	}
}
