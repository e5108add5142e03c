package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"workspace-mood-monitor/internal/eventing"
	moodevents "workspace-mood-monitor/internal/mood/application/events"
	mood "workspace-mood-monitor/internal/mood/domain"
	"workspace-mood-monitor/internal/observability/metrics"
	telemetryevents "workspace-mood-monitor/internal/telemetry/application/events"
)

// Scorer computes mood records.
type Scorer interface {
	Score(ctx context.Context, in ScoreInput) mood.MoodRecord
}

// Consumer scores ingested envelopes, persists them and announces new records.
type Consumer struct {
	scorer Scorer
	repo   mood.Repository
	bus    eventing.EventBus
	logger *log.Logger
	now    func() time.Time
}

// NewConsumer constructs a consumer.
func NewConsumer(scorer Scorer, repo mood.Repository, bus eventing.EventBus, logger *log.Logger) (*Consumer, error) {
	if scorer == nil {
		return nil, errors.New("mood consumer: nil scorer")
	}
	if repo == nil {
		return nil, errors.New("mood consumer: nil repository")
	}
	if bus == nil {
		return nil, errors.New("mood consumer: nil event bus")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Consumer{
		scorer: scorer,
		repo:   repo,
		bus:    bus,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// HandleEnvelopeIngested scores one envelope. Persistence errors are returned so
// the queue entry is retried; a duplicate record is skipped without republishing.
func (c *Consumer) HandleEnvelopeIngested(ctx context.Context, event any) error {
	var ingested telemetryevents.EnvelopeIngested
	switch e := event.(type) {
	case telemetryevents.EnvelopeIngested:
		ingested = e
	case *telemetryevents.EnvelopeIngested:
		if e == nil {
			return eventing.ErrNilEvent
		}
		ingested = *e
	default:
		return eventing.ErrInvalidEventType
	}

	rec := c.scorer.Score(ctx, ScoreInput{
		Metrics:    ingested.Metrics,
		Room:       ingested.Room,
		Desk:       ingested.Desk,
		Device:     ingested.Device,
		ParentPath: ingested.ParentPath,
		ContentID:  ingested.ContentID,
		ObservedAt: ingested.ObservedAt,
	})
	rec.InsertedAt = c.now()

	inserted, err := c.repo.Insert(ctx, rec)
	if err != nil {
		return fmt.Errorf("mood consumer: insert: %w", err)
	}
	if !inserted {
		c.logger.Printf("mood consumer: duplicate %s/%s skipped", rec.ParentPath, rec.ContentID)
		return nil
	}
	metrics.ObserveMoodScore(rec.Room, rec.Desk, string(rec.Label), rec.Score, rec.Confidence)

	scored := moodevents.MoodScored{
		EventID:    eventing.NewEventID(),
		Record:     rec,
		OccurredAt: c.now(),
	}
	if err := c.bus.Publish(ctx, scored); err != nil {
		c.logger.Printf("mood consumer: publish %s/%s: %v", rec.ParentPath, rec.ContentID, err)
	}
	return nil
}
