package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"workspace-mood-monitor/internal/eventing"
	moodevents "workspace-mood-monitor/internal/mood/application/events"
)

// DefaultTopic carries mood records.
const DefaultTopic = "mood.records"

// Writer writes kafka messages.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// NewWriter builds a synchronous writer that hashes keys onto partitions.
func NewWriter(brokers []string, topic string) (*kafkago.Writer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("mood kafka: no brokers")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	return &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireOne,
		WriteTimeout: 10 * time.Second,
	}, nil
}

// Publisher publishes scored mood records keyed by room.
type Publisher struct {
	writer Writer
	logger *log.Logger
}

// NewPublisher constructs a Publisher.
func NewPublisher(writer Writer, logger *log.Logger) (*Publisher, error) {
	if writer == nil {
		return nil, errors.New("mood kafka: nil writer")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Publisher{writer: writer, logger: logger}, nil
}

// HandleMoodScored writes the event's record to kafka.
func (p *Publisher) HandleMoodScored(ctx context.Context, event any) error {
	rec, err := moodevents.RecordOf(event)
	if err != nil {
		return err
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("mood kafka: marshal: %w", err)
	}
	env, err := eventing.BuildEnvelope(event)
	if err != nil {
		return fmt.Errorf("mood kafka: envelope: %w", err)
	}
	msg := kafkago.Message{
		Key:   []byte(rec.Room),
		Value: value,
		Time:  rec.ObservedAt,
		Headers: []kafkago.Header{
			{Key: "event_id", Value: []byte(env.EventID)},
			{Key: "event_type", Value: []byte(env.EventType)},
			{Key: "content_id", Value: []byte(rec.ContentID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("mood kafka: write %s/%s: %w", rec.ParentPath, rec.ContentID, err)
	}
	return nil
}

// Close closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
