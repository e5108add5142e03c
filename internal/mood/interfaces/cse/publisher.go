package cse

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	moodevents "workspace-mood-monitor/internal/mood/application/events"
)

// ContentCreator posts content instances to a CSE container.
type ContentCreator interface {
	CreateContentInstance(ctx context.Context, container string, con any) error
}

// Publisher mirrors scored mood records into a CSE analytics container.
type Publisher struct {
	client    ContentCreator
	container string
	logger    *log.Logger
}

// NewPublisher constructs a Publisher for the container at path.
func NewPublisher(client ContentCreator, path string, logger *log.Logger) (*Publisher, error) {
	if client == nil {
		return nil, errors.New("mood cse: nil client")
	}
	path = strings.TrimRight(strings.TrimSpace(path), "/")
	if path == "" {
		return nil, errors.New("mood cse: empty container path")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Publisher{client: client, container: path, logger: logger}, nil
}

// HandleMoodScored posts the record as a content instance.
func (p *Publisher) HandleMoodScored(ctx context.Context, event any) error {
	rec, err := moodevents.RecordOf(event)
	if err != nil {
		return err
	}
	con := map[string]any{
		"room":       rec.Room,
		"desk":       rec.Desk,
		"score":      rec.Score,
		"label":      rec.Label,
		"confidence": rec.Confidence,
		"led_color":  rec.LEDColor,
		"ts":         rec.ObservedAt.Unix(),
	}
	if err := p.client.CreateContentInstance(ctx, p.container, con); err != nil {
		return fmt.Errorf("mood cse: publish %s/%s: %w", rec.ParentPath, rec.ContentID, err)
	}
	return nil
}
