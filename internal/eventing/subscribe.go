package eventing

import (
	"context"
	"log"
	"time"

	"workspace-mood-monitor/internal/observability/metrics"
)

// Subscribe registers handler under a consumer name, recording lag and logging failures.
func Subscribe(bus EventBus, eventType, consumerName string, handler EventHandler, logger *log.Logger) {
	if bus == nil || handler == nil {
		return
	}
	bus.Subscribe(eventType, WrapHandler(consumerName, handler, logger))
}

// WrapHandler instruments a handler for a named consumer.
func WrapHandler(consumerName string, handler EventHandler, logger *log.Logger) EventHandler {
	if logger == nil {
		logger = log.Default()
	}
	return func(ctx context.Context, event any) error {
		if occurred := OccurredAt(event); !occurred.IsZero() {
			metrics.ObserveConsumerLag(consumerName, time.Since(occurred))
		}
		if err := handler(ctx, event); err != nil {
			logger.Printf("eventing: consumer %s failed: %v", consumerName, err)
			return err
		}
		return nil
	}
}
