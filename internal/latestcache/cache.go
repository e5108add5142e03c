package latestcache

import (
	"context"
	"time"

	telemetry "workspace-mood-monitor/internal/telemetry/domain"
)

// DefaultTTL bounds how long a cached value may substitute a missing metric.
const DefaultTTL = 900 * time.Second

// Cache holds the newest value seen per (room, desk, metric). A Put whose
// observedAt is older than the stored observation is ignored, so a retried or
// late reading cannot replace a newer one. A zero observedAt counts as now.
type Cache interface {
	Put(ctx context.Context, room, desk string, metric telemetry.Metric, value float64, observedAt time.Time) error
	Get(ctx context.Context, room, desk string, metric telemetry.Metric) (float64, bool)
}

type key struct {
	room   string
	desk   string
	metric telemetry.Metric
}

type entry struct {
	value      float64
	observedAt time.Time
	cachedAt   time.Time
}
