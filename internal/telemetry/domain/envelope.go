package telemetry

import (
	"encoding/json"
	"fmt"
	"time"
)

// NormalizedEnvelope is one inbound notification after normalization.
type NormalizedEnvelope struct {
	Origin     string
	ParentPath string
	ContentID  string
	ObservedAt time.Time
	Room       string
	Desk       string
	Device     string
	Labels     map[string]string
	Metrics    map[Metric]float64
	RawPayload json.RawMessage
}

// Value returns a metric value when present.
func (e NormalizedEnvelope) Value(metric Metric) (float64, bool) {
	value, ok := e.Metrics[metric]
	return value, ok
}

// Records expands the envelope into one telemetry record per metric.
func (e NormalizedEnvelope) Records(entryID int64) []TelemetryRecord {
	records := make([]TelemetryRecord, 0, len(e.Metrics))
	for _, metric := range TrackedMetrics {
		value, ok := e.Metrics[metric]
		if !ok {
			continue
		}
		records = append(records, TelemetryRecord{
			Room:       e.Room,
			Desk:       e.Desk,
			Device:     e.Device,
			Metric:     metric,
			Value:      value,
			Unit:       CanonicalUnit(metric),
			ObservedAt: e.ObservedAt,
			Provenance: Provenance{
				QueueEntryID: entryID,
				ParentPath:   e.ParentPath,
				ContentID:    e.ContentID,
			},
		})
	}
	return records
}

// Provenance points back to the queue entry and source resource.
type Provenance struct {
	QueueEntryID int64
	ParentPath   string
	ContentID    string
}

// TelemetryRecord is one persisted canonical observation.
type TelemetryRecord struct {
	Room       string
	Desk       string
	Device     string
	Metric     Metric
	Value      float64
	Unit       string
	ObservedAt time.Time
	Provenance Provenance
}

// Normalization failure reasons.
const (
	ReasonEmpty     = "empty"
	ReasonMalformed = "malformed"
)

// NormalizationError reports a payload that yields no usable metrics.
type NormalizationError struct {
	Reason string
	Detail string
}

func (e *NormalizationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("normalize: %s", e.Reason)
	}
	return fmt.Sprintf("normalize: %s: %s", e.Reason, e.Detail)
}
