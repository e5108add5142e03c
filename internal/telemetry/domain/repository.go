package telemetry

import (
	"context"
	"time"
)

// TelemetryRepository persists telemetry records.
type TelemetryRepository interface {
	AppendRecords(ctx context.Context, records []TelemetryRecord) error
}

// TelemetryQuery loads telemetry records for exports.
type TelemetryQuery interface {
	QueryRoom(ctx context.Context, room string, from, to time.Time) ([]TelemetryRecord, error)
}
