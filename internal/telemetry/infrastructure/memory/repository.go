package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	telemetry "workspace-mood-monitor/internal/telemetry/domain"
)

// TelemetryRepository keeps telemetry records in memory.
type TelemetryRepository struct {
	mu      sync.RWMutex
	records []telemetry.TelemetryRecord
}

// NewTelemetryRepository constructs an empty repository.
func NewTelemetryRepository() *TelemetryRepository {
	return &TelemetryRepository{}
}

// AppendRecords stores all records or none.
func (r *TelemetryRepository) AppendRecords(ctx context.Context, records []telemetry.TelemetryRecord) error {
	for _, rec := range records {
		if rec.Metric == "" || rec.ObservedAt.IsZero() {
			return errors.New("telemetry repo: invalid record")
		}
	}
	r.mu.Lock()
	r.records = append(r.records, records...)
	r.mu.Unlock()
	return nil
}

// QueryRoom returns records for a room within [from, to), oldest first.
func (r *TelemetryRepository) QueryRoom(ctx context.Context, room string, from, to time.Time) ([]telemetry.TelemetryRecord, error) {
	if from.IsZero() || to.IsZero() || !from.Before(to) {
		return nil, errors.New("telemetry query: invalid range")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []telemetry.TelemetryRecord
	for _, rec := range r.records {
		if room != "" && rec.Room != room {
			continue
		}
		if rec.ObservedAt.Before(from) || !rec.ObservedAt.Before(to) {
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ObservedAt.Before(out[j].ObservedAt) })
	return out, nil
}

// Len returns the number of stored records.
func (r *TelemetryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
