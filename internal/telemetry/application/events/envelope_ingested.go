package events

import (
	"time"

	telemetry "workspace-mood-monitor/internal/telemetry/domain"
)

// EnvelopeIngested is raised after an envelope's telemetry is persisted and cached.
type EnvelopeIngested struct {
	EventID      string                       `json:"event_id"`
	QueueEntryID int64                        `json:"queue_entry_id"`
	ParentPath   string                       `json:"parent_path"`
	ContentID    string                       `json:"content_id"`
	Room         string                       `json:"room"`
	Desk         string                       `json:"desk"`
	Device       string                       `json:"device"`
	Metrics      map[telemetry.Metric]float64 `json:"metrics"`
	ObservedAt   time.Time                    `json:"observed_at"`
	OccurredAt   time.Time                    `json:"occurred_at"`
}
