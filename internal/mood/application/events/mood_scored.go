package events

import (
	"errors"
	"time"

	mood "workspace-mood-monitor/internal/mood/domain"
)

// MoodScored is raised once per newly persisted mood record.
type MoodScored struct {
	EventID    string          `json:"event_id"`
	Record     mood.MoodRecord `json:"record"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// ErrUnexpectedEvent is returned by RecordOf for anything but a MoodScored.
var ErrUnexpectedEvent = errors.New("mood events: unexpected event type")

// RecordOf extracts the mood record from a MoodScored value or pointer.
func RecordOf(event any) (mood.MoodRecord, error) {
	switch e := event.(type) {
	case MoodScored:
		return e.Record, nil
	case *MoodScored:
		if e != nil {
			return e.Record, nil
		}
	}
	return mood.MoodRecord{}, ErrUnexpectedEvent
}
