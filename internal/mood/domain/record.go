package mood

import (
	"context"
	"errors"
	"time"

	telemetry "workspace-mood-monitor/internal/telemetry/domain"
)

// Label classifies a mood score.
type Label string

const (
	LabelFocus   Label = "focus"
	LabelNeutral Label = "neutral"
	LabelTired   Label = "tired"
)

// Source tells where a scoring input came from.
type Source string

const (
	SourceEnvelope Source = "envelope"
	SourceCache    Source = "cache"
	SourceDefault  Source = "default"
)

// ErrModelUnavailable is returned when the learned model cannot be loaded or evaluated.
var ErrModelUnavailable = errors.New("mood: model unavailable")

// Input is one gap-filled metric value used for scoring.
type Input struct {
	Value  float64 `json:"value"`
	Source Source  `json:"source"`
}

// MoodRecord is one computed mood, unique per (ParentPath, ContentID).
type MoodRecord struct {
	ParentPath     string                     `json:"parent_path"`
	ContentID      string                     `json:"content_id"`
	ObservedAt     time.Time                  `json:"observed_at"`
	Score          int                        `json:"score"`
	Label          Label                      `json:"label"`
	Confidence     float64                    `json:"confidence"`
	Room           string                     `json:"room"`
	Desk           string                     `json:"desk"`
	Device         string                     `json:"device"`
	LEDColor       string                     `json:"led_color"`
	HeuristicScore float64                    `json:"heuristic_score"`
	ModelScore     *float64                   `json:"model_score"`
	Inputs         map[telemetry.Metric]Input `json:"inputs,omitempty"`
	InsertedAt     time.Time                  `json:"inserted_at"`
}

// Repository persists mood records.
type Repository interface {
	// Insert stores rec and reports false when (ParentPath, ContentID) already exists.
	Insert(ctx context.Context, rec MoodRecord) (bool, error)
	// Latest returns the newest record observed at or after since, or nil.
	Latest(ctx context.Context, room string, since time.Time) (*MoodRecord, error)
	List(ctx context.Context, room string, from, to time.Time) ([]MoodRecord, error)
}
