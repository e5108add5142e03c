package application

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	mood "workspace-mood-monitor/internal/mood/domain"
	telemetry "workspace-mood-monitor/internal/telemetry/domain"
)

// Model predicts a 0..100 mood score from features ordered as telemetry.TrackedMetrics.
type Model interface {
	Predict(features []float64) (float64, error)
}

// LinearModel is a standardized linear regression exported by the training job.
type LinearModel struct {
	Intercept    float64   `json:"intercept"`
	Coefficients []float64 `json:"coefficients"`
	Means        []float64 `json:"means,omitempty"`
	Scales       []float64 `json:"scales,omitempty"`
}

// LoadLinearModel reads a JSON model. Every failure wraps mood.ErrModelUnavailable.
func LoadLinearModel(path string) (*LinearModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", mood.ErrModelUnavailable, err)
	}
	var model LinearModel
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", mood.ErrModelUnavailable, path, err)
	}
	if err := model.validate(); err != nil {
		return nil, err
	}
	return &model, nil
}

func (m *LinearModel) validate() error {
	n := len(telemetry.TrackedMetrics)
	if len(m.Coefficients) != n {
		return fmt.Errorf("%w: expected %d coefficients, got %d", mood.ErrModelUnavailable, n, len(m.Coefficients))
	}
	if len(m.Means) != 0 && len(m.Means) != n {
		return fmt.Errorf("%w: expected %d means, got %d", mood.ErrModelUnavailable, n, len(m.Means))
	}
	if len(m.Scales) != 0 && len(m.Scales) != n {
		return fmt.Errorf("%w: expected %d scales, got %d", mood.ErrModelUnavailable, n, len(m.Scales))
	}
	return nil
}

// Predict evaluates the model.
func (m *LinearModel) Predict(features []float64) (float64, error) {
	if m == nil {
		return 0, mood.ErrModelUnavailable
	}
	if len(features) != len(m.Coefficients) {
		return 0, fmt.Errorf("%w: expected %d features, got %d", mood.ErrModelUnavailable, len(m.Coefficients), len(features))
	}
	out := m.Intercept
	for i, x := range features {
		if len(m.Means) > 0 {
			x -= m.Means[i]
		}
		if len(m.Scales) > 0 && m.Scales[i] != 0 {
			x /= m.Scales[i]
		}
		out += m.Coefficients[i] * x
	}
	if math.IsNaN(out) || math.IsInf(out, 0) {
		return 0, fmt.Errorf("%w: non-finite prediction", mood.ErrModelUnavailable)
	}
	return out, nil
}
