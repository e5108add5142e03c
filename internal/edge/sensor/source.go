package sensor

import (
	"context"
	"math"
	"math/rand"
	"sync"

	telemetry "workspace-mood-monitor/internal/telemetry/domain"
)

type walk struct {
	value, step, min, max float64
}

// RandomWalk simulates a desk by drifting each metric within a plausible range.
type RandomWalk struct {
	mu    sync.Mutex
	rng   *rand.Rand
	walks map[telemetry.Metric]*walk
}

// NewRandomWalk seeds a simulated source starting from comfortable office values.
func NewRandomWalk(seed int64) *RandomWalk {
	return &RandomWalk{
		rng: rand.New(rand.NewSource(seed)),
		walks: map[telemetry.Metric]*walk{
			telemetry.MetricCO2:         {value: 600, step: 30, min: 400, max: 2000},
			telemetry.MetricNoise:       {value: 42, step: 3, min: 25, max: 85},
			telemetry.MetricLux:         {value: 450, step: 20, min: 50, max: 1200},
			telemetry.MetricTemperature: {value: 22, step: 0.2, min: 16, max: 30},
			telemetry.MetricHumidity:    {value: 45, step: 1, min: 20, max: 70},
			telemetry.MetricOccupancy:   {value: 1, step: 0.4, min: 0, max: 4},
		},
	}
}

// Read implements Source.
func (s *RandomWalk) Read(ctx context.Context) (map[telemetry.Metric]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	reading := make(map[telemetry.Metric]float64, len(s.walks))
	for metric, w := range s.walks {
		w.value = math.Max(w.min, math.Min(w.max, w.value+(s.rng.Float64()*2-1)*w.step))
		value := math.Round(w.value*10) / 10
		if metric == telemetry.MetricOccupancy {
			value = math.Round(w.value)
		}
		reading[metric] = value
	}
	return reading, nil
}
