//go:build property
// +build property

package application

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	mood "workspace-mood-monitor/internal/mood/domain"
	telemetry "workspace-mood-monitor/internal/telemetry/domain"
)

// Property: any reading with any bias yields a score in [0, 100] whose label and color agree with it.
func TestScoreBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("score stays within bounds", prop.ForAll(
		func(co2, noise, lux, temp, rh, bias float64, occupied bool) bool {
			cfg := mood.DefaultConfig()
			cfg.Bias = bias
			engine := newTestEngine(t, cfg, nil, nil)
			occ := 0.0
			if occupied {
				occ = 1
			}
			rec := engine.Score(context.Background(), ScoreInput{Metrics: map[telemetry.Metric]float64{
				telemetry.MetricCO2:         co2,
				telemetry.MetricNoise:       noise,
				telemetry.MetricLux:         lux,
				telemetry.MetricTemperature: temp,
				telemetry.MetricHumidity:    rh,
				telemetry.MetricOccupancy:   occ,
			}})
			if rec.Score < 0 || rec.Score > 100 {
				return false
			}
			if rec.Label != cfg.LabelFor(rec.Score) {
				return false
			}
			return rec.LEDColor == mood.ScoreColor(rec.Score, cfg.ColorPivot).Hex()
		},
		gen.Float64Range(0, 6000),
		gen.Float64Range(0, 120),
		gen.Float64Range(0, 10000),
		gen.Float64Range(-20, 50),
		gen.Float64Range(0, 100),
		gen.Float64Range(-150, 150),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
