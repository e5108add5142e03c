package mood

import (
	"errors"
	"fmt"
	"math"

	telemetry "workspace-mood-monitor/internal/telemetry/domain"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("mood: invalid config")

// Band is a piecewise-linear comfort band. Values inside Optimal score 100,
// inside Acceptable fall linearly to the floor, and reach 0 at Limit.
type Band struct {
	Optimal    [2]float64 `yaml:"optimal" json:"optimal"`
	Acceptable [2]float64 `yaml:"acceptable" json:"acceptable"`
	Limit      [2]float64 `yaml:"limit" json:"limit"`
}

// Score evaluates v against the band.
func (b Band) Score(v, floor float64) float64 {
	optLow, optHigh := b.Optimal[0], b.Optimal[1]
	accLow, accHigh := b.Acceptable[0], b.Acceptable[1]
	limLow, limHigh := b.Limit[0], b.Limit[1]

	switch {
	case v >= optLow && v <= optHigh:
		return 100
	case v > optHigh:
		if v <= accHigh && accHigh > optHigh {
			return 100 - (100-floor)*(v-optHigh)/(accHigh-optHigh)
		}
		if v >= limHigh || limHigh <= accHigh {
			return 0
		}
		return floor * (limHigh - v) / (limHigh - accHigh)
	default:
		if v >= accLow && accLow < optLow {
			return 100 - (100-floor)*(optLow-v)/(optLow-accLow)
		}
		if v <= limLow || limLow >= accLow {
			return 0
		}
		return floor * (v - limLow) / (accLow - limLow)
	}
}

func (b Band) validate() error {
	points := []float64{b.Limit[0], b.Acceptable[0], b.Optimal[0], b.Optimal[1], b.Acceptable[1], b.Limit[1]}
	for i := 1; i < len(points); i++ {
		if points[i] < points[i-1] {
			return errors.New("band bounds must be ordered limit <= acceptable <= optimal")
		}
	}
	return nil
}

// Softening pulls scores toward Center by Factor.
type Softening struct {
	Center float64 `yaml:"center"`
	Factor float64 `yaml:"factor"`
}

// Thresholds are inclusive lower bounds for the labels.
type Thresholds struct {
	Focus   float64 `yaml:"focus"`
	Neutral float64 `yaml:"neutral"`
}

// Config holds every scoring knob.
type Config struct {
	Bands          map[telemetry.Metric]Band    `yaml:"bands"`
	Weights        map[telemetry.Metric]float64 `yaml:"weights"`
	Defaults       map[telemetry.Metric]float64 `yaml:"defaults"`
	Floor          float64                      `yaml:"floor"`
	Alpha          float64                      `yaml:"alpha"`
	Softening      Softening                    `yaml:"softening"`
	Bias           float64                      `yaml:"bias"`
	Thresholds     Thresholds                   `yaml:"thresholds"`
	ColorPivot     float64                      `yaml:"color_pivot"`
	CachePenalty   float64                      `yaml:"cache_penalty"`
	DefaultPenalty float64                      `yaml:"default_penalty"`
}

// DefaultConfig returns the calibrated office-comfort defaults.
func DefaultConfig() Config {
	return Config{
		Bands: map[telemetry.Metric]Band{
			telemetry.MetricCO2:         {Optimal: [2]float64{0, 800}, Acceptable: [2]float64{0, 1200}, Limit: [2]float64{0, 2000}},
			telemetry.MetricNoise:       {Optimal: [2]float64{0, 35}, Acceptable: [2]float64{0, 55}, Limit: [2]float64{0, 80}},
			telemetry.MetricLux:         {Optimal: [2]float64{300, 1000}, Acceptable: [2]float64{150, 1500}, Limit: [2]float64{0, 3000}},
			telemetry.MetricTemperature: {Optimal: [2]float64{20, 24}, Acceptable: [2]float64{18, 26}, Limit: [2]float64{10, 35}},
			telemetry.MetricHumidity:    {Optimal: [2]float64{40, 60}, Acceptable: [2]float64{30, 70}, Limit: [2]float64{10, 90}},
		},
		Weights: map[telemetry.Metric]float64{
			telemetry.MetricCO2:         0.25,
			telemetry.MetricNoise:       0.25,
			telemetry.MetricLux:         0.20,
			telemetry.MetricTemperature: 0.15,
			telemetry.MetricHumidity:    0.10,
			telemetry.MetricOccupancy:   0.05,
		},
		Defaults: map[telemetry.Metric]float64{
			telemetry.MetricCO2:         600,
			telemetry.MetricNoise:       45,
			telemetry.MetricLux:         300,
			telemetry.MetricTemperature: 22,
			telemetry.MetricHumidity:    45,
			telemetry.MetricOccupancy:   0,
		},
		Floor:          50,
		Alpha:          1,
		Softening:      Softening{Center: 60, Factor: 0.9},
		Thresholds:     Thresholds{Focus: 70, Neutral: 40},
		ColorPivot:     50,
		CachePenalty:   0.05,
		DefaultPenalty: 0.12,
	}
}

// Validate rejects inconsistent configurations.
func (c Config) Validate() error {
	sum := 0.0
	for _, metric := range telemetry.TrackedMetrics {
		w, ok := c.Weights[metric]
		if !ok {
			return fmt.Errorf("%w: missing weight for %s", ErrInvalidConfig, metric)
		}
		if w < 0 {
			return fmt.Errorf("%w: negative weight for %s", ErrInvalidConfig, metric)
		}
		sum += w
		if _, ok := c.Defaults[metric]; !ok {
			return fmt.Errorf("%w: missing default for %s", ErrInvalidConfig, metric)
		}
		if metric == telemetry.MetricOccupancy {
			continue
		}
		band, ok := c.Bands[metric]
		if !ok {
			return fmt.Errorf("%w: missing band for %s", ErrInvalidConfig, metric)
		}
		if err := band.validate(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, metric, err)
		}
	}
	if math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("%w: weights sum to %.6f", ErrInvalidConfig, sum)
	}
	if c.Floor <= 0 || c.Floor >= 100 {
		return fmt.Errorf("%w: floor must be within (0, 100)", ErrInvalidConfig)
	}
	if c.Alpha < 0 || c.Alpha > 1 {
		return fmt.Errorf("%w: alpha must be within [0, 1]", ErrInvalidConfig)
	}
	if c.Softening.Factor < 0 || c.Softening.Factor > 1 {
		return fmt.Errorf("%w: softening factor must be within [0, 1]", ErrInvalidConfig)
	}
	if c.Thresholds.Focus <= c.Thresholds.Neutral {
		return fmt.Errorf("%w: focus threshold must exceed neutral threshold", ErrInvalidConfig)
	}
	if c.Thresholds.Neutral < 0 || c.Thresholds.Focus > 100 {
		return fmt.Errorf("%w: thresholds must be within [0, 100]", ErrInvalidConfig)
	}
	if c.ColorPivot <= 0 || c.ColorPivot >= 100 {
		return fmt.Errorf("%w: color pivot must be within (0, 100)", ErrInvalidConfig)
	}
	if c.CachePenalty < 0 || c.DefaultPenalty < 0 {
		return fmt.Errorf("%w: penalties must be non-negative", ErrInvalidConfig)
	}
	return nil
}

// LabelFor maps a score to its label.
func (c Config) LabelFor(score int) Label {
	s := float64(score)
	switch {
	case s >= c.Thresholds.Focus:
		return LabelFocus
	case s >= c.Thresholds.Neutral:
		return LabelNeutral
	default:
		return LabelTired
	}
}
