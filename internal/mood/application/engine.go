package application

import (
	"context"
	"errors"
	"log"
	"math"
	"time"

	"workspace-mood-monitor/internal/latestcache"
	mood "workspace-mood-monitor/internal/mood/domain"
	"workspace-mood-monitor/internal/observability/metrics"
	telemetry "workspace-mood-monitor/internal/telemetry/domain"
)

// ScoreInput is one envelope's worth of scoring context.
type ScoreInput struct {
	Metrics    map[telemetry.Metric]float64
	Room       string
	Desk       string
	Device     string
	ParentPath string
	ContentID  string
	ObservedAt time.Time
}

// Engine computes mood records. It holds no per-call state.
type Engine struct {
	cfg    mood.Config
	cache  latestcache.Cache
	model  Model
	logger *log.Logger
}

// NewEngine constructs an engine. model may be nil.
func NewEngine(cfg mood.Config, cache latestcache.Cache, model Model, logger *log.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cache == nil {
		return nil, errors.New("mood engine: nil cache")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{cfg: cfg, cache: cache, model: model, logger: logger}, nil
}

// Config returns the active configuration.
func (e *Engine) Config() mood.Config {
	return e.cfg
}

// Score computes a mood record for in.
func (e *Engine) Score(ctx context.Context, in ScoreInput) mood.MoodRecord {
	inputs, cacheHits, defaults := e.gapFill(ctx, in)

	heuristic := e.composite(inputs)
	blended := heuristic
	var modelScore *float64
	if e.model != nil && e.cfg.Alpha < 1 {
		if ml, ok := e.predict(inputs); ok {
			modelScore = &ml
			blended = e.cfg.Alpha*heuristic + (1-e.cfg.Alpha)*ml
		}
	}

	score := e.calibrate(blended)
	confidence := 1 - e.cfg.CachePenalty*float64(cacheHits) - e.cfg.DefaultPenalty*float64(defaults)
	if confidence < 0 {
		confidence = 0
	}

	return mood.MoodRecord{
		ParentPath:     in.ParentPath,
		ContentID:      in.ContentID,
		ObservedAt:     in.ObservedAt,
		Score:          score,
		Label:          e.cfg.LabelFor(score),
		Confidence:     math.Round(confidence*1000) / 1000,
		Room:           in.Room,
		Desk:           in.Desk,
		Device:         in.Device,
		LEDColor:       mood.ScoreColor(score, e.cfg.ColorPivot).Hex(),
		HeuristicScore: math.Round(heuristic*100) / 100,
		ModelScore:     modelScore,
		Inputs:         inputs,
	}
}

func (e *Engine) gapFill(ctx context.Context, in ScoreInput) (map[telemetry.Metric]mood.Input, int, int) {
	inputs := make(map[telemetry.Metric]mood.Input, len(telemetry.TrackedMetrics))
	cacheHits, defaults := 0, 0
	for _, metric := range telemetry.TrackedMetrics {
		if v, ok := in.Metrics[metric]; ok {
			inputs[metric] = mood.Input{Value: v, Source: mood.SourceEnvelope}
			continue
		}
		if v, ok := e.cache.Get(ctx, in.Room, in.Desk, metric); ok {
			inputs[metric] = mood.Input{Value: v, Source: mood.SourceCache}
			cacheHits++
			continue
		}
		inputs[metric] = mood.Input{Value: e.cfg.Defaults[metric], Source: mood.SourceDefault}
		defaults++
	}
	return inputs, cacheHits, defaults
}

// composite is the weighted band score. Occupancy scores 100 when the desk is
// occupied and the remaining comfort reaches the neutral threshold, else 50.
func (e *Engine) composite(inputs map[telemetry.Metric]mood.Input) float64 {
	total, comfort, comfortWeight := 0.0, 0.0, 0.0
	for _, metric := range telemetry.TrackedMetrics {
		if metric == telemetry.MetricOccupancy {
			continue
		}
		s := e.cfg.Bands[metric].Score(inputs[metric].Value, e.cfg.Floor)
		w := e.cfg.Weights[metric]
		total += w * s
		comfort += w * s
		comfortWeight += w
	}
	if comfortWeight > 0 {
		comfort /= comfortWeight
	}
	occupancy := 50.0
	if inputs[telemetry.MetricOccupancy].Value > 0 && comfort >= e.cfg.Thresholds.Neutral {
		occupancy = 100
	}
	total += e.cfg.Weights[telemetry.MetricOccupancy] * occupancy
	return clamp(total, 0, 100)
}

func (e *Engine) predict(inputs map[telemetry.Metric]mood.Input) (float64, bool) {
	features := make([]float64, len(telemetry.TrackedMetrics))
	for i, metric := range telemetry.TrackedMetrics {
		features[i] = inputs[metric].Value
	}
	ml, err := e.model.Predict(features)
	if err != nil {
		e.logger.Printf("mood engine: model predict failed, using heuristic: %v", err)
		metrics.IncModelFallback("predict")
		return 0, false
	}
	return clamp(ml, 0, 100), true
}

func (e *Engine) calibrate(raw float64) int {
	center := e.cfg.Softening.Center
	softened := center + e.cfg.Softening.Factor*(raw-center)
	return int(math.Round(clamp(softened+e.cfg.Bias, 0, 100)))
}

func clamp(v, low, high float64) float64 {
	return math.Max(low, math.Min(high, v))
}
