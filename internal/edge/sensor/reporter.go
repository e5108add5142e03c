package sensor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	telemetry "workspace-mood-monitor/internal/telemetry/domain"
)

const (
	defaultInterval  = 10 * time.Second
	defaultHeartbeat = 5 * time.Minute
)

// DefaultThresholds are the per-metric changes that trigger a report.
func DefaultThresholds() map[telemetry.Metric]float64 {
	return map[telemetry.Metric]float64{
		telemetry.MetricCO2:         25,
		telemetry.MetricNoise:       2,
		telemetry.MetricLux:         1,
		telemetry.MetricTemperature: 0.2,
		telemetry.MetricHumidity:    1,
		telemetry.MetricOccupancy:   1,
	}
}

// Source produces sensor readings.
type Source interface {
	Read(ctx context.Context) (map[telemetry.Metric]float64, error)
}

// Sink delivers an encoded report.
type Sink interface {
	Send(ctx context.Context, payload []byte) error
}

// Config configures a Reporter.
type Config struct {
	Room       string
	Desk       string
	Device     string
	Interval   time.Duration
	Heartbeat  time.Duration
	Thresholds map[telemetry.Metric]float64
}

// Reporter samples a source and forwards readings that moved past their
// threshold, or all readings once the heartbeat elapses.
type Reporter struct {
	cfg    Config
	source Source
	sink   Sink
	logger *log.Logger
	now    func() time.Time

	mu       sync.Mutex
	last     map[telemetry.Metric]float64
	lastSent time.Time
}

// NewReporter constructs a Reporter.
func NewReporter(source Source, sink Sink, cfg Config, logger *log.Logger) (*Reporter, error) {
	if source == nil {
		return nil, errors.New("sensor: nil source")
	}
	if sink == nil {
		return nil, errors.New("sensor: nil sink")
	}
	if cfg.Room == "" || cfg.Desk == "" {
		return nil, errors.New("sensor: room and desk are required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = defaultHeartbeat
	}
	if cfg.Thresholds == nil {
		cfg.Thresholds = DefaultThresholds()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Reporter{
		cfg:    cfg,
		source: source,
		sink:   sink,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		last:   map[telemetry.Metric]float64{},
	}, nil
}

// Run samples on every interval until ctx is done.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := r.Tick(ctx); err != nil {
			r.logger.Printf("sensor: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick samples once and reports when warranted. It returns whether a report was sent.
func (r *Reporter) Tick(ctx context.Context) (bool, error) {
	reading, err := r.source.Read(ctx)
	if err != nil {
		return false, fmt.Errorf("read: %w", err)
	}
	now := r.now()
	if !r.shouldReport(reading, now) {
		return false, nil
	}
	payload, err := r.encode(reading, now)
	if err != nil {
		return false, err
	}
	if err := r.sink.Send(ctx, payload); err != nil {
		return false, fmt.Errorf("send: %w", err)
	}

	r.mu.Lock()
	for metric, value := range reading {
		r.last[metric] = value
	}
	r.lastSent = now
	r.mu.Unlock()
	return true, nil
}

func (r *Reporter) shouldReport(reading map[telemetry.Metric]float64, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastSent.IsZero() || now.Sub(r.lastSent) >= r.cfg.Heartbeat {
		return true
	}
	for metric, value := range reading {
		previous, seen := r.last[metric]
		if !seen || math.Abs(value-previous) >= r.cfg.Thresholds[metric] {
			return true
		}
	}
	return false
}

func (r *Reporter) encode(reading map[telemetry.Metric]float64, now time.Time) ([]byte, error) {
	body := map[string]any{
		"room": r.cfg.Room,
		"desk": r.cfg.Desk,
		"ts":   now.Format(time.RFC3339),
	}
	if r.cfg.Device != "" {
		body["device"] = r.cfg.Device
	}
	for metric, value := range reading {
		body[string(metric)] = value
	}
	return json.Marshal(body)
}
