package feedback

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	moodevents "workspace-mood-monitor/internal/mood/application/events"
	mood "workspace-mood-monitor/internal/mood/domain"
	"workspace-mood-monitor/internal/observability/metrics"
	"workspace-mood-monitor/internal/onem2m"
)

const (
	defaultCSEID       = "id-room-mn-cse"
	defaultAE          = "moodMonitorAE"
	defaultMaxAttempts = 3
	defaultBackoff     = 2 * time.Second
	defaultQueueSize   = 64
)

// ErrMissingTarget is returned for records without room or desk.
var ErrMissingTarget = errors.New("feedback: missing room or desk")

// Updater updates a CSE resource.
type Updater interface {
	Update(ctx context.Context, path string, body any, out any) error
}

// Config configures a Dispatcher.
type Config struct {
	CSEID       string
	AE          string
	MaxAttempts int
	Backoff     time.Duration
	SwitchOn    bool
	// RatePerSecond paces lamp updates; zero disables pacing.
	RatePerSecond float64
	QueueSize     int
}

// Dispatcher pushes mood colors to the lamp resources of a desk.
type Dispatcher struct {
	client  Updater
	cfg     Config
	limiter *rate.Limiter
	queue   chan mood.MoodRecord
	logger  *log.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(client Updater, cfg Config, logger *log.Logger) (*Dispatcher, error) {
	if client == nil {
		return nil, errors.New("feedback: nil client")
	}
	if cfg.CSEID == "" {
		cfg.CSEID = defaultCSEID
	}
	if cfg.AE == "" {
		cfg.AE = defaultAE
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if logger == nil {
		logger = log.Default()
	}
	d := &Dispatcher{
		client: client,
		cfg:    cfg,
		queue:  make(chan mood.MoodRecord, cfg.QueueSize),
		logger: logger,
		sleep:  sleepContext,
	}
	if cfg.RatePerSecond > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	return d, nil
}

// ColorPath returns the lamp color resource path for a desk.
func (d *Dispatcher) ColorPath(room, desk string) string {
	return d.lampPath(room, desk) + "/color"
}

// SwitchPath returns the lamp switch resource path for a desk.
func (d *Dispatcher) SwitchPath(room, desk string) string {
	return d.lampPath(room, desk) + "/switch"
}

func (d *Dispatcher) lampPath(room, desk string) string {
	return fmt.Sprintf("/~/%s/-/%s/%s/%s/lamp", d.cfg.CSEID, d.cfg.AE, url.PathEscape(room), url.PathEscape(desk))
}

// Dispatch sets the lamp color for the record's desk, switching the lamp on
// first when configured.
func (d *Dispatcher) Dispatch(ctx context.Context, rec mood.MoodRecord) error {
	start := time.Now()
	err := d.dispatch(ctx, rec)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveFeedbackDispatch(result, time.Since(start))
	return err
}

func (d *Dispatcher) dispatch(ctx context.Context, rec mood.MoodRecord) error {
	if strings.TrimSpace(rec.Room) == "" || strings.TrimSpace(rec.Desk) == "" {
		return &onem2m.PermanentError{Err: ErrMissingTarget}
	}
	color, err := mood.ParseHex(rec.LEDColor)
	if err != nil {
		return &onem2m.PermanentError{Err: err}
	}

	if d.cfg.SwitchOn {
		body := map[string]any{"cod:binSh": map[string]any{"state": true}}
		if err := d.update(ctx, d.SwitchPath(rec.Room, rec.Desk), body); err != nil {
			return err
		}
	}
	body := map[string]any{"cod:color": color}
	return d.update(ctx, d.ColorPath(rec.Room, rec.Desk), body)
}

func (d *Dispatcher) update(ctx context.Context, path string, body any) error {
	var err error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if d.limiter != nil {
			if werr := d.limiter.Wait(ctx); werr != nil {
				return werr
			}
		}
		err = d.client.Update(ctx, path, body, nil)
		if err == nil || !onem2m.IsTransient(err) {
			return err
		}
		if attempt == d.cfg.MaxAttempts {
			break
		}
		d.logger.Printf("feedback: update %s attempt %d failed: %v", path, attempt, err)
		if serr := d.sleep(ctx, d.cfg.Backoff); serr != nil {
			return serr
		}
	}
	return fmt.Errorf("feedback: update %s after %d attempts: %w", path, d.cfg.MaxAttempts, err)
}

// HandleMoodScored queues the record for asynchronous dispatch. A full queue
// drops the update; the next score for the desk supersedes it anyway.
func (d *Dispatcher) HandleMoodScored(ctx context.Context, event any) error {
	rec, err := moodevents.RecordOf(event)
	if err != nil {
		return err
	}
	select {
	case d.queue <- rec:
	default:
		d.logger.Printf("feedback: queue full, dropping %s/%s", rec.Room, rec.Desk)
		metrics.ObserveFeedbackDispatch(metrics.ResultDropped, 0)
	}
	return nil
}

// Run dispatches queued records until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-d.queue:
			if err := d.Dispatch(ctx, rec); err != nil {
				d.logger.Printf("feedback: dispatch %s/%s: %v", rec.Room, rec.Desk, err)
			}
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
