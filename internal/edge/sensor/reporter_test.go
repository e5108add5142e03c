package sensor

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workspace-mood-monitor/internal/auth"
	telemetryapp "workspace-mood-monitor/internal/telemetry/application"
	telemetry "workspace-mood-monitor/internal/telemetry/domain"
)

type scriptedSource struct {
	readings []map[telemetry.Metric]float64
}

func (s *scriptedSource) Read(ctx context.Context) (map[telemetry.Metric]float64, error) {
	next := s.readings[0]
	if len(s.readings) > 1 {
		s.readings = s.readings[1:]
	}
	return next, nil
}

type captureSink struct {
	payloads [][]byte
}

func (s *captureSink) Send(ctx context.Context, payload []byte) error {
	s.payloads = append(s.payloads, payload)
	return nil
}

func TestReporter_ReportsOnThresholdOrHeartbeat(t *testing.T) {
	source := &scriptedSource{readings: []map[telemetry.Metric]float64{
		{telemetry.MetricLux: 400, telemetry.MetricNoise: 40},
		{telemetry.MetricLux: 400.5, telemetry.MetricNoise: 41},
		{telemetry.MetricLux: 402, telemetry.MetricNoise: 41},
		{telemetry.MetricLux: 402, telemetry.MetricNoise: 41},
		{telemetry.MetricLux: 402, telemetry.MetricNoise: 41},
	}}
	sink := &captureSink{}
	reporter, err := NewReporter(source, sink, Config{Room: "room1", Desk: "desk1", Heartbeat: time.Minute}, log.New(io.Discard, "", 0))
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	reporter.now = func() time.Time { return now }

	var sent []bool
	for i := 0; i < 4; i++ {
		ok, err := reporter.Tick(context.Background())
		require.NoError(t, err)
		sent = append(sent, ok)
		now = now.Add(10 * time.Second)
	}
	now = now.Add(time.Minute)
	ok, err := reporter.Tick(context.Background())
	require.NoError(t, err)
	sent = append(sent, ok)

	assert.Equal(t, []bool{true, false, true, false, true}, sent)
	assert.Len(t, sink.payloads, 3)
}

func TestReporter_PayloadNormalizes(t *testing.T) {
	source := &scriptedSource{readings: []map[telemetry.Metric]float64{
		{telemetry.MetricCO2: 650, telemetry.MetricTemperature: 22, telemetry.MetricOccupancy: 1},
	}}
	sink := &captureSink{}
	reporter, err := NewReporter(source, sink, Config{Room: "room1", Desk: "desk1", Device: "sim"}, nil)
	require.NoError(t, err)

	_, err = reporter.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, sink.payloads, 1)

	env, err := telemetryapp.NewNormalizer(log.New(io.Discard, "", 0)).Normalize(sink.payloads[0], telemetryapp.SourceHints{EntryID: 1})
	require.NoError(t, err)
	assert.Equal(t, "room1", env.Room)
	assert.Equal(t, "desk1", env.Desk)
	value, ok := env.Value(telemetry.MetricCO2)
	assert.True(t, ok)
	assert.Equal(t, 650.0, value)
}

func TestHTTPSink_PostsPayload(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink, err := NewHTTPSink(srv.URL+"/notify", nil)
	require.NoError(t, err)
	require.NoError(t, sink.Send(context.Background(), []byte(`{"lux":1}`)))
	assert.JSONEq(t, `{"lux":1}`, string(body))
}

func TestHTTPSink_SignedReportPassesIngestAuth(t *testing.T) {
	secret := []byte("device-secret")
	accepted := false
	srv := httptest.NewServer(auth.NewIngestAuthMiddleware(secret, time.Minute).Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accepted = true
	})))
	defer srv.Close()

	sink, err := NewHTTPSink(srv.URL, secret)
	require.NoError(t, err)
	require.NoError(t, sink.Send(context.Background(), []byte(`{"lux":1}`)))
	assert.True(t, accepted)

	unsigned, err := NewHTTPSink(srv.URL, []byte("wrong"))
	require.NoError(t, err)
	assert.Error(t, unsigned.Send(context.Background(), []byte(`{"lux":1}`)))
}

func TestHTTPSink_RejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink, err := NewHTTPSink(srv.URL, nil)
	require.NoError(t, err)
	assert.Error(t, sink.Send(context.Background(), []byte(`{}`)))
}

func TestRandomWalk_StaysInRange(t *testing.T) {
	source := NewRandomWalk(7)
	for i := 0; i < 500; i++ {
		reading, err := source.Read(context.Background())
		require.NoError(t, err)
		require.Len(t, reading, len(telemetry.TrackedMetrics))
		assert.GreaterOrEqual(t, reading[telemetry.MetricCO2], 400.0)
		assert.LessOrEqual(t, reading[telemetry.MetricHumidity], 70.0)
	}
}
