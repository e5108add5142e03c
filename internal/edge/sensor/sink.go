package sensor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"workspace-mood-monitor/internal/auth"
)

// HTTPSink posts reports to the cloud ingest endpoint, signing them when a
// secret is set.
type HTTPSink struct {
	url    string
	secret []byte
	client *http.Client
	now    func() time.Time
}

// NewHTTPSink constructs an HTTPSink.
func NewHTTPSink(url string, secret []byte) (*HTTPSink, error) {
	if url == "" {
		return nil, errors.New("sensor: empty ingest url")
	}
	return &HTTPSink{url: url, secret: secret, client: &http.Client{Timeout: 10 * time.Second}, now: time.Now}, nil
}

// Send implements Sink.
func (s *HTTPSink) Send(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if len(s.secret) > 0 {
		ts := strconv.FormatInt(s.now().Unix(), 10)
		req.Header.Set(auth.HeaderIngestTimestamp, ts)
		req.Header.Set(auth.HeaderIngestSignature, auth.SignIngest(s.secret, ts, payload))
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sensor: ingest http %d", resp.StatusCode)
	}
	return nil
}

// MQTTSink publishes reports to a broker topic.
type MQTTSink struct {
	client  paho.Client
	topic   string
	qos     byte
	timeout time.Duration
}

// NewMQTTSink constructs an MQTTSink over a connected client.
func NewMQTTSink(client paho.Client, topic string, qos byte) (*MQTTSink, error) {
	if client == nil {
		return nil, errors.New("sensor: nil mqtt client")
	}
	if topic == "" {
		return nil, errors.New("sensor: empty mqtt topic")
	}
	return &MQTTSink{client: client, topic: topic, qos: qos, timeout: 10 * time.Second}, nil
}

// Send implements Sink.
func (s *MQTTSink) Send(ctx context.Context, payload []byte) error {
	token := s.client.Publish(s.topic, s.qos, false, payload)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
		return token.Error()
	case <-time.After(s.timeout):
		return errors.New("sensor: mqtt publish timeout")
	}
}
