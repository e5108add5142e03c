package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"workspace-mood-monitor/internal/observability/metrics"
	telemetryapp "workspace-mood-monitor/internal/telemetry/application"
)

// DefaultTopic matches mood/<room>/<desk>/telemetry.
const DefaultTopic = "mood/+/+/telemetry"

// Enqueuer durably accepts raw payloads.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload json.RawMessage) (int64, error)
}

// Config configures the MQTT ingress.
type Config struct {
	Broker   string
	ClientID string
	Topic    string
	QoS      byte
	Username string
	Password string
}

// Subscriber enqueues every message received on the telemetry topic.
type Subscriber struct {
	client paho.Client
	topic  string
	qos    byte
	queue  Enqueuer
	logger *log.Logger
}

// NewClient builds a paho client from config.
func NewClient(cfg Config) (paho.Client, error) {
	if strings.TrimSpace(cfg.Broker) == "" {
		return nil, errors.New("mqtt ingress: broker required")
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("mood-ingest-%d", time.Now().UnixNano())
	}
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	return paho.NewClient(opts), nil
}

// NewSubscriber constructs a subscriber over a connected or unconnected client.
func NewSubscriber(client paho.Client, cfg Config, queue Enqueuer, logger *log.Logger) (*Subscriber, error) {
	if client == nil {
		return nil, errors.New("mqtt ingress: nil client")
	}
	if queue == nil {
		return nil, errors.New("mqtt ingress: nil queue")
	}
	if logger == nil {
		logger = log.Default()
	}
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	return &Subscriber{client: client, topic: topic, qos: cfg.QoS, queue: queue, logger: logger}, nil
}

// Run connects, subscribes and blocks until ctx is done.
func (s *Subscriber) Run(ctx context.Context) error {
	if !s.client.IsConnected() {
		if token := s.client.Connect(); token.Wait() && token.Error() != nil {
			return fmt.Errorf("mqtt ingress: connect: %w", token.Error())
		}
	}
	if token := s.client.Subscribe(s.topic, s.qos, s.Handle(ctx)); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt ingress: subscribe %s: %w", s.topic, token.Error())
	}
	s.logger.Printf("mqtt ingress: subscribed to %s", s.topic)

	<-ctx.Done()
	s.client.Unsubscribe(s.topic).WaitTimeout(2 * time.Second)
	s.client.Disconnect(250)
	return nil
}

// Handle returns the message handler bound to ctx.
func (s *Subscriber) Handle(ctx context.Context) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		start := time.Now()
		payload := msg.Payload()
		if !json.Valid(payload) {
			s.logger.Printf("mqtt ingress: invalid json on %s", msg.Topic())
			metrics.IncIngestError("invalid_json")
			metrics.ObserveIngest(metrics.IngestResultError, time.Since(start))
			return
		}
		if telemetryapp.IsVerification(payload) {
			return
		}
		payload = withTopicIdentity(payload, msg.Topic())
		if _, err := s.queue.Enqueue(ctx, payload); err != nil {
			s.logger.Printf("mqtt ingress: enqueue error: %v", err)
			metrics.IncIngestError("enqueue")
			metrics.ObserveIngest(metrics.IngestResultError, time.Since(start))
			return
		}
		metrics.ObserveIngest(metrics.IngestResultSuccess, time.Since(start))
	}
}

// withTopicIdentity fills room and desk from mood/<room>/<desk>/telemetry
// into flat payloads that carry neither.
func withTopicIdentity(payload []byte, topic string) json.RawMessage {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != "mood" || parts[3] != "telemetry" {
		return payload
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(payload, &body); err != nil {
		return payload
	}
	for key := range body {
		if strings.Contains(key, ":") {
			return payload
		}
	}
	_, hasRoom := body["room"]
	_, hasDesk := body["desk"]
	if hasRoom || hasDesk {
		return payload
	}
	body["room"], _ = json.Marshal(parts[1])
	body["desk"], _ = json.Marshal(parts[2])
	out, err := json.Marshal(body)
	if err != nil {
		return payload
	}
	return out
}
