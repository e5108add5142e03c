package main

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type config struct {
	HTTPAddr         string
	StorageDriver    string
	DatabaseURL      string
	SQLitePath       string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	LatestTTL        time.Duration
	LatestMoodWindow time.Duration

	QueueMaxAttempts  int
	QueueLease        time.Duration
	QueueBackoffBase  time.Duration
	QueueBackoffMax   time.Duration
	WorkerConcurrency int
	WorkerIdleSleep   time.Duration

	MoodModelPath string

	JWTSecret         string
	IngestSecret      string
	IngestSkewSeconds int

	MQTTBroker   string
	MQTTTopic    string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string
	MQTTQoS      int

	KafkaBrokers   []string
	KafkaMoodTopic string

	CSEBase     string
	CSEOrigin   string
	CSERVI      string
	CSEUser     string
	CSEPass     string
	CSEID       string
	CSEAE       string
	CSEMoodPath string

	FeedbackEnabled     bool
	FeedbackMaxAttempts int
	FeedbackBackoff     time.Duration
	FeedbackRate        float64
	FeedbackSwitchOn    bool
}

func loadConfig() config {
	return config{
		HTTPAddr:         getenvDefault("HTTP_ADDR", ":8080"),
		StorageDriver:    strings.ToLower(getenvDefault("STORAGE_DRIVER", "postgres")),
		DatabaseURL:      getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		SQLitePath:       getenvDefault("SQLITE_PATH", "moodmon.db"),
		RedisAddr:        getenvDefault("REDIS_ADDR", ""),
		RedisPassword:    getenvDefault("REDIS_PASSWORD", ""),
		RedisDB:          getenvIntDefault("REDIS_DB", 0),
		LatestTTL:        time.Duration(getenvIntDefault("LATEST_TTL_SEC", 900)) * time.Second,
		LatestMoodWindow: getenvDuration("LATEST_MOOD_WINDOW", time.Hour),

		QueueMaxAttempts:  getenvIntDefault("QUEUE_MAX_ATTEMPTS", 5),
		QueueLease:        getenvDuration("QUEUE_LEASE", 30*time.Second),
		QueueBackoffBase:  getenvDuration("QUEUE_BACKOFF_BASE", 5*time.Second),
		QueueBackoffMax:   getenvDuration("QUEUE_BACKOFF_MAX", 300*time.Second),
		WorkerConcurrency: getenvIntDefault("WORKER_CONCURRENCY", 2),
		WorkerIdleSleep:   getenvDuration("WORKER_IDLE_SLEEP", time.Second),

		MoodModelPath: getenvDefault("MOOD_MODEL_PATH", ""),

		JWTSecret:         getenvDefault("JWT_SECRET", ""),
		IngestSecret:      getenvDefault("INGEST_SECRET", ""),
		IngestSkewSeconds: getenvIntDefault("INGEST_MAX_SKEW_SECONDS", 300),

		MQTTBroker:   getenvDefault("MQTT_BROKER", ""),
		MQTTTopic:    getenvDefault("MQTT_TOPIC", "mood/+/+/telemetry"),
		MQTTClientID: getenvDefault("MQTT_CLIENT_ID", ""),
		MQTTUsername: getenvDefault("MQTT_USERNAME", ""),
		MQTTPassword: getenvDefault("MQTT_PASSWORD", ""),
		MQTTQoS:      getenvIntDefault("MQTT_QOS", 1),

		KafkaBrokers:   splitCSV(getenvDefault("KAFKA_BROKERS", "")),
		KafkaMoodTopic: getenvDefault("KAFKA_MOOD_TOPIC", "mood.records"),

		CSEBase:     getenvDefault("CSE_PUT_BASE", getenvDefault("CSE_BASE", "")),
		CSEOrigin:   getenvDefault("CSE_ORIGIN", "admin:admin"),
		CSERVI:      getenvDefault("CSE_PUT_RVI", "3"),
		CSEUser:     getenvDefault("CSE_USER", ""),
		CSEPass:     getenvDefault("CSE_PASS", ""),
		CSEID:       getenvDefault("CSE_PUT_CSEID", "id-room-mn-cse"),
		CSEAE:       getenvDefault("CSE_PUT_AE", "moodMonitorAE"),
		CSEMoodPath: getenvDefault("CSE_MOOD_PATH", ""),

		FeedbackEnabled:     getenvBool("FEEDBACK_ENABLED", true),
		FeedbackMaxAttempts: getenvIntDefault("FEEDBACK_MAX_ATTEMPTS", 3),
		FeedbackBackoff:     getenvDuration("FEEDBACK_BACKOFF", 2*time.Second),
		FeedbackRate:        getenvFloatDefault("FEEDBACK_RATE_PER_SEC", 0),
		FeedbackSwitchOn:    getenvBool("FEEDBACK_SWITCH_ON", false),
	}
}

type edgeConfig struct {
	NotifyAddr  string
	CallbackURL string
	LampPath    string
	Bootstrap   bool

	Room       string
	Desk       string
	Device     string
	IngestURL  string
	Interval   time.Duration
	Heartbeat  time.Duration
	Seed       int64
	MQTTTopic  string
	UseMQTT    bool
	SignSecret string
}

func loadEdgeConfig(cfg config) edgeConfig {
	room := getenvDefault("EDGE_ROOM", "Room01")
	desk := getenvDefault("EDGE_DESK", "Desk01")
	return edgeConfig{
		NotifyAddr:  getenvDefault("EDGE_NOTIFY_ADDR", ":8888"),
		CallbackURL: getenvDefault("EDGE_CALLBACK_URL", ""),
		LampPath:    getenvDefault("EDGE_LAMP_PATH", "/~/"+cfg.CSEID+"/-/"+cfg.CSEAE+"/"+room+"/"+desk+"/lamp"),
		Bootstrap:   getenvBool("EDGE_BOOTSTRAP", true),

		Room:       room,
		Desk:       desk,
		Device:     getenvDefault("EDGE_DEVICE", "simulator"),
		IngestURL:  getenvDefault("EDGE_INGEST_URL", "http://localhost:8080/notify"),
		Interval:   getenvDuration("EDGE_SAMPLE_INTERVAL", 10*time.Second),
		Heartbeat:  getenvDuration("EDGE_HEARTBEAT", 5*time.Minute),
		Seed:       int64(getenvIntDefault("EDGE_SEED", int(time.Now().UnixNano()%1_000_000))),
		MQTTTopic:  getenvDefault("EDGE_MQTT_TOPIC", "mood/"+room+"/"+desk+"/telemetry"),
		UseMQTT:    cfg.MQTTBroker != "" && getenvBool("EDGE_USE_MQTT", false),
		SignSecret: cfg.IngestSecret,
	}
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
