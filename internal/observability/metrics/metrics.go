package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "moodmon_"

	resultSuccess = "success"
	resultError   = "error"

	jobOutcomeAcked        = "acked"
	jobOutcomeRequeued     = "requeued"
	jobOutcomeDeadLettered = "dead_lettered"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	consumerLag *prometheus.GaugeVec

	queueJobsTotal   *prometheus.CounterVec
	queueJobLatency  *prometheus.HistogramVec
	queueLeaseErrors prometheus.Counter

	moodScoresTotal *prometheus.CounterVec
	moodLatestScore *prometheus.GaugeVec
	moodConfidence  prometheus.Histogram
	modelFallbacks  *prometheus.CounterVec

	feedbackDispatchTotal   *prometheus.CounterVec
	feedbackDispatchLatency *prometheus.HistogramVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec

	edgeNotifications *prometheus.CounterVec
)

// Init registers pipeline metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total ingest requests by result",
			},
			[]string{"result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total ingest errors by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		consumerLag = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "event_consumer_lag_seconds",
				Help: "Consumer processing lag in seconds",
			},
			[]string{"consumer"},
		)

		queueJobsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "queue_jobs_total",
				Help: "Total processed queue entries by outcome",
			},
			[]string{"outcome"},
		)
		queueJobLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "queue_job_latency_seconds",
				Help:    "Queue entry processing latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		)
		queueLeaseErrors = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "queue_lease_errors_total",
				Help: "Total failed lease attempts",
			},
		)

		moodScoresTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "mood_scores_total",
				Help: "Total mood scores by label",
			},
			[]string{"label"},
		)
		moodLatestScore = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "mood_latest_score",
				Help: "Most recent mood score per desk",
			},
			[]string{"room", "desk"},
		)
		moodConfidence = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "mood_confidence",
				Help:    "Mood score confidence",
				Buckets: []float64{0.25, 0.5, 0.75, 0.9, 1},
			},
		)

		modelFallbacks = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "mood_model_fallbacks_total",
				Help: "Total heuristic fallbacks after model failures by stage",
			},
			[]string{"stage"},
		)

		feedbackDispatchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "feedback_dispatch_total",
				Help: "Total lamp feedback dispatches by result",
			},
			[]string{"result"},
		)
		feedbackDispatchLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "feedback_dispatch_latency_seconds",
				Help:    "Lamp feedback dispatch latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "export_total",
				Help: "Total export operations by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "export_latency_seconds",
				Help:    "Export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		edgeNotifications = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "edge_notifications_total",
				Help: "Total edge notifications by kind",
			},
			[]string{"kind"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			consumerLag,
			queueJobsTotal,
			queueJobLatency,
			queueLeaseErrors,
			moodScoresTotal,
			moodLatestScore,
			moodConfidence,
			modelFallbacks,
			feedbackDispatchTotal,
			feedbackDispatchLatency,
			exportTotal,
			exportLatency,
			edgeNotifications,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records ingest request duration and result.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncIngestError increments ingest error counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// ObserveConsumerLag sets consumer lag in seconds.
func ObserveConsumerLag(consumer string, lag time.Duration) {
	if consumer == "" {
		consumer = "unknown"
	}
	if lag < 0 {
		lag = 0
	}
	if consumerLag != nil {
		consumerLag.WithLabelValues(consumer).Set(lag.Seconds())
	}
}

// ObserveQueueJob records one processed queue entry.
func ObserveQueueJob(outcome string, duration time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	if queueJobsTotal != nil {
		queueJobsTotal.WithLabelValues(outcome).Inc()
	}
	if queueJobLatency != nil {
		queueJobLatency.WithLabelValues(outcome).Observe(duration.Seconds())
	}
}

// IncQueueLeaseError increments the lease failure counter.
func IncQueueLeaseError() {
	if queueLeaseErrors != nil {
		queueLeaseErrors.Inc()
	}
}

// ObserveMoodScore records a computed mood.
func ObserveMoodScore(room, desk, label string, score int, confidence float64) {
	if label == "" {
		label = "unknown"
	}
	if moodScoresTotal != nil {
		moodScoresTotal.WithLabelValues(label).Inc()
	}
	if moodLatestScore != nil {
		moodLatestScore.WithLabelValues(room, desk).Set(float64(score))
	}
	if moodConfidence != nil {
		moodConfidence.Observe(confidence)
	}
}

// IncModelFallback counts scoring runs that fell back to the heuristic.
func IncModelFallback(stage string) {
	if stage == "" {
		stage = "unknown"
	}
	if modelFallbacks != nil {
		modelFallbacks.WithLabelValues(stage).Inc()
	}
}

// ObserveFeedbackDispatch records lamp dispatch latency and result.
func ObserveFeedbackDispatch(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if feedbackDispatchTotal != nil {
		feedbackDispatchTotal.WithLabelValues(result).Inc()
	}
	if feedbackDispatchLatency != nil {
		feedbackDispatchLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// IncEdgeNotification counts notifications received by an edge actuator.
func IncEdgeNotification(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	if edgeNotifications != nil {
		edgeNotifications.WithLabelValues(kind).Inc()
	}
}

// Exported constants for callers.
const (
	IngestResultSuccess = resultSuccess
	IngestResultError   = resultError

	ResultSuccess = resultSuccess
	ResultError   = resultError
	ResultDropped = "dropped"

	JobOutcomeAcked        = jobOutcomeAcked
	JobOutcomeRequeued     = jobOutcomeRequeued
	JobOutcomeDeadLettered = jobOutcomeDeadLettered
)
