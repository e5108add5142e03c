package metrics

import (
	"database/sql"
	"log"

	"github.com/prometheus/client_golang/prometheus"
)

func registerDBMetrics(db *sql.DB, logger *log.Logger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "queue_depth",
			Help: "Queued ingest entries awaiting a worker",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM ingest_queue WHERE status = 'queued'")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "queue_processing",
			Help: "Ingest entries currently leased",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM ingest_queue WHERE status = 'processing'")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "dead_letter_count",
			Help: "Dead-lettered ingest entries",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM ingest_dead_letter")
		},
	))
}

func queryCount(db *sql.DB, logger *log.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		if logger != nil {
			logger.Printf("metrics query failed: %v", err)
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
