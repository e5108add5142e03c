package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	apihttp "workspace-mood-monitor/internal/api/http"
	"workspace-mood-monitor/internal/auth"
	moodhttp "workspace-mood-monitor/internal/mood/interfaces/http"
	"workspace-mood-monitor/internal/observability/metrics"
	telemetryhttp "workspace-mood-monitor/internal/telemetry/interfaces/http"
	telemetrymqtt "workspace-mood-monitor/internal/telemetry/interfaces/mqtt"
)

func newServeCommand(logger *log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ingest API, queue worker and mood pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), loadConfig(), logger)
		},
	}
}

func newWorkerCommand(logger *log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run only the queue worker and mood pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			if cfg.StorageDriver == "memory" {
				return errors.New("worker needs shared storage; use serve with the memory driver")
			}
			store, err := openStorage(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()
			metrics.Init(store.db, logger)

			p, err := buildPipeline(cfg, store, logger)
			if err != nil {
				return err
			}
			logger.Printf("worker: started with %d loops", cfg.WorkerConcurrency)
			p.Run(cmd.Context())
			return nil
		},
	}
}

func runServe(ctx context.Context, cfg config, logger *log.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	metrics.Init(store.db, logger)

	p, err := buildPipeline(cfg, store, logger)
	if err != nil {
		return err
	}
	handler, err := buildRouter(cfg, store, logger)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.Run(ctx)
	}()

	if cfg.MQTTBroker != "" {
		mqttCfg := telemetrymqtt.Config{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Topic:    cfg.MQTTTopic,
			QoS:      byte(cfg.MQTTQoS),
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
		}
		client, err := telemetrymqtt.NewClient(mqttCfg)
		if err != nil {
			return err
		}
		subscriber, err := telemetrymqtt.NewSubscriber(client, mqttCfg, store.queue, logger)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := subscriber.Run(ctx); err != nil {
				logger.Printf("mqtt ingress: %v", err)
			}
		}()
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(handler, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Printf("http server listening on %s (storage=%s)", cfg.HTTPAddr, cfg.StorageDriver)
	err = server.ListenAndServe()
	cancel()
	wg.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func buildRouter(cfg config, store *storage, logger *log.Logger) (http.Handler, error) {
	router := mux.NewRouter()

	notify, err := telemetryhttp.NewNotifyHandler(store.queue, logger)
	if err != nil {
		return nil, err
	}
	var ingest http.Handler = notify
	if cfg.IngestSecret != "" {
		ingest = auth.NewIngestAuthMiddleware([]byte(cfg.IngestSecret), time.Duration(cfg.IngestSkewSeconds)*time.Second).Wrap(notify)
	}
	router.Handle("/notify", ingest)
	router.Handle("/onem2m", ingest)

	moodHandler, err := moodhttp.NewHandler(store.moods, cfg.LatestMoodWindow, logger)
	if err != nil {
		return nil, err
	}
	moodMux := http.NewServeMux()
	moodHandler.Register(moodMux)
	router.Handle("/latest-mood", moodMux)
	router.Handle("/api/v1/moods", moodMux)
	router.Handle("/api/v1/exports/moods.pdf", moodMux)
	router.Handle("/api/v1/exports/moods.xlsx", moodMux)

	router.Handle("/api/v1/exports/telemetry.csv", apihttp.NewExportTelemetryCSVHandler(store.telemetry))
	deadLetters := apihttp.NewDeadLetterHandler(store.queue, logger)
	if store.audit != nil {
		deadLetters.WithAudit(store.audit)
	}
	deadLetters.Register(router)

	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if store.db != nil {
			if err := store.db.PingContext(r.Context()); err != nil {
				http.Error(w, "db unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if cfg.JWTSecret == "" {
		logger.Printf("auth: JWT_SECRET not set, /api/ is unauthenticated")
		return router, nil
	}
	policy := auth.NewDefaultPolicy(nil, nil)
	return auth.NewMiddleware([]byte(cfg.JWTSecret), policy).Wrap(router), nil
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
