package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"workspace-mood-monitor/internal/edge/actuator"
	"workspace-mood-monitor/internal/edge/sensor"
	"workspace-mood-monitor/internal/onem2m"
	telemetrymqtt "workspace-mood-monitor/internal/telemetry/interfaces/mqtt"
)

func newEdgeCommand(logger *log.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edge",
		Short: "Run the desk lamp notification endpoint and renderer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			return runEdge(cmd.Context(), cfg, loadEdgeConfig(cfg), logger)
		},
	}
	cmd.AddCommand(newSimulateCommand(logger))
	return cmd
}

func runEdge(ctx context.Context, cfg config, edge edgeConfig, logger *log.Logger) error {
	state := actuator.NewState()
	notify, err := actuator.NewNotifyHandler(state, logger)
	if err != nil {
		return err
	}
	renderer, err := actuator.NewRenderer(state, actuator.NewTerminalPixel(os.Stdout), actuator.DefaultRenderInterval, logger)
	if err != nil {
		return err
	}
	go renderer.Run(ctx)

	server := &http.Server{
		Addr:              edge.NotifyAddr,
		Handler:           actuator.NewRouter(notify, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if edge.Bootstrap && cfg.CSEBase != "" && edge.CallbackURL != "" {
		client, err := onem2m.NewClient(onem2m.Config{
			BaseURL:  cfg.CSEBase,
			Origin:   cfg.CSEOrigin,
			RVI:      cfg.CSERVI,
			Username: cfg.CSEUser,
			Password: cfg.CSEPass,
		})
		if err != nil {
			return err
		}
		go func() {
			// the notification endpoint must be reachable before the CSE verifies it
			time.Sleep(500 * time.Millisecond)
			if err := actuator.Bootstrap(ctx, client, edge.LampPath, edge.CallbackURL, logger); err != nil {
				logger.Printf("edge: bootstrap: %v", err)
			}
		}()
	}

	logger.Printf("edge: notification endpoint listening on %s", edge.NotifyAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newSimulateCommand(logger *log.Logger) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Report simulated desk sensor readings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			edge := loadEdgeConfig(cfg)
			sink, closeSink, err := buildSink(cfg, edge)
			if err != nil {
				return err
			}
			defer closeSink()

			reporter, err := sensor.NewReporter(sensor.NewRandomWalk(edge.Seed), sink, sensor.Config{
				Room:      edge.Room,
				Desk:      edge.Desk,
				Device:    edge.Device,
				Interval:  edge.Interval,
				Heartbeat: edge.Heartbeat,
			}, logger)
			if err != nil {
				return err
			}
			if once {
				_, err := reporter.Tick(cmd.Context())
				return err
			}
			logger.Printf("edge: simulating %s/%s every %s", edge.Room, edge.Desk, edge.Interval)
			reporter.Run(cmd.Context())
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "send a single reading and exit")
	return cmd
}

func buildSink(cfg config, edge edgeConfig) (sensor.Sink, func(), error) {
	if !edge.UseMQTT {
		var secret []byte
		if edge.SignSecret != "" {
			secret = []byte(edge.SignSecret)
		}
		sink, err := sensor.NewHTTPSink(edge.IngestURL, secret)
		return sink, func() {}, err
	}
	client, err := telemetrymqtt.NewClient(telemetrymqtt.Config{
		Broker:   cfg.MQTTBroker,
		ClientID: fmt.Sprintf("mood-sensor-%s-%s", edge.Room, edge.Desk),
		Username: cfg.MQTTUsername,
		Password: cfg.MQTTPassword,
	})
	if err != nil {
		return nil, nil, err
	}
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	sink, err := sensor.NewMQTTSink(client, edge.MQTTTopic, byte(cfg.MQTTQoS))
	if err != nil {
		client.Disconnect(250)
		return nil, nil, err
	}
	return sink, func() { client.Disconnect(250) }, nil
}
