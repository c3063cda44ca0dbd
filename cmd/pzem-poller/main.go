// cmd/pzem-poller/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tamzrod/pzem-poller/internal/config"
	"github.com/tamzrod/pzem-poller/internal/events"
	"github.com/tamzrod/pzem-poller/internal/events/metrics"
	"github.com/tamzrod/pzem-poller/internal/events/mqtt"
	"github.com/tamzrod/pzem-poller/internal/ingest"
	"github.com/tamzrod/pzem-poller/internal/logging"
	"github.com/tamzrod/pzem-poller/internal/poller"
	"github.com/tamzrod/pzem-poller/internal/sink/influxdb"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	boot := logging.Default()

	if len(os.Args) < 2 {
		boot.Error().Msg("usage: pzem-poller <config.yaml>")
		os.Exit(2)
	}

	cfgPath := os.Args[1]

	// --------------------
	// Load + validate config
	// --------------------

	cfg, err := config.Load(cfgPath)
	if err != nil {
		boot.Error().Err(err).Msg("config load failed")
		os.Exit(1)
	}

	if err := config.Validate(cfg); err != nil {
		boot.Error().Err(err).Msg("config validation failed")
		os.Exit(1)
	}
	config.Normalize(cfg)

	logger := logging.New(cfg.Logging, version)
	logger.Info().
		Str("config", cfgPath).
		Int("buses", len(cfg.Buses)).
		Int("devices", len(cfg.Devices)).
		Msg("starting")

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("fatal")
		os.Exit(1)
	}
	logger.Info().Msg("stopped")
}

func run(cfg *config.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --------------------
	// Events
	// --------------------

	emit := events.Multi{events.NewLog(logger)}

	if cfg.MQTT.Enabled {
		pub, err := mqtt.Connect(mqtt.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         byte(cfg.MQTT.QoS),
		}, logger)
		if err != nil {
			// events are observability only; polling goes on without them
			logger.Warn().Err(err).Msg("mqtt unavailable, events are logged only")
		} else {
			defer pub.Close()
			emit = append(emit, pub)
		}
	}

	var exporter *metrics.Exporter
	if cfg.Metrics.Enabled {
		exporter = metrics.NewExporter()
		emit = append(emit, exporter)

		srv := metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path, exporter)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Str("listen", cfg.Metrics.Listen).Msg("metrics server failed")
			}
		}()
		defer srv.Shutdown(context.Background())
		logger.Info().Str("listen", cfg.Metrics.Listen).Str("path", cfg.Metrics.Path).Msg("metrics server listening")
	}

	// --------------------
	// Sink
	// --------------------

	influx, err := influxdb.New(influxdb.Config{
		URL:     cfg.InfluxDB.URL,
		Token:   cfg.InfluxDB.Token,
		Org:     cfg.InfluxDB.Org,
		Bucket:  cfg.InfluxDB.Bucket,
		Timeout: time.Duration(cfg.InfluxDB.TimeoutMs) * time.Millisecond,
	})
	if err != nil {
		return err
	}
	defer influx.Close()

	if err := influx.HealthCheck(ctx); err != nil {
		logger.Warn().Err(err).Msg("influxdb not reachable at startup, batches will retry")
	}

	buffer, err := ingest.NewBuffer(cfg.Ingest.FlushThreshold, cfg.Ingest.MaxPending, emit)
	if err != nil {
		return err
	}

	// --------------------
	// Buses, sessions, poller
	// --------------------

	p, sessions, closeBuses, err := poller.Build(cfg, nil, buffer, emit, logger)
	if err != nil {
		return err
	}
	defer closeBuses()

	for _, s := range sessions {
		s.Initialize()
	}

	writer, err := ingest.NewWriter(ingest.WriterConfig{
		FlushInterval:     time.Duration(cfg.Ingest.FlushIntervalMs) * time.Millisecond,
		FinalFlushTimeout: time.Duration(cfg.Ingest.FinalFlushTimeoutMs) * time.Millisecond,
		Retry: ingest.RetryPolicy{
			MaxAttempts:  cfg.Ingest.Retry.MaxAttempts,
			InitialDelay: time.Duration(cfg.Ingest.Retry.InitialDelayMs) * time.Millisecond,
			MaxDelay:     time.Duration(cfg.Ingest.Retry.MaxDelayMs) * time.Millisecond,
		},
		Measurement:       cfg.Poller.Measurement,
		StatusMeasurement: cfg.Poller.StatusMeasurement,
		Tags:              cfg.Tags,
	}, buffer, influx, emit, logger)
	if err != nil {
		return err
	}
	writer.SetStatusSource(p.Snapshots)
	if exporter != nil {
		exporter.SetStatusSource(p.Snapshots)
	}

	// --------------------
	// Run until signalled
	// --------------------

	// The writer outlives the poller so its final flush sees the last readings.
	writerCtx, stopWriter := context.WithCancel(context.Background())
	writerDone := make(chan error, 1)
	go func() { writerDone <- writer.Run(writerCtx) }()

	pollErr := p.Run(ctx)

	logger.Info().Int("pending", buffer.Len()).Int("overflowed", buffer.Overflowed()).Msg("shutdown: final flush")
	stopWriter()
	if err := <-writerDone; err != nil {
		return err
	}
	return pollErr
}
