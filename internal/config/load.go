// internal/config/load.go
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tamzrod/pzem-poller/internal/logging"
)

// Load reads path over the defaults and applies environment overrides.
// It does not validate: callers run Validate then Normalize.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// Default returns the configuration used for every key the file omits.
func Default() *Config {
	return &Config{
		Poller: PollerConfig{
			IntervalMs:        5000,
			DegradedAfter:     3,
			ApplyShuntOnStart: false,
			Measurement:       "pzem017",
			StatusMeasurement: "pzem017_status",
		},
		Ingest: IngestConfig{
			FlushIntervalMs:     30000,
			FlushThreshold:      100,
			MaxPending:          10000,
			FinalFlushTimeoutMs: 5000,
			Retry: RetryConfig{
				MaxAttempts:    5,
				InitialDelayMs: 500,
				MaxDelayMs:     30000,
			},
		},
		InfluxDB: InfluxDBConfig{
			TimeoutMs: 10000,
		},
		MQTT: MQTTConfig{
			ClientID:    "pzem-poller",
			TopicPrefix: "pzem",
			QoS:         1,
		},
		Metrics: MetricsConfig{
			Listen: ":9417",
			Path:   "/metrics",
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies PZEM_* environment variables.
func applyEnvOverrides(cfg *Config) {
	// InfluxDB
	if v := os.Getenv("PZEM_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if cfg.InfluxDB.TokenEnv != "" {
		if v := os.Getenv(cfg.InfluxDB.TokenEnv); v != "" {
			cfg.InfluxDB.Token = v
		}
	}
	if v := os.Getenv("PZEM_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("PZEM_INFLUXDB_ORG"); v != "" {
		cfg.InfluxDB.Org = v
	}
	if v := os.Getenv("PZEM_INFLUXDB_BUCKET"); v != "" {
		cfg.InfluxDB.Bucket = v
	}

	// MQTT
	if v := os.Getenv("PZEM_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}

	// Metrics
	if v := os.Getenv("PZEM_METRICS_LISTEN"); v != "" {
		cfg.Metrics.Listen = v
	}

	// Logging
	if v := os.Getenv("PZEM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
