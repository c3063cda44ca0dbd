// internal/config/config.go
package config

import (
	"time"

	"github.com/tamzrod/pzem-poller/internal/logging"
)

type Config struct {
	Poller   PollerConfig      `yaml:"poller"`
	Buses    []BusConfig       `yaml:"buses"`
	Devices  []DeviceConfig    `yaml:"devices"`
	Ingest   IngestConfig      `yaml:"ingest"`
	InfluxDB InfluxDBConfig    `yaml:"influxdb"`
	MQTT     MQTTConfig        `yaml:"mqtt"`
	Metrics  MetricsConfig     `yaml:"metrics"`
	Logging  logging.Config    `yaml:"logging"`
	Tags     map[string]string `yaml:"tags"` // applied to every point
}

// ---- POLLER ----

type PollerConfig struct {
	IntervalMs        int  `yaml:"interval_ms"`
	DegradedAfter     int  `yaml:"degraded_after"`
	ApplyShuntOnStart bool `yaml:"apply_shunt_on_start"`

	// Measurement is the point name of readings.
	Measurement string `yaml:"measurement"`

	// StatusMeasurement is the point name of device health; empty disables it.
	StatusMeasurement string `yaml:"status_measurement"`
}

func (p PollerConfig) Interval() time.Duration {
	return time.Duration(p.IntervalMs) * time.Millisecond
}

// ---- BUS ----

const (
	BusKindSerial = "serial"
	BusKindTCP    = "tcp"
)

type BusConfig struct {
	ID   string `yaml:"id"`
	Kind string `yaml:"kind"` // serial | tcp

	// serial
	Port     string   `yaml:"port"`
	Ports    []string `yaml:"ports"` // candidates, first usable wins
	BaudRate int      `yaml:"baud_rate"`
	DataBits int      `yaml:"data_bits"`
	StopBits int      `yaml:"stop_bits"`
	Parity   string   `yaml:"parity"`

	// tcp (Modbus TCP to RTU gateway)
	Endpoint string `yaml:"endpoint"`

	TimeoutMs int `yaml:"timeout_ms"`
}

// ---- DEVICE ----

type DeviceConfig struct {
	ID       string `yaml:"id"`
	Bus      string `yaml:"bus"`
	Address  int    `yaml:"address"`
	Shunt    string `yaml:"shunt"` // rating, e.g. "100A" or "100A/75mV"
	Name     string `yaml:"name"`
	Location string `yaml:"location"`
}

// ---- INGEST ----

type IngestConfig struct {
	FlushIntervalMs     int         `yaml:"flush_interval_ms"`
	FlushThreshold      int         `yaml:"flush_threshold"`
	MaxPending          int         `yaml:"max_pending"`
	FinalFlushTimeoutMs int         `yaml:"final_flush_timeout_ms"`
	Retry               RetryConfig `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts    int `yaml:"max_attempts"`
	InitialDelayMs int `yaml:"initial_delay_ms"`
	MaxDelayMs     int `yaml:"max_delay_ms"`
}

// ---- SINKS ----

type InfluxDBConfig struct {
	URL       string `yaml:"url"`
	Token     string `yaml:"token"`
	TokenEnv  string `yaml:"token_env"` // env var holding the token
	Org       string `yaml:"org"`
	Bucket    string `yaml:"bucket"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// MetricsConfig exposes Prometheus metrics over HTTP.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
}
