// internal/config/validate.go
package config

import (
	"fmt"
	"strings"

	"github.com/tamzrod/pzem-poller/internal/pzem"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if err := validatePoller(cfg.Poller); err != nil {
		return err
	}
	if err := ValidateDevices(cfg); err != nil {
		return err
	}
	if err := validateIngest(cfg.Ingest); err != nil {
		return err
	}

	// ------------------------------------------------------------
	// SINKS
	// ------------------------------------------------------------

	if cfg.InfluxDB.URL == "" {
		return fmt.Errorf("influxdb.url is required")
	}
	if cfg.InfluxDB.Org == "" || cfg.InfluxDB.Bucket == "" {
		return fmt.Errorf("influxdb.org and influxdb.bucket are required")
	}
	if cfg.InfluxDB.TimeoutMs <= 0 {
		return fmt.Errorf("influxdb.timeout_ms must be > 0")
	}

	if cfg.MQTT.Enabled {
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
		}
		if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen is required when metrics are enabled")
	}

	return nil
}

// ValidateDevices checks only the bus and device sections.
// Tools that talk to the hardware without the daemon's sinks use it.
func ValidateDevices(cfg *Config) error {
	// ------------------------------------------------------------
	// BUSES
	// ------------------------------------------------------------

	if len(cfg.Buses) == 0 {
		return fmt.Errorf("at least one bus is required")
	}

	buses := make(map[string]bool, len(cfg.Buses))
	for _, b := range cfg.Buses {
		if b.ID == "" {
			return fmt.Errorf("bus id is required")
		}
		if buses[b.ID] {
			return fmt.Errorf("bus %q: duplicate id", b.ID)
		}
		buses[b.ID] = true

		if err := validateBus(b); err != nil {
			return err
		}
	}

	// ------------------------------------------------------------
	// DEVICES
	// ------------------------------------------------------------

	if len(cfg.Devices) == 0 {
		return fmt.Errorf("at least one device is required")
	}

	ids := make(map[string]bool, len(cfg.Devices))

	// key = slave address; unique across every bus
	addrOwner := make(map[int]string, len(cfg.Devices))

	for _, d := range cfg.Devices {
		if d.ID == "" {
			return fmt.Errorf("device id is required")
		}
		if ids[d.ID] {
			return fmt.Errorf("device %q: duplicate id", d.ID)
		}
		ids[d.ID] = true

		if !buses[d.Bus] {
			return fmt.Errorf("device %q: unknown bus %q", d.ID, d.Bus)
		}

		if !pzem.ValidAddress(d.Address) {
			return fmt.Errorf(
				"device %q: address %d outside %d-%d",
				d.ID,
				d.Address,
				pzem.MinAddress,
				pzem.MaxAddress,
			)
		}
		if prev, exists := addrOwner[d.Address]; exists {
			return fmt.Errorf(
				"address collision: address=%d used by devices %q and %q",
				d.Address,
				prev,
				d.ID,
			)
		}
		addrOwner[d.Address] = d.ID

		if _, err := pzem.ParseShuntRating(d.Shunt); err != nil {
			return fmt.Errorf("device %q: %w", d.ID, err)
		}

		// name sanity (ASCII only)
		for i := 0; i < len(d.Name); i++ {
			if d.Name[i] > 0x7F {
				return fmt.Errorf("device %q: name must contain ASCII characters only", d.ID)
			}
		}
	}

	return nil
}

func validatePoller(p PollerConfig) error {
	if p.IntervalMs <= 0 {
		return fmt.Errorf("poller.interval_ms must be > 0")
	}
	if p.DegradedAfter < 1 {
		return fmt.Errorf("poller.degraded_after must be >= 1")
	}
	if p.Measurement == "" {
		return fmt.Errorf("poller.measurement is required")
	}
	return nil
}

func validateBus(b BusConfig) error {
	if b.TimeoutMs <= 0 {
		return fmt.Errorf("bus %q: timeout_ms must be > 0", b.ID)
	}

	switch b.Kind {
	case BusKindSerial:
		if b.Port == "" && len(b.Ports) == 0 {
			return fmt.Errorf("bus %q: serial bus needs port or ports", b.ID)
		}
		if b.BaudRate < 0 || b.DataBits < 0 || b.StopBits < 0 {
			return fmt.Errorf("bus %q: line settings must not be negative", b.ID)
		}
		if b.StopBits > 2 {
			return fmt.Errorf("bus %q: stop_bits must be 1 or 2", b.ID)
		}
		if _, ok := parities[strings.ToLower(b.Parity)]; !ok {
			return fmt.Errorf("bus %q: unknown parity %q", b.ID, b.Parity)
		}
	case BusKindTCP:
		if b.Endpoint == "" {
			return fmt.Errorf("bus %q: tcp bus needs endpoint", b.ID)
		}
	default:
		return fmt.Errorf("bus %q: kind must be %q or %q", b.ID, BusKindSerial, BusKindTCP)
	}
	return nil
}

func validateIngest(in IngestConfig) error {
	if in.FlushIntervalMs <= 0 {
		return fmt.Errorf("ingest.flush_interval_ms must be > 0")
	}
	if in.FlushThreshold < 1 {
		return fmt.Errorf("ingest.flush_threshold must be >= 1")
	}
	if in.MaxPending < in.FlushThreshold {
		return fmt.Errorf(
			"ingest.max_pending (%d) must be >= flush_threshold (%d)",
			in.MaxPending,
			in.FlushThreshold,
		)
	}
	if in.FinalFlushTimeoutMs <= 0 {
		return fmt.Errorf("ingest.final_flush_timeout_ms must be > 0")
	}
	if in.Retry.MaxAttempts < 1 {
		return fmt.Errorf("ingest.retry.max_attempts must be >= 1")
	}
	if in.Retry.InitialDelayMs <= 0 || in.Retry.MaxDelayMs <= 0 {
		return fmt.Errorf("ingest.retry delays must be > 0")
	}
	if in.Retry.MaxDelayMs < in.Retry.InitialDelayMs {
		return fmt.Errorf("ingest.retry.max_delay_ms must be >= initial_delay_ms")
	}
	return nil
}

// parities maps accepted spellings to the serial line letter.
var parities = map[string]string{
	"":     "N",
	"n":    "N",
	"none": "N",
	"e":    "E",
	"even": "E",
	"o":    "O",
	"odd":  "O",
}
