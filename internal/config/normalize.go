// internal/config/normalize.go
package config

import "strings"

// DeviceNameMaxChars is the longest device name carried into point tags.
const DeviceNameMaxChars = 16

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	for bi := range cfg.Buses {
		b := &cfg.Buses[bi]
		if b.Kind != BusKindSerial {
			continue
		}
		// parity already validated
		b.Parity = parities[strings.ToLower(b.Parity)]
	}

	for di := range cfg.Devices {
		d := &cfg.Devices[di]

		d.Shunt = strings.ToUpper(strings.TrimSpace(d.Shunt))

		// ASCII already validated
		if len(d.Name) > DeviceNameMaxChars {
			d.Name = d.Name[:DeviceNameMaxChars]
		}
		if d.Name == "" {
			d.Name = d.ID
		}
	}

	// No other normalization is performed here.
	// Transport defaults (baud, framing) belong to the transport.
}
