// internal/ingest/points.go
package ingest

import (
	"strconv"
	"time"

	"github.com/tamzrod/pzem-poller/internal/pzem"
	"github.com/tamzrod/pzem-poller/internal/sink"
	"github.com/tamzrod/pzem-poller/internal/status"
)

// MeasurementPoint converts a reading. Device tags override global tags.
func MeasurementPoint(name string, global map[string]string, m pzem.Measurement) sink.Point {
	return sink.Point{
		Measurement: name,
		Tags:        deviceTags(global, m.Device.ID, m.Device.Bus, m.Device.Address, m.Device.Name, m.Device.Location),
		Fields: map[string]any{
			"voltage":            m.Voltage,
			"current":            m.Current,
			"power":              m.Power,
			"energy_wh":          m.EnergyWh,
			"high_voltage_alarm": m.HighVoltageAlarm,
			"low_voltage_alarm":  m.LowVoltageAlarm,
		},
		Time: m.At,
	}
}

// StatusPoint converts a device health snapshot.
func StatusPoint(name string, global map[string]string, s status.Snapshot, now time.Time) sink.Point {
	return sink.Point{
		Measurement: name,
		Tags:        deviceTags(global, s.Device, s.Bus, s.Address, "", ""),
		Fields:      status.Encode(s, now),
		Time:        now,
	}
}

func deviceTags(global map[string]string, id, bus string, addr uint8, label, location string) map[string]string {
	tags := make(map[string]string, len(global)+5)
	for k, v := range global {
		tags[k] = v
	}
	tags["device"] = id
	tags["bus"] = bus
	tags["address"] = strconv.Itoa(int(addr))
	if label != "" {
		tags["label"] = label
	}
	if location != "" {
		tags["location"] = location
	}
	return tags
}
