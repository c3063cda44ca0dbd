// internal/pzem/measurement.go
package pzem

import (
	"fmt"
	"math"
	"time"
)

// Tag identifies the device a measurement came from.
type Tag struct {
	ID       string
	Bus      string
	Address  uint8
	Name     string
	Location string
}

// Measurement is one decoded reading. It is a value: copy it, never mutate it.
type Measurement struct {
	Device Tag
	At     time.Time

	Voltage  float64 // V, never negative
	Current  float64 // A, negative when flow is reversed
	Power    float64 // W
	EnergyWh float64 // cumulative Wh

	HighVoltageAlarm bool
	LowVoltageAlarm  bool
}

// Stamp returns a copy of m attributed to dev at the capture instant at.
func (m Measurement) Stamp(dev Tag, at time.Time) Measurement {
	m.Device = dev
	m.At = at
	return m
}

// DecodeMeasurement decodes the 8 input registers of one reading.
// Pure: the result carries no device tag and no timestamp.
func DecodeMeasurement(words []uint16) (Measurement, error) {
	if len(words) != MeasurementWords {
		return Measurement{}, &DecodeError{
			Kind:   KindWordCount,
			Detail: fmt.Sprintf("measurement: got %d words, want %d", len(words), MeasurementWords),
		}
	}

	hv, err := decodeAlarm(words[RegHighVoltageAlarm])
	if err != nil {
		return Measurement{}, malformed("high voltage alarm word 0x%04x", words[RegHighVoltageAlarm])
	}
	lv, err := decodeAlarm(words[RegLowVoltageAlarm])
	if err != nil {
		return Measurement{}, malformed("low voltage alarm word 0x%04x", words[RegLowVoltageAlarm])
	}

	m := Measurement{
		Voltage:          float64(words[RegVoltage]) / 100,
		Current:          float64(int16(words[RegCurrent])) / 100,
		Power:            float64(int32(joinWords(words[RegPowerLow], words[RegPowerHigh]))) / 10,
		EnergyWh:         float64(joinWords(words[RegEnergyLow], words[RegEnergyHigh])),
		HighVoltageAlarm: hv,
		LowVoltageAlarm:  lv,
	}

	if m.Voltage > MaxVoltage {
		return Measurement{}, malformed("voltage %.2f V above %.0f V", m.Voltage, MaxVoltage)
	}
	if math.Abs(m.Current) > MaxCurrent {
		return Measurement{}, malformed("current %.2f A beyond ±%.0f A", m.Current, MaxCurrent)
	}
	// Power is V*I; allow 10% slack for rounding and sampling skew.
	if limit := MaxVoltage * MaxCurrent * 1.1; math.Abs(m.Power) > limit {
		return Measurement{}, malformed("power %.1f W beyond ±%.0f W", m.Power, limit)
	}

	return m, nil
}

// joinWords combines a low/high register pair into one 32-bit value.
func joinWords(lo, hi uint16) uint32 {
	return uint32(hi)<<16 | uint32(lo)
}

func decodeAlarm(w uint16) (bool, error) {
	switch w {
	case alarmOff:
		return false, nil
	case alarmOn:
		return true, nil
	default:
		return false, fmt.Errorf("alarm word 0x%04x", w)
	}
}
