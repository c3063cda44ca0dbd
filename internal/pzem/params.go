// internal/pzem/params.go
package pzem

import (
	"fmt"
	"math"
)

// Params is the holding register block of a device.
type Params struct {
	HighVoltageThreshold float64 // V
	LowVoltageThreshold  float64 // V
	Address              uint8
	Shunt                ShuntCode
}

// DecodeParams decodes the 4 holding registers starting at RegHighVoltageThreshold.
func DecodeParams(words []uint16) (Params, error) {
	if len(words) != ParamWords {
		return Params{}, &DecodeError{
			Kind:   KindWordCount,
			Detail: fmt.Sprintf("params: got %d words, want %d", len(words), ParamWords),
		}
	}

	addr := words[RegSlaveAddress]
	if addr < MinAddress || addr > MaxAddress {
		return Params{}, malformed("slave address %d out of range", addr)
	}

	shunt, err := DecodeShuntCode(words[RegShuntCode : RegShuntCode+1])
	if err != nil {
		return Params{}, err
	}

	return Params{
		HighVoltageThreshold: float64(words[RegHighVoltageThreshold]) / 100,
		LowVoltageThreshold:  float64(words[RegLowVoltageThreshold]) / 100,
		Address:              uint8(addr),
		Shunt:                shunt,
	}, nil
}

// EncodeHighVoltageThreshold converts volts to the RegHighVoltageThreshold word.
func EncodeHighVoltageThreshold(volts float64) (uint16, error) {
	if volts < MinHighVoltageThreshold || volts > MaxHighVoltageThreshold {
		return 0, fmt.Errorf("pzem: high voltage threshold %.2f V outside %.0f-%.0f V",
			volts, MinHighVoltageThreshold, MaxHighVoltageThreshold)
	}
	return uint16(math.Round(volts * 100)), nil
}

// EncodeLowVoltageThreshold converts volts to the RegLowVoltageThreshold word.
func EncodeLowVoltageThreshold(volts float64) (uint16, error) {
	if volts < MinLowVoltageThreshold || volts > MaxLowVoltageThreshold {
		return 0, fmt.Errorf("pzem: low voltage threshold %.2f V outside %.0f-%.0f V",
			volts, MinLowVoltageThreshold, MaxLowVoltageThreshold)
	}
	return uint16(math.Round(volts * 100)), nil
}

// ValidAddress reports whether addr is a unicast slave address.
func ValidAddress(addr int) bool {
	return addr >= MinAddress && addr <= MaxAddress
}
