// internal/pzem/registers.go
package pzem

// PZEM-017 register map.
// These values are fixed by the device firmware and MUST NOT be configurable.

// ---- INPUT REGISTERS (FC 4) ----

// RegVoltage holds voltage in 0.01 V.
const RegVoltage = 0x0000

// RegCurrent holds current in 0.01 A.
const RegCurrent = 0x0001

// RegPowerLow / RegPowerHigh hold power in 0.1 W (low word first).
const RegPowerLow = 0x0002
const RegPowerHigh = 0x0003

// RegEnergyLow / RegEnergyHigh hold cumulative energy in 1 Wh (low word first).
const RegEnergyLow = 0x0004
const RegEnergyHigh = 0x0005

// RegHighVoltageAlarm / RegLowVoltageAlarm are 0xFFFF when raised, 0x0000 otherwise.
const RegHighVoltageAlarm = 0x0006
const RegLowVoltageAlarm = 0x0007

// MeasurementWords is the exact number of input registers in one reading.
const MeasurementWords = 8

// ---- HOLDING REGISTERS (FC 3 / FC 6) ----

// RegHighVoltageThreshold holds the high voltage alarm threshold in 0.01 V.
const RegHighVoltageThreshold = 0x0000

// RegLowVoltageThreshold holds the low voltage alarm threshold in 0.01 V.
const RegLowVoltageThreshold = 0x0001

// RegSlaveAddress holds the Modbus slave address.
const RegSlaveAddress = 0x0002

// RegShuntCode holds the current range (shunt) code.
const RegShuntCode = 0x0003

// ParamWords is the exact number of holding registers in one parameter block.
const ParamWords = 4

// ---- RAW COMMANDS ----

// FuncResetEnergy is the vendor function that zeroes the energy counter.
const FuncResetEnergy byte = 0x42

// ---- ALARM WORDS ----

const alarmOff uint16 = 0x0000
const alarmOn uint16 = 0xFFFF

// ---- LIMITS ----

// MinAddress and MaxAddress bound a unicast Modbus slave address.
const MinAddress = 1
const MaxAddress = 247

// MaxVoltage is the highest plausible reading (device range is 0.05-300 V).
const MaxVoltage = 350.0

// MaxCurrent is the highest plausible absolute current (300 A shunt plus headroom).
const MaxCurrent = 310.0

// Threshold bounds accepted by the device.
const (
	MinHighVoltageThreshold = 5.0
	MaxHighVoltageThreshold = 350.0
	MinLowVoltageThreshold  = 1.0
	MaxLowVoltageThreshold  = 350.0
)
