// internal/session/state.go
package session

// State is the session lifecycle.
//
//	Idle -> Calibrating -> Ready
//	Idle -> Calibrating -> CalibrationFailed -> Ready
type State int

const (
	StateIdle State = iota
	StateCalibrating
	StateCalibrationFailed
	StateReady
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCalibrating:
		return "calibrating"
	case StateCalibrationFailed:
		return "calibration_failed"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// CalibrationState tracks the shunt-code write for this process lifetime.
// It leaves Unapplied at most once.
type CalibrationState int

const (
	CalibrationUnapplied CalibrationState = iota
	CalibrationApplied
	CalibrationFailed
)

func (c CalibrationState) String() string {
	switch c {
	case CalibrationUnapplied:
		return "unapplied"
	case CalibrationApplied:
		return "applied"
	case CalibrationFailed:
		return "failed"
	default:
		return "unknown"
	}
}
