// internal/status/snapshot.go
package status

import "time"

// Snapshot is the health of one device at a point in time.
// It carries no memory of the past beyond the current streak.
type Snapshot struct {
	Device              string
	Bus                 string
	Address             uint8
	Health              Health
	ConsecutiveFailures int
	LastError           string
	LastSuccess         time.Time

	// Since is when the device entered its current health.
	Since time.Time
}

// SecondsInState returns how long the device has held its health, clamped
// to the uint16 range for compact reporting.
func (s Snapshot) SecondsInState(now time.Time) uint16 {
	if s.Since.IsZero() || now.Before(s.Since) {
		return 0
	}
	d := now.Sub(s.Since) / time.Second
	if d > 0xFFFF {
		return 0xFFFF
	}
	return uint16(d)
}
