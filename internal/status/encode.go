// internal/status/encode.go
package status

import "time"

// Encode flattens a Snapshot into point fields.
// No IO. No side effects.
func Encode(s Snapshot, now time.Time) map[string]any {
	f := map[string]any{
		"health":               int64(s.Health),
		"health_name":          s.Health.String(),
		"consecutive_failures": int64(s.ConsecutiveFailures),
		"seconds_in_state":     int64(s.SecondsInState(now)),
	}
	if s.LastError != "" {
		f["last_error"] = s.LastError
	}
	return f
}
