// internal/status/health.go
package status

// Health is the coarse state of one device as seen by the poller.
type Health uint16

// ---- HEALTH CODES ----

const (
	// HealthUnknown is the boot state before the first poll.
	HealthUnknown Health = 0

	// HealthOK means the last poll succeeded.
	HealthOK Health = 1

	// HealthError means the last poll failed but the failure streak
	// is below the degraded threshold.
	HealthError Health = 2

	// HealthDegraded means the streak reached the degraded threshold.
	HealthDegraded Health = 3
)

func (h Health) String() string {
	switch h {
	case HealthOK:
		return "ok"
	case HealthError:
		return "error"
	case HealthDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}
