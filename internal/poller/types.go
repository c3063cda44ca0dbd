// internal/poller/types.go
package poller

import (
	"time"

	"github.com/tamzrod/pzem-poller/internal/pzem"
	"github.com/tamzrod/pzem-poller/internal/status"
)

// Device is one polled sensor. *session.Session implements it.
type Device interface {
	Tag() pzem.Tag
	ReadMeasurement() (pzem.Measurement, error)
}

// Sink receives every successful measurement. It must not block.
type Sink interface {
	Add(m pzem.Measurement)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(pzem.Measurement)

func (f SinkFunc) Add(m pzem.Measurement) { f(m) }

// Group is the devices sharing one transport.
// Devices in a group are polled sequentially; groups never wait on each other.
type Group struct {
	Bus     string
	Devices []Device
}

// Config is the minimal runtime config the poller needs.
type Config struct {
	Interval time.Duration

	// DegradedAfter is the consecutive failure count at which a device
	// is reported degraded.
	DegradedAfter int
}

// tracker is the failure bookkeeping of one device.
type tracker struct {
	snap     status.Snapshot
	degraded bool
}
