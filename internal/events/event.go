// internal/events/event.go
package events

import (
	"sync"
	"time"
)

// Kind names an observable event.
type Kind string

const (
	DeviceDegraded     Kind = "device_degraded"
	DeviceRecovered    Kind = "device_recovered"
	CalibrationApplied Kind = "calibration_applied"
	CalibrationFailed  Kind = "calibration_failed"
	BatchDropped       Kind = "batch_dropped"
	FlushSucceeded     Kind = "flush_succeeded"
	FlushFailed        Kind = "flush_failed"
	BufferOverflow     Kind = "buffer_overflow"
)

// Event carries device or batch context. At comes from time.Now and so
// holds a monotonic reading for ordering within the process.
type Event struct {
	Kind Kind
	At   time.Time

	// Device context (device events).
	Device  string
	Bus     string
	Address uint8

	// Batch context (ingest events).
	BatchID string
	Count   int
	Attempt int

	Err error
}

// Emitter receives events. Emit must not block the caller for long:
// it is called from the poll and flush paths.
type Emitter interface {
	Emit(e Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(e Event)

func (f EmitterFunc) Emit(e Event) { f(e) }

// Nop discards events.
type Nop struct{}

func (Nop) Emit(Event) {}

// Multi fans one event out to several emitters in order.
type Multi []Emitter

func (m Multi) Emit(e Event) {
	for _, em := range m {
		if em != nil {
			em.Emit(e)
		}
	}
}

// Recorder keeps every event. Safe for concurrent use; meant for tests and diagnostics.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many events of kind k were recorded.
func (r *Recorder) Count(k Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range r.events {
		if e.Kind == k {
			n++
		}
	}
	return n
}
