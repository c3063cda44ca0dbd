// internal/ingest/buffer.go
package ingest

import (
	"errors"
	"sync"
	"time"

	"github.com/tamzrod/pzem-poller/internal/events"
	"github.com/tamzrod/pzem-poller/internal/pzem"
)

// Buffer is the pending batch shared by the poll path and the flush path.
// Both critical sections are O(1): an append or a slice swap.
type Buffer struct {
	threshold  int
	maxPending int
	emit       events.Emitter
	now        func() time.Time

	ready chan struct{}

	mu          sync.Mutex
	batch       []pzem.Measurement
	overflowing bool
	overflowed  int
}

// NewBuffer signals Ready once threshold measurements are pending and
// never holds more than maxPending.
func NewBuffer(threshold, maxPending int, emit events.Emitter) (*Buffer, error) {
	if threshold < 1 {
		return nil, errors.New("ingest: threshold must be >= 1")
	}
	if maxPending < threshold {
		return nil, errors.New("ingest: max pending must be >= threshold")
	}
	if emit == nil {
		emit = events.Nop{}
	}
	return &Buffer{
		threshold:  threshold,
		maxPending: maxPending,
		emit:       emit,
		now:        time.Now,
		ready:      make(chan struct{}, 1),
		batch:      make([]pzem.Measurement, 0, threshold),
	}, nil
}

// Add appends m. It never blocks on the sink.
// When full, the oldest pending measurement is discarded; one
// buffer_overflow event is emitted per overflow episode.
func (b *Buffer) Add(m pzem.Measurement) {
	b.mu.Lock()
	first := false
	if len(b.batch) >= b.maxPending {
		b.batch = b.batch[1:]
		b.overflowed++
		if !b.overflowing {
			b.overflowing = true
			first = true
		}
	}
	b.batch = append(b.batch, m)
	full := len(b.batch) >= b.threshold
	b.mu.Unlock()

	if first {
		b.emit.Emit(events.Event{
			Kind:   events.BufferOverflow,
			At:     b.now(),
			Device: m.Device.ID,
			Count:  b.maxPending,
		})
	}

	if full {
		select {
		case b.ready <- struct{}{}:
		default:
			// a flush is already signalled
		}
	}
}

// Ready fires when the threshold is reached. Signals coalesce.
func (b *Buffer) Ready() <-chan struct{} {
	return b.ready
}

// Len returns the number of pending measurements.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.batch)
}

// Overflowed returns how many measurements were discarded for space.
func (b *Buffer) Overflowed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overflowed
}

// swap takes the pending batch and leaves a fresh one in its place.
func (b *Buffer) swap() []pzem.Measurement {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.batch) == 0 {
		return nil
	}
	out := b.batch
	b.batch = make([]pzem.Measurement, 0, b.threshold)
	b.overflowing = false
	return out
}
