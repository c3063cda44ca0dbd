// internal/events/log.go
package events

import (
	"github.com/rs/zerolog"

	"github.com/tamzrod/pzem-poller/internal/logging"
)

// Log writes events to a structured logger.
type Log struct {
	log *logging.Logger
}

func NewLog(l *logging.Logger) *Log {
	return &Log{log: l.With("component", "events")}
}

func (l *Log) Emit(e Event) {
	ev := l.log.WithLevel(levelFor(e.Kind)).Str("event", string(e.Kind))
	if e.Device != "" {
		ev = ev.Str("device", e.Device).Str("bus", e.Bus).Uint8("address", e.Address)
	}
	if e.BatchID != "" {
		ev = ev.Str("batch", e.BatchID).Int("count", e.Count)
	}
	if e.Attempt > 0 {
		ev = ev.Int("attempt", e.Attempt)
	}
	if e.Err != nil {
		ev = ev.Err(e.Err)
	}
	ev.Msg(string(e.Kind))
}

func levelFor(k Kind) zerolog.Level {
	switch k {
	case BatchDropped:
		return zerolog.ErrorLevel
	case DeviceDegraded, CalibrationFailed, FlushFailed, BufferOverflow:
		return zerolog.WarnLevel
	case FlushSucceeded:
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}
