// internal/events/event_test.go
package events

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tamzrod/pzem-poller/internal/logging"
)

func TestMultiFansOut(t *testing.T) {
	var a, b Recorder
	calls := 0

	m := Multi{&a, nil, &b, EmitterFunc(func(Event) { calls++ })}
	m.Emit(Event{Kind: DeviceDegraded})
	m.Emit(Event{Kind: BatchDropped})

	assert.Len(t, a.Events(), 2)
	assert.Len(t, b.Events(), 2)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, a.Count(BatchDropped))
}

func TestLogEmitterLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewLog(logging.NewWithWriter(logging.Config{Level: "warn", Format: "text"}, "test", &buf))

	l.Emit(Event{Kind: FlushSucceeded, BatchID: "b1", Count: 3, At: time.Now()})
	assert.Zero(t, buf.Len(), "flush success is debug")

	l.Emit(Event{Kind: BatchDropped, BatchID: "b2", Count: 10, Attempt: 5, Err: errors.New("sink down")})
	out := buf.String()
	assert.Contains(t, out, "batch_dropped")
	assert.Contains(t, out, "batch=b2")
	assert.Contains(t, out, "sink down")
}
