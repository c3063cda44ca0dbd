// internal/sink/sink.go
package sink

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Point is one time-series record.
type Point struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]any
	Time        time.Time
}

// Writer delivers a batch in one bulk write. A batch either lands or the
// call returns an error; implementations never retry.
type Writer interface {
	Write(ctx context.Context, points []Point) error
}

// WriterFunc adapts a function to Writer.
type WriterFunc func(ctx context.Context, points []Point) error

func (f WriterFunc) Write(ctx context.Context, points []Point) error { return f(ctx, points) }

// Kind classifies a sink failure.
type Kind int

const (
	// KindConnection: the store was not reached.
	KindConnection Kind = iota + 1
	// KindAuth: the store refused the credentials.
	KindAuth
	// KindWrite: the store was reached but rejected the batch.
	KindWrite
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindAuth:
		return "auth"
	case KindWrite:
		return "write"
	default:
		return "unknown"
	}
}

// Error is returned by Writer implementations.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("sink: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the sink kind of err. Unclassified errors count as KindWrite.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindWrite
}
