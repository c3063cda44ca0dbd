// internal/session/errors.go
package session

import (
	"errors"
	"fmt"
)

// Kind classifies a session failure.
type Kind int

const (
	// KindUnreachable: the transport failed. Recoverable by the next tick.
	KindUnreachable Kind = iota + 1
	// KindMalformed: the device answered but the payload was rejected.
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindUnreachable:
		return "unreachable"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Error wraps a transport or decode failure with device context.
type Error struct {
	Kind   Kind
	Device string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("device %s: %s: %v", e.Device, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the session kind of err, or 0.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}

// ErrEnergyRegression is wrapped when the energy counter moves backwards
// without a reset issued through this session.
var ErrEnergyRegression = errors.New("energy counter decreased")

// ErrNoRawCommand is returned when the transport cannot send vendor functions.
var ErrNoRawCommand = errors.New("transport does not support raw commands")
