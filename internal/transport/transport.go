// internal/transport/transport.go
package transport

import (
	"errors"
	"fmt"

	"github.com/goburrow/modbus"
)

// Client is the Modbus surface a device session needs.
// Geometry only: no register semantics live here.
// No retries at this layer: every call is exactly one request on the wire.
type Client interface {
	ReadInputRegisters(slave uint8, addr, qty uint16) ([]uint16, error)   // FC 4
	ReadHoldingRegisters(slave uint8, addr, qty uint16) ([]uint16, error) // FC 3
	WriteSingleRegister(slave uint8, addr, value uint16) error            // FC 6
	Close() error
}

// RawCommander sends a vendor function that carries no data and expects an echo.
type RawCommander interface {
	SendRaw(slave uint8, fc byte) error
}

// BroadcastSlave addresses every device on a serial line. Nobody replies.
const BroadcastSlave uint8 = 0

// Broadcaster writes one holding register on every device of a bus at once.
// PZEM units accept their slave address this way when it is unknown.
type Broadcaster interface {
	BroadcastWriteRegister(addr, value uint16) error
}

// ErrClosed is returned for requests on a closed client.
var ErrClosed = errors.New("transport: closed")

// Kind classifies a transport failure.
type Kind int

const (
	KindTimeout Kind = iota + 1
	KindChecksumInvalid
	KindShortRead
	// KindException: the device answered with a Modbus exception frame.
	KindException
	// KindUnexpectedReply: a well-formed frame from the wrong slave or function.
	KindUnexpectedReply
	// KindIO: the port could not be opened or written.
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindChecksumInvalid:
		return "checksum_invalid"
	case KindShortRead:
		return "short_read"
	case KindException:
		return "exception"
	case KindUnexpectedReply:
		return "unexpected_reply"
	case KindIO:
		return "io"
	default:
		return "unknown"
	}
}

// Error is the only error type returned by Client implementations.
type Error struct {
	Kind     Kind
	Slave    uint8
	Function byte
	Err      error
}

func (e *Error) Error() string {
	var me *modbus.ModbusError
	if e.Kind == KindException && errors.As(e.Err, &me) {
		return fmt.Sprintf("transport: slave=%d fc=%d: exception: %s", e.Slave, e.Function, ExceptionName(me.ExceptionCode))
	}
	if e.Err == nil {
		return fmt.Sprintf("transport: slave=%d fc=%d: %s", e.Slave, e.Function, e.Kind)
	}
	return fmt.Sprintf("transport: slave=%d fc=%d: %s: %v", e.Slave, e.Function, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the transport kind of err, or 0 when err is not a transport error.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return 0
}

// exceptionNames maps PZEM abnormal codes to text.
var exceptionNames = map[byte]string{
	modbus.ExceptionCodeIllegalFunction:     "illegal function",
	modbus.ExceptionCodeIllegalDataAddress:  "illegal address",
	modbus.ExceptionCodeIllegalDataValue:    "illegal data",
	modbus.ExceptionCodeServerDeviceFailure: "slave error",
}

// ExceptionName returns a readable name for a Modbus exception code.
func ExceptionName(code byte) string {
	if s, ok := exceptionNames[code]; ok {
		return s
	}
	return fmt.Sprintf("unknown abnormal code 0x%02x", code)
}
