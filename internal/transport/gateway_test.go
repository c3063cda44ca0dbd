// internal/transport/gateway_test.go
package transport

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/goburrow/modbus"
	"github.com/goburrow/serial"
	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyGoburrowErrors(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{&modbus.ModbusError{FunctionCode: 4, ExceptionCode: 2}, KindException},
		{timeoutErr{}, KindTimeout},
		{fmt.Errorf("read: %w", serial.ErrTimeout), KindTimeout},
		{io.ErrUnexpectedEOF, KindShortRead},
		{errors.New("modbus: response crc 'f1cc' does not match expected 'ccf1'"), KindChecksumInvalid},
		{errors.New("modbus: response data size '4' does not match count '16'"), KindShortRead},
		{errors.New("connection refused"), KindIO},
	}

	for _, tc := range cases {
		err := classify(1, 4, tc.err)
		assert.Equal(t, tc.want, KindOf(err), tc.err.Error())
		assert.True(t, errors.Is(err, tc.err), "classify must wrap the cause")
	}
}

func TestRegistersOrErrorCountMismatch(t *testing.T) {
	_, err := registersOrError(1, 4, 8, []byte{0, 1, 0, 2}, nil)
	assert.Equal(t, KindShortRead, KindOf(err))

	regs, err := registersOrError(1, 4, 2, []byte{0, 1, 0, 2}, nil)
	assert.NoError(t, err)
	assert.Equal(t, []uint16{1, 2}, regs)
}

func TestNewGatewayValidation(t *testing.T) {
	_, err := NewGateway(GatewayConfig{})
	assert.Error(t, err)

	_, err = NewGateway(GatewayConfig{Endpoint: "127.0.0.1:502"})
	assert.Error(t, err)
}

func TestExceptionName(t *testing.T) {
	assert.Equal(t, "illegal address", ExceptionName(modbus.ExceptionCodeIllegalDataAddress))
	assert.Contains(t, ExceptionName(0x7F), "0x7f")
}

func TestExceptionErrorMessage(t *testing.T) {
	err := &Error{
		Kind:     KindException,
		Slave:    3,
		Function: 6,
		Err:      &modbus.ModbusError{FunctionCode: 6, ExceptionCode: modbus.ExceptionCodeIllegalDataValue},
	}
	assert.Equal(t, "transport: slave=3 fc=6: exception: illegal data", err.Error())
}
