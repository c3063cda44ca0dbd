// internal/transport/gateway.go
package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"github.com/goburrow/serial"
)

// Gateway is a Modbus TCP connection to a serial gateway.
// It serializes requests because it mutates SlaveId per request,
// and because the RS-485 side of the gateway is still one bus.
type Gateway struct {
	mu      sync.Mutex
	handler *modbus.TCPClientHandler
	client  modbus.Client
}

// GatewayConfig is minimal transport config.
type GatewayConfig struct {
	Endpoint string
	Timeout  time.Duration
}

// NewGateway creates a connected Modbus TCP client.
func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("gateway: endpoint required")
	}
	if cfg.Timeout <= 0 {
		return nil, errors.New("gateway: timeout must be > 0")
	}

	h := modbus.NewTCPClientHandler(cfg.Endpoint)
	h.Timeout = cfg.Timeout

	if err := h.Connect(); err != nil {
		return nil, fmt.Errorf("gateway: connect %s: %w", cfg.Endpoint, err)
	}

	return &Gateway{
		handler: h,
		client:  modbus.NewClient(h),
	}, nil
}

func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.handler.Close()
}

func (g *Gateway) ReadInputRegisters(slave uint8, addr, qty uint16) ([]uint16, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.handler.SlaveId = slave
	b, err := g.client.ReadInputRegisters(addr, qty)
	return registersOrError(slave, modbus.FuncCodeReadInputRegisters, qty, b, err)
}

func (g *Gateway) ReadHoldingRegisters(slave uint8, addr, qty uint16) ([]uint16, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.handler.SlaveId = slave
	b, err := g.client.ReadHoldingRegisters(addr, qty)
	return registersOrError(slave, modbus.FuncCodeReadHoldingRegisters, qty, b, err)
}

func (g *Gateway) WriteSingleRegister(slave uint8, addr, value uint16) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.handler.SlaveId = slave
	b, err := g.client.WriteSingleRegister(addr, value)
	if err != nil {
		return classify(slave, modbus.FuncCodeWriteSingleRegister, err)
	}
	if len(b) != 2 || uint16(b[0])<<8|uint16(b[1]) != value {
		return &Error{
			Kind: KindUnexpectedReply, Slave: slave, Function: modbus.FuncCodeWriteSingleRegister,
			Err: fmt.Errorf("echo mismatch: % x", b),
		}
	}
	return nil
}

// SendRaw frames a data-less vendor function through the gateway.
func (g *Gateway) SendRaw(slave uint8, fc byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.handler.SlaveId = slave

	req, err := g.handler.Encode(&modbus.ProtocolDataUnit{FunctionCode: fc})
	if err != nil {
		return &Error{Kind: KindIO, Slave: slave, Function: fc, Err: err}
	}
	resp, err := g.handler.Send(req)
	if err != nil {
		return classify(slave, fc, err)
	}
	if err := g.handler.Verify(req, resp); err != nil {
		return classify(slave, fc, err)
	}
	pdu, err := g.handler.Decode(resp)
	if err != nil {
		return classify(slave, fc, err)
	}

	switch pdu.FunctionCode {
	case fc:
		return nil
	case fc | 0x80:
		code := byte(0)
		if len(pdu.Data) > 0 {
			code = pdu.Data[0]
		}
		return &Error{Kind: KindException, Slave: slave, Function: fc, Err: &modbus.ModbusError{FunctionCode: fc, ExceptionCode: code}}
	default:
		return &Error{Kind: KindUnexpectedReply, Slave: slave, Function: fc, Err: fmt.Errorf("reply fc=0x%02x", pdu.FunctionCode)}
	}
}

func registersOrError(slave uint8, fc byte, qty uint16, b []byte, err error) ([]uint16, error) {
	if err != nil {
		return nil, classify(slave, fc, err)
	}
	if len(b) != 2*int(qty) {
		return nil, &Error{
			Kind: KindShortRead, Slave: slave, Function: fc,
			Err: fmt.Errorf("got %d data bytes, want %d", len(b), 2*int(qty)),
		}
	}
	return unpackRegisters(b), nil
}

// classify maps goburrow/modbus and net errors onto transport kinds.
// goburrow reports framing problems as plain strings, so those are matched by text.
func classify(slave uint8, fc byte, err error) error {
	kind := KindIO

	var me *modbus.ModbusError
	var ne net.Error
	msg := strings.ToLower(err.Error())

	switch {
	case errors.As(err, &me):
		kind = KindException
	case errors.As(err, &ne) && ne.Timeout(), errors.Is(err, serial.ErrTimeout):
		kind = KindTimeout
	case errors.Is(err, io.ErrUnexpectedEOF):
		kind = KindShortRead
	case strings.Contains(msg, "crc"):
		kind = KindChecksumInvalid
	case strings.Contains(msg, "does not match"), strings.Contains(msg, "length"):
		kind = KindShortRead
	}

	return &Error{Kind: kind, Slave: slave, Function: fc, Err: err}
}
