// internal/transport/rtu.go
package transport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"github.com/goburrow/serial"
)

// RTUConfig is the serial line configuration. It is passed through opaquely.
type RTUConfig struct {
	// Port is used when no candidate is usable.
	Port string
	// Candidates are tried in order; the first character device wins.
	Candidates []string

	BaudRate int
	DataBits int
	StopBits int
	Parity   string

	// Timeout bounds one request/response exchange.
	Timeout time.Duration
}

// Opener opens a serial port. Tests replace it with a scripted fake.
type Opener func(c *serial.Config) (io.ReadWriteCloser, error)

func openSerial(c *serial.Config) (io.ReadWriteCloser, error) {
	return serial.Open(c)
}

// RTU is a Modbus RTU client over one physical serial bus.
// The mutex is the bus: exactly one exchange is on the wire at a time,
// so every session sharing an RTU is serialized here and nowhere else.
type RTU struct {
	mu sync.Mutex

	cfg    RTUConfig
	open   Opener
	usable func(path string) bool
	now    func() time.Time

	port   io.ReadWriteCloser
	active string
	closed bool

	// stale is set when a reply may still be arriving; the next exchange
	// drains the line before it writes.
	stale bool
}

// NewRTU validates cfg and opens the port (fail fast at startup).
// After an I/O or framing failure the port is discarded and reopened
// on a later request, re-resolving the candidates each time.
func NewRTU(cfg RTUConfig) (*RTU, error) {
	c, err := newRTU(cfg, openSerial)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureOpen(); err != nil {
		return nil, err
	}
	return c, nil
}

func newRTU(cfg RTUConfig, open Opener) (*RTU, error) {
	if cfg.Port == "" && len(cfg.Candidates) == 0 {
		return nil, errors.New("rtu: port required")
	}
	if cfg.Timeout <= 0 {
		return nil, errors.New("rtu: timeout must be > 0")
	}
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = 9600
	}
	if cfg.DataBits == 0 {
		cfg.DataBits = 8
	}
	if cfg.StopBits == 0 {
		cfg.StopBits = 2
	}
	if cfg.Parity == "" {
		cfg.Parity = "N"
	}

	return &RTU{
		cfg:    cfg,
		open:   open,
		usable: isCharDevice,
		now:    time.Now,
	}, nil
}

// ActivePort returns the device path currently open, if any.
func (c *RTU) ActivePort() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Close closes the serial port. Further requests fail with ErrClosed.
func (c *RTU) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	return c.discard()
}

// ---- Client interface ----

func (c *RTU) ReadInputRegisters(slave uint8, addr, qty uint16) ([]uint16, error) {
	return c.readRegisters(slave, modbus.FuncCodeReadInputRegisters, addr, qty)
}

func (c *RTU) ReadHoldingRegisters(slave uint8, addr, qty uint16) ([]uint16, error) {
	return c.readRegisters(slave, modbus.FuncCodeReadHoldingRegisters, addr, qty)
}

// WriteSingleRegister issues FC 6 and expects the request echoed back.
func (c *RTU) WriteSingleRegister(slave uint8, addr, value uint16) error {
	_, err := c.exchange(slave, writePDU(addr, value), replyEcho)
	return err
}

// BroadcastWriteRegister issues FC 6 to slave 0. Devices apply it silently,
// so only the write itself can fail.
func (c *RTU) BroadcastWriteRegister(addr, value uint16) error {
	_, err := c.exchange(BroadcastSlave, writePDU(addr, value), replyNone)
	return err
}

// SendRaw issues a data-less vendor function (e.g. PZEM reset energy).
func (c *RTU) SendRaw(slave uint8, fc byte) error {
	_, err := c.exchange(slave, []byte{fc}, replyEcho)
	return err
}

func writePDU(addr, value uint16) []byte {
	pdu := make([]byte, 5)
	pdu[0] = modbus.FuncCodeWriteSingleRegister
	putU16(pdu[1:3], addr)
	putU16(pdu[3:5], value)
	return pdu
}

func (c *RTU) readRegisters(slave uint8, fc byte, addr, qty uint16) ([]uint16, error) {
	if qty == 0 || qty > 125 {
		return nil, &Error{Kind: KindIO, Slave: slave, Function: fc, Err: fmt.Errorf("quantity %d out of range", qty)}
	}

	pdu := make([]byte, 5)
	pdu[0] = fc
	putU16(pdu[1:3], addr)
	putU16(pdu[3:5], qty)

	data, err := c.exchange(slave, pdu, replyData)
	if err != nil {
		return nil, err
	}
	if len(data) != 2*int(qty) {
		return nil, &Error{
			Kind: KindShortRead, Slave: slave, Function: fc,
			Err: fmt.Errorf("got %d data bytes, want %d", len(data), 2*int(qty)),
		}
	}
	return unpackRegisters(data), nil
}

// ---- framing ----

// replyShape is what exchange expects back for a request.
type replyShape int

const (
	replyData replyShape = iota
	replyEcho
	replyNone
)

// exchange sends one request and reads at most one reply.
//
//	Request:    Slave(1) PDU(n) CRC(2)
//	Data:       Slave(1) FC(1) ByteCount(1) Data(ByteCount) CRC(2)
//	Echo:       the request frame verbatim
//	Exception:  Slave(1) FC|0x80(1) Exception(1) CRC(2)
//
// For reads it returns the data bytes; otherwise it returns nil.
func (c *RTU) exchange(slave uint8, pdu []byte, shape replyShape) ([]byte, error) {
	fc := pdu[0]
	fail := func(kind Kind, err error) error {
		switch kind {
		case KindTimeout, KindShortRead, KindChecksumInvalid, KindUnexpectedReply:
			c.stale = true
		}
		return &Error{Kind: kind, Slave: slave, Function: fc, Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fail(KindIO, ErrClosed)
	}
	if err := c.ensureOpen(); err != nil {
		return nil, fail(KindIO, err)
	}

	if c.stale {
		c.drain()
		if err := c.ensureOpen(); err != nil {
			return nil, fail(KindIO, err)
		}
	}

	req := appendCRC(append([]byte{slave}, pdu...))

	time.Sleep(c.frameGap())
	if err := writeAll(c.port, req); err != nil {
		_ = c.discard()
		return nil, fail(KindIO, err)
	}
	if shape == replyNone {
		// Give the devices time to act before the bus is reused.
		time.Sleep(c.frameGap())
		return nil, nil
	}

	deadline := c.now().Add(c.cfg.Timeout)

	// Slave + function decide which reply shape follows.
	hdr := make([]byte, 2, 256)
	if kind, err := c.readFull(hdr, deadline); err != nil {
		return nil, fail(kind, err)
	}

	if hdr[0] == slave && hdr[1] == fc|0x80 {
		frame, kind, err := c.readMore(hdr, 3, deadline)
		if err != nil {
			return nil, fail(kind, err)
		}
		if !checkCRC(frame) {
			_ = c.discard()
			return nil, fail(KindChecksumInvalid, errors.New("exception reply"))
		}
		return nil, fail(KindException, &modbus.ModbusError{FunctionCode: fc, ExceptionCode: frame[2]})
	}

	if hdr[0] != slave || hdr[1] != fc {
		_ = c.discard()
		return nil, fail(KindUnexpectedReply, fmt.Errorf("reply from slave=%d fc=0x%02x", hdr[0], hdr[1]))
	}

	if shape == replyEcho {
		frame, kind, err := c.readMore(hdr, len(req)-2, deadline)
		if err != nil {
			return nil, fail(kind, err)
		}
		if !checkCRC(frame) {
			_ = c.discard()
			return nil, fail(KindChecksumInvalid, errors.New("echo reply"))
		}
		if string(frame) != string(req) {
			return nil, fail(KindUnexpectedReply, fmt.Errorf("echo mismatch: tx=% x rx=% x", req, frame))
		}
		return nil, nil
	}

	frame, kind, err := c.readMore(hdr, 1, deadline)
	if err != nil {
		return nil, fail(kind, err)
	}
	count := int(frame[2])
	frame, kind, err = c.readMore(frame, count+2, deadline)
	if err != nil {
		return nil, fail(kind, err)
	}
	if !checkCRC(frame) {
		_ = c.discard()
		return nil, fail(KindChecksumInvalid, errors.New("data reply"))
	}
	return frame[3 : 3+count], nil
}

// readMore reads n more bytes onto frame.
func (c *RTU) readMore(frame []byte, n int, deadline time.Time) ([]byte, Kind, error) {
	start := len(frame)
	frame = append(frame, make([]byte, n)...)
	if kind, err := c.readFull(frame[start:], deadline); err != nil {
		// Part of the reply already arrived, so silence here is a short read.
		if kind == KindTimeout {
			kind = KindShortRead
			_ = c.discard()
		}
		return nil, kind, err
	}
	return frame, 0, nil
}

// readFull fills buf or fails at the deadline.
// Nothing at all is a timeout; a partial frame is a short read.
func (c *RTU) readFull(buf []byte, deadline time.Time) (Kind, error) {
	got := 0
	for got < len(buf) && c.now().Before(deadline) {
		n, err := c.port.Read(buf[got:])
		got += n
		if err != nil && !errors.Is(err, serial.ErrTimeout) {
			_ = c.discard()
			return KindIO, err
		}
	}

	switch {
	case got == len(buf):
		return 0, nil
	case got == 0:
		return KindTimeout, fmt.Errorf("no reply within %v", c.cfg.Timeout)
	default:
		// Stale bytes may still be in flight; start clean next time.
		_ = c.discard()
		return KindShortRead, fmt.Errorf("got %d of %d bytes", got, len(buf))
	}
}

// drain reads and drops whatever is waiting on the line, so a reply that
// arrived after its request timed out is never taken for the next answer.
// It stops at the first empty read or after one timeout's worth of bytes.
func (c *RTU) drain() {
	c.stale = false
	if c.port == nil {
		return
	}

	buf := make([]byte, 256)
	deadline := c.now().Add(c.cfg.Timeout)
	for c.now().Before(deadline) {
		n, err := c.port.Read(buf)
		if err != nil && !errors.Is(err, serial.ErrTimeout) {
			_ = c.discard()
			return
		}
		if n == 0 {
			return
		}
	}
}

// frameGap is the 3.5 character silence that delimits RTU frames.
func (c *RTU) frameGap() time.Duration {
	if c.cfg.BaudRate > 19200 {
		return 1750 * time.Microsecond
	}
	// 11 bits per character on the wire.
	return time.Duration(35*11) * time.Second / time.Duration(10*c.cfg.BaudRate)
}

// ---- port lifecycle (caller holds mu) ----

func (c *RTU) ensureOpen() error {
	if c.port != nil {
		return nil
	}

	path := c.resolvePort()
	p, err := c.open(&serial.Config{
		Address:  path,
		BaudRate: c.cfg.BaudRate,
		DataBits: c.cfg.DataBits,
		StopBits: c.cfg.StopBits,
		Parity:   c.cfg.Parity,
		Timeout:  c.cfg.Timeout,
	})
	if err != nil {
		return fmt.Errorf("rtu: open %s: %w", path, err)
	}

	c.port = p
	c.active = path
	return nil
}

func (c *RTU) discard() error {
	if c.port == nil {
		return nil
	}
	err := c.port.Close()
	c.port = nil
	c.active = ""
	return err
}

// resolvePort picks the first usable candidate, else the configured port.
func (c *RTU) resolvePort() string {
	for _, p := range c.cfg.Candidates {
		if c.usable(p) {
			return p
		}
	}
	if c.cfg.Port != "" {
		return c.cfg.Port
	}
	return c.cfg.Candidates[0]
}

func isCharDevice(path string) bool {
	st, err := os.Stat(path)
	if err != nil {
		return false
	}
	return st.Mode()&os.ModeCharDevice != 0
}

func writeAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}
