// internal/transport/rtu_test.go
package transport

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/goburrow/modbus"
	"github.com/goburrow/serial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCRC16KnownFrame(t *testing.T) {
	// 01 04 00 00 00 08 -> CRC F1 CC (PZEM-017 read-all request)
	frame := appendCRC([]byte{0x01, 0x04, 0x00, 0x00, 0x00, 0x08})
	assert.Equal(t, []byte{0xF1, 0xCC}, frame[6:])
	assert.True(t, checkCRC(frame))

	frame[2] ^= 0xFF
	assert.False(t, checkCRC(frame))
}

func TestRTUReadInputRegisters(t *testing.T) {
	c, ports, _ := newFakeRTU(func(req []byte) []byte {
		return readReply(req, 1325, 512, 678, 0, 70000-65536, 1, 0, 0)
	})

	regs, err := c.ReadInputRegisters(1, 0, 8)
	require.NoError(t, err)
	assert.Equal(t, []uint16{1325, 512, 678, 0, 4464, 1, 0, 0}, regs)

	req := (*ports)[0].writes[0]
	assert.Equal(t, []byte{0x01, 0x04, 0x00, 0x00, 0x00, 0x08, 0xF1, 0xCC}, req)
}

func TestRTUTimeout(t *testing.T) {
	c, _, _ := newFakeRTU(nil)

	_, err := c.ReadInputRegisters(1, 0, 8)
	require.Error(t, err)
	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestRTUShortRead(t *testing.T) {
	c, ports, _ := newFakeRTU(func(req []byte) []byte {
		full := readReply(req, 1, 2, 3, 4, 5, 6, 7, 8)
		return full[:9]
	})

	_, err := c.ReadInputRegisters(1, 0, 8)
	assert.Equal(t, KindShortRead, KindOf(err))
	assert.True(t, (*ports)[0].closed, "port must be discarded after a partial frame")
}

func TestRTUChecksumInvalid(t *testing.T) {
	c, _, _ := newFakeRTU(func(req []byte) []byte {
		f := readReply(req, 1, 2, 3, 4, 5, 6, 7, 8)
		f[len(f)-1] ^= 0x55
		return f
	})

	_, err := c.ReadInputRegisters(1, 0, 8)
	assert.Equal(t, KindChecksumInvalid, KindOf(err))
}

func TestRTUWrongWordCountIsShortRead(t *testing.T) {
	c, _, _ := newFakeRTU(func(req []byte) []byte {
		return readReply(req, 1, 2, 3)
	})

	_, err := c.ReadInputRegisters(1, 0, 8)
	assert.Equal(t, KindShortRead, KindOf(err))
}

func TestRTUException(t *testing.T) {
	c, _, _ := newFakeRTU(func(req []byte) []byte {
		return appendCRC([]byte{req[0], req[1] | 0x80, modbus.ExceptionCodeIllegalDataAddress})
	})

	_, err := c.ReadHoldingRegisters(1, 0x10, 1)
	assert.Equal(t, KindException, KindOf(err))

	var me *modbus.ModbusError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, byte(modbus.ExceptionCodeIllegalDataAddress), me.ExceptionCode)
}

func TestRTUExceptionFromOtherSlave(t *testing.T) {
	c, _, _ := newFakeRTU(func(req []byte) []byte {
		return appendCRC([]byte{9, req[1] | 0x80, modbus.ExceptionCodeIllegalDataAddress})
	})

	_, err := c.ReadHoldingRegisters(1, 0x10, 1)
	assert.Equal(t, KindUnexpectedReply, KindOf(err))
}

func TestRTUUnexpectedResponder(t *testing.T) {
	c, _, _ := newFakeRTU(func(req []byte) []byte {
		other := append([]byte{9}, req[1:len(req)-2]...)
		return readReply(other, 1)
	})

	_, err := c.ReadHoldingRegisters(1, 0, 1)
	assert.Equal(t, KindUnexpectedReply, KindOf(err))
}

func TestRTUWriteSingleRegisterEcho(t *testing.T) {
	c, ports, _ := newFakeRTU(func(req []byte) []byte { return req })

	require.NoError(t, c.WriteSingleRegister(3, 0x0003, 0x0002))
	assert.Equal(t, []byte{0x03, 0x06, 0x00, 0x03, 0x00, 0x02}, (*ports)[0].writes[0][:6])
}

func TestRTUWriteSingleRegisterEchoMismatch(t *testing.T) {
	c, _, _ := newFakeRTU(func(req []byte) []byte {
		bad := append([]byte(nil), req[:len(req)-2]...)
		bad[5] ^= 0x01
		return appendCRC(bad)
	})

	err := c.WriteSingleRegister(3, 0x0003, 0x0002)
	assert.Equal(t, KindUnexpectedReply, KindOf(err))
}

func TestRTUSendRaw(t *testing.T) {
	c, ports, _ := newFakeRTU(func(req []byte) []byte { return req })

	require.NoError(t, c.SendRaw(1, 0x42))
	assert.Len(t, (*ports)[0].writes[0], 4)
}

func TestRTUReopensAfterDiscard(t *testing.T) {
	calls := 0
	c, ports, opened := newFakeRTU(func(req []byte) []byte {
		calls++
		if calls == 1 {
			return []byte{req[0]} // partial frame
		}
		return readReply(req, 7)
	})

	_, err := c.ReadHoldingRegisters(1, 3, 1)
	require.Error(t, err)

	regs, err := c.ReadHoldingRegisters(1, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint16{7}, regs)
	assert.Len(t, *ports, 2)
	assert.Equal(t, []string{"/dev/ttyFAKE", "/dev/ttyFAKE"}, *opened)
}

func TestRTUClosed(t *testing.T) {
	c, _, _ := newFakeRTU(func(req []byte) []byte { return req })
	require.NoError(t, c.Close())

	err := c.WriteSingleRegister(1, 0, 0)
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestRTUResolvePortCandidates(t *testing.T) {
	c, err := newRTU(RTUConfig{
		Port:       "/dev/ttyUSB0",
		Candidates: []string{"/dev/serial0", "/dev/ttyAMA0"},
		Timeout:    1,
	}, nil)
	require.NoError(t, err)

	c.usable = func(p string) bool { return p == "/dev/ttyAMA0" }
	assert.Equal(t, "/dev/ttyAMA0", c.resolvePort())

	c.usable = func(string) bool { return false }
	assert.Equal(t, "/dev/ttyUSB0", c.resolvePort())
}

func TestNewRTURequiresPort(t *testing.T) {
	_, err := newRTU(RTUConfig{Timeout: 1}, nil)
	assert.Error(t, err)
}

// slowPort answers every request with the next value from values.
// The first reply becomes readable only after lag, past the RTU timeout.
type slowPort struct {
	mu     sync.Mutex
	values []uint16
	lag    time.Duration
	writes int
	frames [][]byte
	due    []time.Time
}

func (p *slowPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	at := time.Now()
	if p.writes == 0 {
		at = at.Add(p.lag)
	}
	p.frames = append(p.frames, readReply(b, p.values[p.writes]))
	p.due = append(p.due, at)
	p.writes++
	return len(b), nil
}

func (p *slowPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if len(p.frames) == 0 || time.Now().Before(p.due[0]) {
		p.mu.Unlock()
		time.Sleep(time.Millisecond)
		return 0, serial.ErrTimeout
	}
	n := copy(b, p.frames[0])
	p.frames[0] = p.frames[0][n:]
	if len(p.frames[0]) == 0 {
		p.frames, p.due = p.frames[1:], p.due[1:]
	}
	p.mu.Unlock()
	return n, nil
}

func (p *slowPort) Close() error { return nil }

func TestRTULateReplyIsNotTakenForNextAnswer(t *testing.T) {
	port := &slowPort{values: []uint16{100, 200}, lag: 50 * time.Millisecond}
	c, err := newRTU(RTUConfig{Port: "/dev/ttyFAKE", BaudRate: 115200, Timeout: 30 * time.Millisecond},
		func(*serial.Config) (io.ReadWriteCloser, error) { return port, nil })
	require.NoError(t, err)

	_, err = c.ReadHoldingRegisters(1, 3, 1)
	require.Equal(t, KindTimeout, KindOf(err))

	// the first reply lands on the line between polls
	time.Sleep(60 * time.Millisecond)

	regs, err := c.ReadHoldingRegisters(1, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint16{200}, regs)
}

func TestRTUBroadcastWriteExpectsNoReply(t *testing.T) {
	c, ports, _ := newFakeRTU(nil)

	require.NoError(t, c.BroadcastWriteRegister(0x0002, 7))
	assert.Equal(t,
		appendCRC([]byte{0x00, 0x06, 0x00, 0x02, 0x00, 0x07}),
		(*ports)[0].writes[0])
}
