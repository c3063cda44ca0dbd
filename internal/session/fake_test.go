// internal/session/fake_test.go
package session

import (
	"sync"

	"github.com/tamzrod/pzem-poller/internal/transport"
)

type write struct {
	slave uint8
	addr  uint16
	value uint16
}

// fakeClient is an in-memory device. Errors are consumed one per call.
type fakeClient struct {
	mu sync.Mutex

	input    []uint16
	holding  [4]uint16
	inputErr []error
	readErr  []error
	writeErr []error
	rawErr   error

	writes []write
	raws   []byte
}

func (f *fakeClient) ReadInputRegisters(slave uint8, addr, qty uint16) ([]uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := pop(&f.inputErr); err != nil {
		return nil, err
	}
	return append([]uint16(nil), f.input[addr:addr+qty]...), nil
}

func (f *fakeClient) ReadHoldingRegisters(slave uint8, addr, qty uint16) ([]uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := pop(&f.readErr); err != nil {
		return nil, err
	}
	return append([]uint16(nil), f.holding[addr:addr+qty]...), nil
}

func (f *fakeClient) WriteSingleRegister(slave uint8, addr, value uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, write{slave, addr, value})
	if err := pop(&f.writeErr); err != nil {
		return err
	}
	f.holding[addr] = value
	return nil
}

func (f *fakeClient) SendRaw(slave uint8, fc byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raws = append(f.raws, fc)
	return f.rawErr
}

func (f *fakeClient) Close() error { return nil }

func (f *fakeClient) setEnergy(wh uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.input[4] = uint16(wh)
	f.input[5] = uint16(wh >> 16)
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

// newFakeClient returns a device reading 12.34 V, -1.50 A, 18.5 W, 1000 Wh,
// holding 300 V / 7 V thresholds at address 1 with the 100A shunt.
func newFakeClient() *fakeClient {
	return &fakeClient{
		input:   []uint16{1234, 0xFF6A, 185, 0, 1000, 0, 0, 0},
		holding: [4]uint16{30000, 700, 1, 0},
	}
}

func timeoutErr() error {
	return &transport.Error{Kind: transport.KindTimeout, Slave: 1, Function: 3}
}
