// internal/transport/fake_port_test.go
package transport

import (
	"io"
	"sync"
	"time"

	"github.com/goburrow/serial"
)

// fakePort answers each written frame through respond.
// An empty queue behaves like a serial read timeout.
type fakePort struct {
	mu      sync.Mutex
	respond func(req []byte) []byte
	pending []byte
	writes  [][]byte
	closed  bool
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	req := append([]byte(nil), b...)
	p.writes = append(p.writes, req)
	if p.respond != nil {
		p.pending = append(p.pending, p.respond(req)...)
	}
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if len(p.pending) == 0 {
		p.mu.Unlock()
		time.Sleep(time.Millisecond)
		return 0, serial.ErrTimeout
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	p.mu.Unlock()
	return n, nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// newFakeRTU returns an RTU wired to a fresh fakePort per open.
func newFakeRTU(respond func(req []byte) []byte) (*RTU, *[]*fakePort, *[]string) {
	var ports []*fakePort
	var opened []string

	open := func(c *serial.Config) (io.ReadWriteCloser, error) {
		p := &fakePort{respond: respond}
		ports = append(ports, p)
		opened = append(opened, c.Address)
		return p, nil
	}

	c, err := newRTU(RTUConfig{Port: "/dev/ttyFAKE", BaudRate: 115200, Timeout: 30 * time.Millisecond}, open)
	if err != nil {
		panic(err)
	}
	return c, &ports, &opened
}

// readReply builds a valid FC 3/4 reply for req carrying words.
func readReply(req []byte, words ...uint16) []byte {
	f := []byte{req[0], req[1], byte(2 * len(words))}
	for _, w := range words {
		f = append(f, byte(w>>8), byte(w))
	}
	return appendCRC(f)
}
