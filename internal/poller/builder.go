// internal/poller/builder.go
package poller

import (
	"fmt"
	"time"

	"github.com/tamzrod/pzem-poller/internal/config"
	"github.com/tamzrod/pzem-poller/internal/events"
	"github.com/tamzrod/pzem-poller/internal/logging"
	"github.com/tamzrod/pzem-poller/internal/pzem"
	"github.com/tamzrod/pzem-poller/internal/session"
	"github.com/tamzrod/pzem-poller/internal/transport"
)

// BusOpener opens the transport of one bus. ONE attempt per call.
type BusOpener func(b config.BusConfig) (transport.Client, error)

// OpenBus opens a serial RTU or TCP gateway transport.
func OpenBus(b config.BusConfig) (transport.Client, error) {
	timeout := time.Duration(b.TimeoutMs) * time.Millisecond

	switch b.Kind {
	case config.BusKindSerial:
		return transport.NewRTU(transport.RTUConfig{
			Port:       b.Port,
			Candidates: b.Ports,
			BaudRate:   b.BaudRate,
			DataBits:   b.DataBits,
			StopBits:   b.StopBits,
			Parity:     b.Parity,
			Timeout:    timeout,
		})
	case config.BusKindTCP:
		return transport.NewGateway(transport.GatewayConfig{
			Endpoint: b.Endpoint,
			Timeout:  timeout,
		})
	default:
		return nil, fmt.Errorf("bus %q: unsupported kind %q", b.ID, b.Kind)
	}
}

// NewSession builds the session of one configured device.
func NewSession(d config.DeviceConfig, applyShunt bool, client transport.Client, emit events.Emitter, log *logging.Logger) (*session.Session, error) {
	shunt, err := pzem.ParseShuntRating(d.Shunt)
	if err != nil {
		return nil, fmt.Errorf("device %q: %w", d.ID, err)
	}
	return session.New(session.Config{
		Tag: pzem.Tag{
			ID:       d.ID,
			Bus:      d.Bus,
			Address:  uint8(d.Address),
			Name:     d.Name,
			Location: d.Location,
		},
		Shunt:      shunt,
		ApplyShunt: applyShunt,
	}, client, emit, log), nil
}

// Build opens every bus and constructs one session per device, grouped by bus.
// Buses are opened in config order (fail fast at startup); the returned
// closer releases all of them.
func Build(c *config.Config, open BusOpener, sink Sink, emit events.Emitter, log *logging.Logger) (*Poller, []*session.Session, func() error, error) {
	if open == nil {
		open = OpenBus
	}
	if log == nil {
		log = logging.Discard()
	}

	clients := make(map[string]transport.Client, len(c.Buses))
	closeAll := func() error {
		var first error
		for _, b := range c.Buses {
			if cl, ok := clients[b.ID]; ok {
				if err := cl.Close(); err != nil && first == nil {
					first = err
				}
			}
		}
		return first
	}

	for _, b := range c.Buses {
		cl, err := open(b)
		if err != nil {
			_ = closeAll()
			return nil, nil, nil, fmt.Errorf("open bus %q: %w", b.ID, err)
		}
		clients[b.ID] = cl

		if rtu, ok := cl.(interface{ ActivePort() string }); ok {
			log.Info().Str("bus", b.ID).Str("kind", b.Kind).Str("port", rtu.ActivePort()).Msg("bus opened")
		} else {
			log.Info().Str("bus", b.ID).Str("kind", b.Kind).Str("endpoint", b.Endpoint).Msg("bus opened")
		}
	}

	groups := make([]Group, 0, len(c.Buses))
	index := make(map[string]int, len(c.Buses))
	for _, b := range c.Buses {
		index[b.ID] = len(groups)
		groups = append(groups, Group{Bus: b.ID})
	}

	sessions := make([]*session.Session, 0, len(c.Devices))
	for _, d := range c.Devices {
		s, err := NewSession(d, c.Poller.ApplyShuntOnStart, clients[d.Bus], emit, log)
		if err != nil {
			_ = closeAll()
			return nil, nil, nil, err
		}
		sessions = append(sessions, s)
		i := index[d.Bus]
		groups[i].Devices = append(groups[i].Devices, s)
	}

	// buses without devices are opened (validation) but not polled
	polled := groups[:0]
	for _, g := range groups {
		if len(g.Devices) > 0 {
			polled = append(polled, g)
		}
	}

	p, err := New(Config{
		Interval:      c.Poller.Interval(),
		DegradedAfter: c.Poller.DegradedAfter,
	}, polled, sink, emit, log)
	if err != nil {
		_ = closeAll()
		return nil, nil, nil, err
	}

	return p, sessions, closeAll, nil
}
