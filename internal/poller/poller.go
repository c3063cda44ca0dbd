// internal/poller/poller.go
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tamzrod/pzem-poller/internal/events"
	"github.com/tamzrod/pzem-poller/internal/logging"
	"github.com/tamzrod/pzem-poller/internal/status"
)

// Poller is a clock-driven reader over groups of devices.
// Failures never leave the device that produced them: they are counted,
// logged and, past the threshold, reported as a degraded event.
type Poller struct {
	cfg    Config
	groups []Group
	sink   Sink
	emit   events.Emitter
	log    *logging.Logger
	now    func() time.Time

	mu      sync.Mutex
	devices map[string]*tracker
	order   []string
}

// New creates a poller with immutable config.
func New(cfg Config, groups []Group, sink Sink, emit events.Emitter, log *logging.Logger) (*Poller, error) {
	if cfg.Interval <= 0 {
		return nil, errors.New("poller: interval must be > 0")
	}
	if cfg.DegradedAfter < 1 {
		return nil, errors.New("poller: degraded_after must be >= 1")
	}
	if sink == nil {
		return nil, errors.New("poller: sink required")
	}
	if emit == nil {
		emit = events.Nop{}
	}
	if log == nil {
		log = logging.Discard()
	}

	p := &Poller{
		cfg:     cfg,
		groups:  groups,
		sink:    sink,
		emit:    emit,
		log:     log.With("component", "poller"),
		now:     time.Now,
		devices: make(map[string]*tracker),
	}

	n := 0
	for _, g := range groups {
		for _, d := range g.Devices {
			tag := d.Tag()
			if _, dup := p.devices[tag.ID]; dup {
				return nil, errors.New("poller: duplicate device id " + tag.ID)
			}
			p.devices[tag.ID] = &tracker{snap: status.Snapshot{
				Device:  tag.ID,
				Bus:     g.Bus,
				Address: tag.Address,
				Health:  status.HealthUnknown,
			}}
			p.order = append(p.order, tag.ID)
			n++
		}
	}
	if n == 0 {
		return nil, errors.New("poller: at least one device required")
	}

	return p, nil
}

// Tick performs exactly one poll cycle over every group and waits for it.
// Groups run concurrently; devices within a group run in order.
func (p *Poller) Tick(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	for i := range p.groups {
		grp := p.groups[i]
		g.Go(func() error {
			p.pollGroup(ctx, grp)
			return nil
		})
	}
	_ = g.Wait()
}

// pollGroup reads each device once. A cancelled ctx stops new reads;
// a read already on the wire completes or times out.
func (p *Poller) pollGroup(ctx context.Context, g Group) {
	for _, d := range g.Devices {
		if ctx.Err() != nil {
			return
		}
		m, err := d.ReadMeasurement()
		if err != nil {
			p.recordFailure(d, err)
			continue
		}
		p.recordSuccess(d)
		p.sink.Add(m)
	}
}

// ---- failure bookkeeping ----

func (p *Poller) recordFailure(d Device, err error) {
	tag := d.Tag()
	now := p.now()

	p.mu.Lock()
	t := p.devices[tag.ID]
	t.snap.ConsecutiveFailures++
	t.snap.LastError = err.Error()
	streak := t.snap.ConsecutiveFailures

	becameDegraded := !t.degraded && streak >= p.cfg.DegradedAfter
	next := status.HealthError
	if t.degraded || becameDegraded {
		next = status.HealthDegraded
	}
	if t.snap.Health != next {
		t.snap.Health = next
		t.snap.Since = now
	}
	if becameDegraded {
		t.degraded = true
	}
	p.mu.Unlock()

	if logging.ShouldLogStreak(streak) {
		p.log.Warn().
			Str("device", tag.ID).
			Str("bus", tag.Bus).
			Uint8("address", tag.Address).
			Int("consecutive_failures", streak).
			Err(err).
			Msg("device read failed")
	}

	if becameDegraded {
		p.emit.Emit(events.Event{
			Kind:    events.DeviceDegraded,
			At:      now,
			Device:  tag.ID,
			Bus:     tag.Bus,
			Address: tag.Address,
			Count:   streak,
			Err:     err,
		})
	}
}

func (p *Poller) recordSuccess(d Device) {
	tag := d.Tag()
	now := p.now()

	p.mu.Lock()
	t := p.devices[tag.ID]
	streak := t.snap.ConsecutiveFailures
	recovered := t.degraded

	t.degraded = false
	t.snap.ConsecutiveFailures = 0
	t.snap.LastError = ""
	t.snap.LastSuccess = now
	if t.snap.Health != status.HealthOK {
		t.snap.Health = status.HealthOK
		t.snap.Since = now
	}
	p.mu.Unlock()

	if streak > 0 {
		p.log.Info().Str("device", tag.ID).Int("after_failures", streak).Msg("device read recovered")
	}
	if recovered {
		p.emit.Emit(events.Event{
			Kind:    events.DeviceRecovered,
			At:      now,
			Device:  tag.ID,
			Bus:     tag.Bus,
			Address: tag.Address,
			Count:   streak,
		})
	}
}

// ---- observation ----

// Failures returns the consecutive failure count of a device.
func (p *Poller) Failures(deviceID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.devices[deviceID]; ok {
		return t.snap.ConsecutiveFailures
	}
	return 0
}

// Snapshots returns device health in configuration order.
func (p *Poller) Snapshots() []status.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]status.Snapshot, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.devices[id].snap)
	}
	return out
}
