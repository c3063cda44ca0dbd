// internal/poller/runner.go
package poller

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Run starts one ticker loop per group and blocks until ctx is done.
// One goroutine per bus. No overlap within a bus. No retries.
// A slow bus only delays its own next tick: ticks that fire while a
// cycle is still running are dropped by the ticker.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Info().Int("groups", len(p.groups)).Dur("interval", p.cfg.Interval).Msg("poller started")

	g, ctx := errgroup.WithContext(ctx)
	for i := range p.groups {
		grp := p.groups[i]
		g.Go(func() error {
			p.runGroup(ctx, grp)
			return nil
		})
	}
	err := g.Wait()

	p.log.Info().Msg("poller stopped")
	return err
}

func (p *Poller) runGroup(ctx context.Context, grp Group) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// first cycle immediately, not one interval after start
	p.pollGroup(ctx, grp)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollGroup(ctx, grp)
		}
	}
}
