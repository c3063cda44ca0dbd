// internal/ingest/retry.go
package ingest

import (
	"context"
	"time"
)

// RetryPolicy is a finite attempt budget with exponential backoff.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Delay is the wait after failed attempt n (1-based):
// InitialDelay * 2^(n-1), capped at MaxDelay.
func (r RetryPolicy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := r.InitialDelay
	for i := 1; i < n; i++ {
		d *= 2
		if d >= r.MaxDelay || d <= 0 {
			return r.MaxDelay
		}
	}
	if d > r.MaxDelay {
		return r.MaxDelay
	}
	return d
}

// sleepCtx waits d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
