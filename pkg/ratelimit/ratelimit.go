package ratelimit

import (
	"context"
	"math/rand"
	"time"
)

// Limiter paces outbound calls to at most rps per second, optionally adding
// random delay. A nil *Limiter never blocks. It is safe for concurrent use.
type Limiter struct {
	ticker   *time.Ticker
	jitter   float64 // 0.0 to 1.0
	interval time.Duration
}

// NewLimiter creates a limiter for rps requests per second. If rps <= 0 the
// limiter does not block. jitter is clamped to [0, 1].
func NewLimiter(rps float64, jitter float64) *Limiter {
	if jitter < 0 {
		jitter = 0
	} else if jitter > 1 {
		jitter = 1
	}
	if rps <= 0 {
		return &Limiter{jitter: jitter}
	}

	interval := time.Duration(float64(time.Second) / rps)
	return &Limiter{
		ticker:   time.NewTicker(interval),
		jitter:   jitter,
		interval: interval,
	}
}

// Wait blocks until the next slot or until ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.ticker == nil {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.ticker.C:
	}

	if l.jitter == 0 {
		return nil
	}
	// The ticker already enforces the minimum spacing, so only the positive
	// half of the jitter range delays the caller.
	extra := time.Duration(float64(l.interval) * l.jitter * (rand.Float64()*2 - 1))
	if extra <= 0 {
		return nil
	}
	t := time.NewTimer(extra)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop releases the limiter's ticker.
func (l *Limiter) Stop() {
	if l != nil && l.ticker != nil {
		l.ticker.Stop()
	}
}
