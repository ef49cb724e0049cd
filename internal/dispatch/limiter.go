package dispatch

import (
	"context"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Limiter bounds the number of in-flight outbound requests for one pushkin
// and, optionally, smooths bursts with a token-bucket rate limit in front
// of it. semaphore.Weighted grants access in FIFO order, which is what
// spec §4.6 requires so a burst cannot starve earlier requesters.
type Limiter struct {
	sem *semaphore.Weighted
	rl  *rate.Limiter
	max int64
}

// NewLimiter builds a Limiter with maxConnections in-flight permits.
// If ratePerSecond is > 0, a token-bucket limiter of that rate (burst
// equal to maxConnections) additionally gates acquisition.
func NewLimiter(maxConnections int, ratePerSecond float64) *Limiter {
	if maxConnections <= 0 {
		maxConnections = 20
	}
	l := &Limiter{
		sem: semaphore.NewWeighted(int64(maxConnections)),
		max: int64(maxConnections),
	}
	if ratePerSecond > 0 {
		l.rl = rate.NewLimiter(rate.Limit(ratePerSecond), maxConnections)
	}
	return l
}

// Acquire blocks until a permit is available or ctx is done. On
// cancellation it returns ctx.Err() and holds no permit.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.rl != nil {
		if err := l.rl.Wait(ctx); err != nil {
			return err
		}
	}
	return l.sem.Acquire(ctx, 1)
}

// Release frees the permit acquired by Acquire.
func (l *Limiter) Release() {
	l.sem.Release(1)
}

// MaxConnections returns the configured permit count.
func (l *Limiter) MaxConnections() int { return int(l.max) }
