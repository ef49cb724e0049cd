package dispatch

import (
	"context"

	"github.com/tinywideclouds/pushgate/internal/telemetry"
)

// Pushkin is the capability set every provider-bound dispatch worker
// implements: dispatch one device, and shut down cleanly. Name gives the
// stable identity used for metrics and logging.
type Pushkin interface {
	Name() string
	Dispatch(ctx context.Context, n Notification, d Device) Outcome
	Shutdown()
}

// Unlimited is implemented by a concrete pushkin's provider-specific logic,
// with no concurrency gating applied. ConcurrencyLimitedPushkin wraps it
// with permit acquisition so each concrete pushkin only has to write the
// part that actually talks to the provider.
type Unlimited interface {
	Name() string
	DispatchUnlimited(ctx context.Context, n Notification, d Device) Outcome
	Shutdown()
}

// ConcurrencyLimitedPushkin embeds a Limiter and exposes the Pushkin
// interface, acquiring a permit before calling through to the wrapped
// provider logic and releasing it on every exit path (including
// cancellation). This mirrors sygnal's ConcurrencyLimitedPushkin base class.
type ConcurrencyLimitedPushkin struct {
	Unlimited
	Limiter *Limiter
	sink    telemetry.Sink
}

// NewConcurrencyLimitedPushkin wires a concrete provider implementation to
// a sized Limiter. sink records the in-flight permit gauge (spec §6); a nil
// sink is replaced with a no-op.
func NewConcurrencyLimitedPushkin(inner Unlimited, limiter *Limiter, sink telemetry.Sink) *ConcurrencyLimitedPushkin {
	if sink == nil {
		sink = telemetry.Noop{}
	}
	return &ConcurrencyLimitedPushkin{Unlimited: inner, Limiter: limiter, sink: sink}
}

func (p *ConcurrencyLimitedPushkin) Dispatch(ctx context.Context, n Notification, d Device) Outcome {
	if err := p.Limiter.Acquire(ctx); err != nil {
		return TransientProvider("concurrency limiter: " + err.Error())
	}
	defer p.Limiter.Release()
	release := p.sink.InFlight(p.Name())
	defer release()
	return p.Unlimited.DispatchUnlimited(ctx, n, d)
}
