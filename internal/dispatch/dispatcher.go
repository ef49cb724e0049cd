package dispatch

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Result is the outcome of dispatching one Notification to all of its
// devices (spec §4.1 step 5).
type Result struct {
	// Rejected lists pushkeys the caller must forget, in the order their
	// devices appeared in the request.
	Rejected []string
	// Transient is true if any device dispatch yielded a transient
	// failure; when true Rejected must be ignored by the caller (the
	// caller retries the whole request) rather than acted on.
	Transient bool
}

// Observer receives per-dispatch telemetry. Implementations must be safe
// for concurrent use; the zero value of NopObserver discards everything.
type Observer interface {
	ObserveOutcome(pushkin string, o Outcome)
	ObserveIgnored(appID string)
}

// NopObserver implements Observer by doing nothing.
type NopObserver struct{}

func (NopObserver) ObserveOutcome(string, Outcome) {}
func (NopObserver) ObserveIgnored(string)           {}

// Dispatcher is the Notification Dispatcher (spec §4.1): it resolves each
// device to a pushkin via the Router, fans the dispatches out concurrently
// (bounded only by each pushkin's own Limiter), and collates the outcomes.
type Dispatcher struct {
	router   *Router
	observer Observer
}

// NewDispatcher builds a Dispatcher over router. A nil observer is
// replaced with NopObserver.
func NewDispatcher(router *Router, observer Observer) *Dispatcher {
	if observer == nil {
		observer = NopObserver{}
	}
	return &Dispatcher{router: router, observer: observer}
}

// Dispatch fans n out to every device's pushkin and collates the result.
// ctx governs the whole call: if it is cancelled (e.g. the overall ingress
// timeout fires), all still-pending dispatches are abandoned and their
// permits released by the pushkins themselves. A panic inside a pushkin is
// re-raised on the caller's goroutine once every dispatch has finished.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) Result {
	type slot struct {
		outcome  Outcome
		have     bool
		panicked interface{}
	}
	slots := make([]slot, len(n.Devices))

	g, gctx := errgroup.WithContext(ctx)
	for i, device := range n.Devices {
		i, device := i, device
		pk, ok := d.router.Resolve(device.AppID)
		if !ok {
			d.observer.ObserveIgnored(device.AppID)
			continue
		}
		g.Go(func() error {
			defer func() {
				if rec := recover(); rec != nil {
					slots[i].panicked = rec
				}
			}()
			outcome := pk.Dispatch(gctx, n, device)
			d.observer.ObserveOutcome(pk.Name(), outcome)
			slots[i] = slot{outcome: outcome, have: true}
			return nil
		})
	}
	// errgroup.WithContext only short-circuits on a returned error; none of
	// our goroutines return one, so this simply waits for all of them.
	_ = g.Wait()
	for _, s := range slots {
		if s.panicked != nil {
			panic(s.panicked)
		}
	}

	result := Result{}
	for _, s := range slots {
		if !s.have {
			continue
		}
		if s.outcome.IsTransient() {
			result.Transient = true
			continue
		}
		if s.outcome.IsRejected() {
			result.Rejected = append(result.Rejected, s.outcome.Pushkey())
		}
	}
	if result.Transient {
		result.Rejected = nil
	}
	return result
}
