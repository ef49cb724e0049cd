package dispatch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tinywideclouds/pushgate/internal/telemetry"
)

// RefreshFunc performs the network call that produces a fresh credential
// value and the instant at which it expires.
type RefreshFunc func(ctx context.Context) (value string, expiresAt time.Time, err error)

// AuthCache is a short-lived credential manager for one pushkin identity.
// It holds the current value and expiry under a mutex and coalesces
// concurrent refreshes through a singleflight.Group — the "request a
// coalescing future" realization spec §9 calls for, rather than a hand
// rolled condition variable.
type AuthCache struct {
	mu      sync.RWMutex
	value   string
	expires time.Time
	margin  time.Duration

	group singleflight.Group
	key   string
	fresh RefreshFunc
	sink  telemetry.Sink
}

// NewAuthCache builds a cache that refreshes margin before the credential's
// reported expiry. Each AuthCache owns its singleflight.Group; key names
// the coalesced refresh call and labels the cache's TokenRefresh telemetry
// (callers pass the pushkin name). sink records every
// refresh attempt (spec §6's "token refresh attempts/failures" counter); a
// nil sink is replaced with a no-op.
func NewAuthCache(key string, margin time.Duration, refresh RefreshFunc, sink telemetry.Sink) *AuthCache {
	if sink == nil {
		sink = telemetry.Noop{}
	}
	return &AuthCache{key: key, margin: margin, fresh: refresh, sink: sink}
}

// Get returns a currently-valid credential, refreshing it first if absent
// or within the refresh margin of expiry. Concurrent callers that land on
// an in-progress refresh all observe the single refresher's result.
func (c *AuthCache) Get(ctx context.Context) (string, error) {
	if v, ok := c.currentIfValid(); ok {
		return v, nil
	}

	result, err, _ := c.group.Do(c.key, func() (interface{}, error) {
		// Re-check under the singleflight call: another goroutine may have
		// completed a refresh between our fast-path check and landing here.
		if v, ok := c.currentIfValid(); ok {
			return v, nil
		}
		value, expiresAt, err := c.fresh(ctx)
		c.sink.TokenRefresh(c.key, err == nil)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.value = value
		c.expires = expiresAt
		c.mu.Unlock()
		return value, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// Invalidate forces the next Get to refresh, used when a provider reports
// the credential expired mid-flight (spec §4.3/§4.4's "retry once" path).
func (c *AuthCache) Invalidate() {
	c.mu.Lock()
	c.expires = time.Time{}
	c.mu.Unlock()
}

func (c *AuthCache) currentIfValid() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.value == "" {
		return "", false
	}
	if time.Now().Add(c.margin).After(c.expires) {
		return "", false
	}
	return c.value, true
}
