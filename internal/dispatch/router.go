package dispatch

import (
	"fmt"

	"github.com/gobwas/glob"
)

// Router maps an incoming app_id to the one configured Pushkin that should
// handle it. Entries are loaded once at startup and are immutable
// thereafter (spec §3 lifecycles).
type Router struct {
	exact map[string]Pushkin
	globs []globRoute
}

type globRoute struct {
	pattern glob.Glob
	pushkin Pushkin
}

// NewRouter builds an empty router; use Register to populate it.
func NewRouter() *Router {
	return &Router{exact: make(map[string]Pushkin)}
}

// Register binds an app_id_pattern to a pushkin. A pattern with no glob
// metacharacters is treated as an exact match and takes priority over any
// glob route at lookup time, matching spec §3's "exact string or
// glob-style match" and sygnal's "exact id wins" semantics.
func (r *Router) Register(appIDPattern string, p Pushkin) error {
	if !containsGlobMeta(appIDPattern) {
		if _, exists := r.exact[appIDPattern]; exists {
			return fmt.Errorf("duplicate app_id_pattern %q", appIDPattern)
		}
		r.exact[appIDPattern] = p
		return nil
	}
	g, err := glob.Compile(appIDPattern)
	if err != nil {
		return fmt.Errorf("invalid app_id_pattern %q: %w", appIDPattern, err)
	}
	r.globs = append(r.globs, globRoute{pattern: g, pushkin: p})
	return nil
}

// Resolve returns the pushkin for appID, or ok=false if no pushkin matches
// (spec §4.1 step 2: the device is silently ignored, not rejected).
func (r *Router) Resolve(appID string) (Pushkin, bool) {
	if p, ok := r.exact[appID]; ok {
		return p, true
	}
	for _, route := range r.globs {
		if route.pattern.Match(appID) {
			return route.pushkin, true
		}
	}
	return nil, false
}

func containsGlobMeta(s string) bool {
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '{', '}':
			return true
		}
	}
	return false
}
