// Package apns is the APNs pushkin (spec §4.3): it signs its own ES256
// provider tokens, sends one HTTP/2 request per device via sideshow/apns2,
// and classifies the provider's response into the gateway's outcome
// taxonomy.
package apns

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/sideshow/apns2"

	"github.com/tinywideclouds/pushgate/internal/dispatch"
	"github.com/tinywideclouds/pushgate/internal/telemetry"
	"github.com/tinywideclouds/pushgate/internal/transport"
)

// pusher is the subset of *apns2.Client used here, mocked in tests.
type pusher interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

// Config configures one APNs-backed app_id.
type Config struct {
	KeyFile     string // path to the .p8 token-signing key
	KeyID       string
	TeamID      string
	Topic       string // APNs topic, normally the app's bundle ID
	Sandbox     bool
	EventIDOnly bool
}

// Dispatcher is the APNs Unlimited provider logic; wrap it in a
// dispatch.ConcurrencyLimitedPushkin to get the full dispatch.Pushkin.
type Dispatcher struct {
	name      string
	client    pusher
	authCache *dispatch.AuthCache
	topic     string
	eventOnly bool
	logger    *slog.Logger
}

// NewDispatcher loads the provider key and builds a Dispatcher. It fails
// fast if the key file is missing or malformed, matching the teacher's
// fail-on-construction posture for bad credentials.
func NewDispatcher(name string, cfg Config, sink telemetry.Sink, logger *slog.Logger) (*Dispatcher, error) {
	keyPEM, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("apns %s: reading key file: %w", name, err)
	}
	sgn, err := newSigner(cfg.KeyID, cfg.TeamID, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("apns %s: %w", name, err)
	}

	authCache := dispatch.NewAuthCache(name, 5*time.Minute, sgn.refresh, sink)

	baseClient, err := transport.NewClient(transport.Options{HTTP2: true})
	if err != nil {
		return nil, fmt.Errorf("apns %s: %w", name, err)
	}
	httpClient := &http.Client{
		Transport: &authRoundTripper{cache: authCache, under: baseClient.Transport},
	}
	host := apns2.HostProduction
	if cfg.Sandbox {
		host = apns2.HostDevelopment
	}
	client := &apns2.Client{HTTPClient: httpClient, Host: host}

	return &Dispatcher{
		name:      name,
		client:    client,
		authCache: authCache,
		topic:     cfg.Topic,
		eventOnly: cfg.EventIDOnly,
		logger:    logger.With("pushkin", name),
	}, nil
}

func (d *Dispatcher) Name() string { return d.name }

func (d *Dispatcher) Shutdown() {}

// DispatchUnlimited sends one device's push and classifies the result
// (spec §4.3's response table). On ExpiredProviderToken it invalidates the
// auth cache and retries exactly once before giving up.
func (d *Dispatcher) DispatchUnlimited(ctx context.Context, n dispatch.Notification, dv dispatch.Device) dispatch.Outcome {
	payload := buildPayload(n, dv, d.eventOnly)
	payload = truncate(payload, MaxPayloadBytes)

	note := &apns2.Notification{
		DeviceToken: dv.Pushkey,
		Topic:       d.topic,
		Payload:     payload,
		PushType:    apns2.PushTypeAlert,
		Priority:    priorityFor(n.Priority()),
	}
	if d.eventOnly {
		note.PushType = apns2.PushTypeBackground
	}

	res, err := d.client.PushWithContext(ctx, note)
	if err != nil {
		return dispatch.TransientProvider("apns transport: " + err.Error())
	}
	if res.Sent() {
		return dispatch.Accepted()
	}

	switch res.Reason {
	case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
		return dispatch.Rejected(dv.Pushkey)
	case apns2.ReasonExpiredProviderToken, apns2.ReasonInvalidProviderToken:
		d.authCache.Invalidate()
		retryRes, retryErr := d.client.PushWithContext(ctx, note)
		if retryErr != nil {
			return dispatch.TransientAuth("apns retry after token refresh: " + retryErr.Error())
		}
		if retryRes.Sent() {
			return dispatch.Accepted()
		}
		return dispatch.TransientAuth("apns still rejecting after token refresh: " + retryRes.Reason)
	case apns2.ReasonPayloadTooLarge, apns2.ReasonBadTopic, apns2.ReasonTopicDisallowed:
		return dispatch.PermanentConfig("apns: " + res.Reason)
	case apns2.ReasonTooManyRequests:
		return dispatch.TransientProvider("apns rate limited")
	default:
		if res.StatusCode >= 500 {
			return dispatch.TransientProvider("apns: " + res.Reason)
		}
		return dispatch.PermanentConfig("apns: " + res.Reason)
	}
}

func priorityFor(p string) int {
	if p == "low" {
		return apns2.PriorityLow
	}
	return apns2.PriorityHigh
}

// authRoundTripper injects a freshly-cached provider bearer token onto
// every outbound request, which is what lets the generic dispatch.AuthCache
// (rather than apns2's own token.Token) own the refresh/single-flight logic.
type authRoundTripper struct {
	cache *dispatch.AuthCache
	under http.RoundTripper
}

func (rt *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	tok, err := rt.cache.Get(req.Context())
	if err != nil {
		return nil, fmt.Errorf("apns: fetching provider token: %w", err)
	}
	req.Header.Set("authorization", "bearer "+tok)
	return rt.under.RoundTrip(req)
}
