// Package webpush is the Web Push pushkin (spec §4.5): RFC 8291 message
// encryption and VAPID signing are delegated to SherClockHolmes/webpush-go;
// this package supplies the domain payload, endpoint allow-listing, and
// response classification.
package webpush

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	webpushgo "github.com/SherClockHolmes/webpush-go"

	"github.com/tinywideclouds/pushgate/internal/dispatch"
)

// Config configures one WebPush-backed app_id.
type Config struct {
	VAPIDPrivateKey  string
	VAPIDPublicKey   string
	VAPIDContactURI  string
	AllowedEndpoints []string
	EventIDOnly      bool
}

// Dispatcher is the WebPush Unlimited provider logic.
type Dispatcher struct {
	name       string
	privateKey string
	publicKey  string
	subscriber string
	allowed    []string
	eventOnly  bool
	httpClient *http.Client
	logger     *slog.Logger
}

// NewDispatcher builds a Dispatcher. Unlike APNs/FCM, WebPush needs no auth
// cache: VAPID signatures are self-contained JWTs webpush-go mints per send.
func NewDispatcher(name string, cfg Config, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		name:       name,
		privateKey: cfg.VAPIDPrivateKey,
		publicKey:  cfg.VAPIDPublicKey,
		subscriber: cfg.VAPIDContactURI,
		allowed:    cfg.AllowedEndpoints,
		eventOnly:  cfg.EventIDOnly,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With("pushkin", name),
	}
}

func (d *Dispatcher) Name() string { return d.name }

func (d *Dispatcher) Shutdown() {}

// DispatchUnlimited sends one device's push and classifies the result
// (spec §4.5's response table). Endpoints outside the configured allow-list
// are rejected before any network call, matching sygnal's endpoint
// allow-list check.
func (d *Dispatcher) DispatchUnlimited(ctx context.Context, n dispatch.Notification, dv dispatch.Device) dispatch.Outcome {
	var sub struct {
		Endpoint string `json:"endpoint"`
		Keys     struct {
			P256dh string `json:"p256dh"`
			Auth   string `json:"auth"`
		} `json:"keys"`
	}
	if err := json.Unmarshal(dv.Data, &sub); err != nil {
		return dispatch.Rejected(dv.Pushkey)
	}

	if !d.endpointAllowed(sub.Endpoint) {
		return dispatch.PermanentConfig("webpush: endpoint not in allowed_endpoints")
	}

	payload, err := buildPayload(n, d.eventOnly)
	if err != nil {
		return dispatch.PermanentConfig("webpush: building payload: " + err.Error())
	}

	resp, err := webpushgo.SendNotification(payload, &webpushgo.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpushgo.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}, &webpushgo.Options{
		Subscriber:      d.subscriber,
		VAPIDPublicKey:  d.publicKey,
		VAPIDPrivateKey: d.privateKey,
		TTL:             60,
		HTTPClient:      d.httpClient,
	})
	if err != nil {
		return dispatch.TransientProvider("webpush transport: " + err.Error())
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK:
		return dispatch.Accepted()
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return dispatch.Rejected(dv.Pushkey)
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		d.logger.Error("webpush payload too large for endpoint", "endpoint", sub.Endpoint)
		return dispatch.TransientProvider("webpush: payload too large")
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return dispatch.TransientProvider(fmt.Sprintf("webpush: status %d", resp.StatusCode))
	default:
		return dispatch.PermanentConfig(fmt.Sprintf("webpush: unexpected status %d", resp.StatusCode))
	}
}

func (d *Dispatcher) endpointAllowed(endpoint string) bool {
	if len(d.allowed) == 0 {
		return true
	}
	for _, prefix := range d.allowed {
		if strings.HasPrefix(endpoint, prefix) {
			return true
		}
	}
	return false
}

func buildPayload(n dispatch.Notification, eventIDOnly bool) ([]byte, error) {
	body := map[string]interface{}{
		"notification": map[string]interface{}{
			"event_id": n.EventID,
			"room_id":  n.RoomID,
		},
	}
	if !eventIDOnly {
		notif := body["notification"].(map[string]interface{})
		if n.SenderDisplayName != "" {
			notif["title"] = n.SenderDisplayName
		}
		notif["body"] = "New message"
	}
	return json.Marshal(body)
}
