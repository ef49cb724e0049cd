// Package gcm is the FCM pushkin (spec §4.4): it authenticates via a
// service account's OAuth2 JWT-bearer exchange and sends one HTTP v1
// message per device, classifying the response into the gateway's outcome
// taxonomy.
package gcm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/tinywideclouds/pushgate/internal/dispatch"
	"github.com/tinywideclouds/pushgate/internal/telemetry"
)

// Config configures one FCM-backed app_id.
type Config struct {
	ServiceAccountFile string
	ProjectID          string
	EventIDOnly        bool
}

// Dispatcher is the FCM Unlimited provider logic.
type Dispatcher struct {
	name       string
	httpClient *http.Client
	authCache  *dispatch.AuthCache
	sendURL    string
	eventOnly  bool
	logger     *slog.Logger
}

// NewDispatcher loads the service account key and builds a Dispatcher.
func NewDispatcher(name string, cfg Config, sink telemetry.Sink, logger *slog.Logger) (*Dispatcher, error) {
	raw, err := os.ReadFile(cfg.ServiceAccountFile)
	if err != nil {
		return nil, fmt.Errorf("gcm %s: reading service account file: %w", name, err)
	}
	account, key, err := loadServiceAccount(raw)
	if err != nil {
		return nil, fmt.Errorf("gcm %s: %w", name, err)
	}

	httpClient := &http.Client{Timeout: 15 * time.Second}
	exchanger := newOAuthExchanger(account, key, httpClient)
	authCache := dispatch.NewAuthCache(name, 60*time.Second, exchanger.refresh, sink)

	return &Dispatcher{
		name:       name,
		httpClient: httpClient,
		authCache:  authCache,
		sendURL:    fmt.Sprintf("https://fcm.googleapis.com/v1/projects/%s/messages:send", cfg.ProjectID),
		eventOnly:  cfg.EventIDOnly,
		logger:     logger.With("pushkin", name),
	}, nil
}

func (d *Dispatcher) Name() string { return d.name }

func (d *Dispatcher) Shutdown() {}

type fcmError struct {
	Error struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// DispatchUnlimited sends one device's push and classifies the result
// (spec §4.4's response table). On an auth failure it invalidates the auth
// cache and retries exactly once.
func (d *Dispatcher) DispatchUnlimited(ctx context.Context, n dispatch.Notification, dv dispatch.Device) dispatch.Outcome {
	body, err := buildMessage(n, dv, d.eventOnly)
	if err != nil {
		return dispatch.PermanentConfig("gcm: building message: " + err.Error())
	}

	status, respBody, err := d.send(ctx, body)
	if err != nil {
		return dispatch.TransientProvider("gcm transport: " + err.Error())
	}
	if status == http.StatusOK {
		return acceptedOrCanonicalSwap(respBody, dv.Pushkey)
	}

	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		d.authCache.Invalidate()
		status, respBody, err = d.send(ctx, body)
		if err != nil {
			return dispatch.TransientAuth("gcm retry after token refresh: " + err.Error())
		}
		if status == http.StatusOK {
			return acceptedOrCanonicalSwap(respBody, dv.Pushkey)
		}
	}

	return classify(status, respBody, dv.Pushkey)
}

func (d *Dispatcher) send(ctx context.Context, body []byte) (int, []byte, error) {
	tok, err := d.authCache.Get(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("fetching access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.sendURL, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, respBody, nil
}

// fcmSendResponse is the messages:send success body. canonical_registration_id
// is not part of the documented HTTP v1 response, but the response
// classification rule (spec §4.4) is unconditional on any registration id
// the provider reports back distinct from the sent token, so it is honored
// here if present rather than assumed impossible.
type fcmSendResponse struct {
	Name                    string `json:"name"`
	CanonicalRegistrationID string `json:"canonical_registration_id"`
}

// acceptedOrCanonicalSwap implements the canonical-id swap rule: a 200
// whose body names a registration id distinct from the one dispatched means
// the caller must re-register under the new id, surfaced as a rejection of
// the old pushkey rather than an accept.
func acceptedOrCanonicalSwap(body []byte, pushkey string) dispatch.Outcome {
	var parsed fcmSendResponse
	_ = json.Unmarshal(body, &parsed)
	if parsed.CanonicalRegistrationID != "" && parsed.CanonicalRegistrationID != pushkey {
		return dispatch.Rejected(pushkey)
	}
	return dispatch.Accepted()
}

func classify(status int, body []byte, pushkey string) dispatch.Outcome {
	var parsed fcmError
	_ = json.Unmarshal(body, &parsed)

	switch {
	case status == http.StatusNotFound:
		return dispatch.Rejected(pushkey)
	case status == http.StatusBadRequest:
		switch parsed.Error.Status {
		case "UNREGISTERED", "INVALID_ARGUMENT":
			return dispatch.Rejected(pushkey)
		default:
			return dispatch.PermanentConfig("gcm: " + parsed.Error.Status)
		}
	case status == http.StatusTooManyRequests, status >= 500:
		return dispatch.TransientProvider(fmt.Sprintf("gcm: status %d", status))
	default:
		return dispatch.PermanentConfig(fmt.Sprintf("gcm: unexpected status %d: %s", status, parsed.Error.Status))
	}
}

type fcmMessage struct {
	Message struct {
		Token        string            `json:"token"`
		Data         map[string]string `json:"data,omitempty"`
		Notification *fcmNotification  `json:"notification,omitempty"`
		Android      *androidConfig    `json:"android,omitempty"`
	} `json:"message"`
}

type fcmNotification struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

type androidConfig struct {
	Priority string `json:"priority,omitempty"`
}

func buildMessage(n dispatch.Notification, dv dispatch.Device, eventIDOnly bool) ([]byte, error) {
	var msg fcmMessage
	msg.Message.Token = dv.Pushkey
	msg.Message.Data = map[string]string{
		"event_id": n.EventID,
		"room_id":  n.RoomID,
	}
	priority := "normal"
	if n.Priority() == "high" {
		priority = "high"
	}
	msg.Message.Android = &androidConfig{Priority: priority}

	if !eventIDOnly {
		title := n.SenderDisplayName
		if title == "" {
			title = "New notification"
		}
		msg.Message.Notification = &fcmNotification{Title: title, Body: "New message"}
	}

	return json.Marshal(msg)
}
