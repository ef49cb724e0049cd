package apns

import (
	"encoding/json"

	"github.com/tinywideclouds/pushgate/internal/dispatch"
)

// MaxPayloadBytes is the APNs HTTP/2 payload ceiling; exceeding it yields a
// PayloadTooLarge rejection from the provider.
const MaxPayloadBytes = 4096

// aps mirrors the subset of the Apple payload structure the gateway builds.
// It is marshalled as the top-level "aps" key.
type aps struct {
	Alert            *alert `json:"alert,omitempty"`
	Badge            *int   `json:"badge,omitempty"`
	Sound            string `json:"sound,omitempty"`
	ContentAvailable int    `json:"content-available,omitempty"`
	MutableContent   int    `json:"mutable-content,omitempty"`
}

type alert struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

// buildPayload constructs the JSON APNs payload for one device dispatch. In
// event_id_only mode the push carries no readable content, matching the
// "content hiding" app_id convention described in spec §3.
func buildPayload(n dispatch.Notification, d dispatch.Device, eventIDOnly bool) map[string]interface{} {
	a := &aps{}

	if eventIDOnly {
		a.ContentAvailable = 1
	} else {
		a.Alert = alertFor(n)
		if n.Counts.Unread > 0 {
			badge := n.Counts.Unread
			a.Badge = &badge
		}
		if d.Tweaks.Sound != "" {
			a.Sound = d.Tweaks.Sound
		} else if n.Type != "" {
			a.Sound = "default"
		}
	}

	payload := map[string]interface{}{"aps": a}
	payload["event_id"] = n.EventID
	payload["room_id"] = n.RoomID
	if eventIDOnly {
		payload["unread"] = n.Counts.Unread
		payload["missed_calls"] = n.Counts.MissedCalls
	}
	return payload
}

func alertFor(n dispatch.Notification) *alert {
	switch {
	case n.Type == "m.room.message" && n.SenderDisplayName != "":
		title := n.SenderDisplayName
		if n.RoomName != "" {
			title = n.SenderDisplayName + " (" + n.RoomName + ")"
		}
		return &alert{Title: title, Body: "New message"}
	case n.SenderDisplayName != "":
		return &alert{Title: n.SenderDisplayName, Body: "Notification"}
	default:
		return &alert{Body: "New notification"}
	}
}

// truncate shortens payload's aps.alert.body, one rune at a time, until the
// JSON encoding fits within maxLen. Ported from sygnal's apnstruncate.py:
// only the alert body is choppable in the shapes this gateway produces.
func truncate(payload map[string]interface{}, maxLen int) map[string]interface{} {
	if encodedLen(payload) <= maxLen {
		return payload
	}
	apsVal, ok := payload["aps"].(*aps)
	if !ok || apsVal.Alert == nil {
		return payload
	}
	body := []rune(apsVal.Alert.Body)
	for len(body) > 0 && encodedLen(payload) > maxLen {
		body = body[:len(body)-1]
		apsVal.Alert.Body = string(body)
	}
	return payload
}

func encodedLen(payload map[string]interface{}) int {
	b, err := json.Marshal(payload)
	if err != nil {
		return 0
	}
	return len(b)
}
