package gcm

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/pushgate/internal/dispatch"
)

func newTestDispatcher(t *testing.T, handler http.HandlerFunc) (*Dispatcher, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	authCache := dispatch.NewAuthCache("test", time.Minute, func(context.Context) (string, time.Time, error) {
		return "test-access-token", time.Now().Add(time.Hour), nil
	}, nil)
	d := &Dispatcher{
		name:       "gcm-test",
		httpClient: server.Client(),
		authCache:  authCache,
		sendURL:    server.URL + "/send",
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return d, server
}

func testNotification() dispatch.Notification {
	return dispatch.Notification{EventID: "$abc", RoomID: "!room", SenderDisplayName: "Alice"}
}

func TestDispatchUnlimited_Accepted(t *testing.T) {
	d, _ := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-access-token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"name":"projects/p/messages/1"}`))
	})

	outcome := d.DispatchUnlimited(context.Background(), testNotification(), dispatch.Device{AppID: "com.example.android", Pushkey: "token-1"})

	assert.True(t, outcome.IsAccepted())
}

func TestDispatchUnlimited_UnregisteredIsRejected(t *testing.T) {
	d, _ := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"status":"UNREGISTERED","message":"not found"}}`))
	})

	outcome := d.DispatchUnlimited(context.Background(), testNotification(), dispatch.Device{AppID: "com.example.android", Pushkey: "dead-token"})

	require.True(t, outcome.IsRejected())
	assert.Equal(t, "dead-token", outcome.Pushkey())
}

func TestDispatchUnlimited_NotFoundIsRejected(t *testing.T) {
	d, _ := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	outcome := d.DispatchUnlimited(context.Background(), testNotification(), dispatch.Device{AppID: "com.example.android", Pushkey: "gone-token"})

	assert.True(t, outcome.IsRejected())
}

func TestDispatchUnlimited_ServerErrorIsTransient(t *testing.T) {
	d, _ := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	outcome := d.DispatchUnlimited(context.Background(), testNotification(), dispatch.Device{AppID: "com.example.android", Pushkey: "token-1"})

	assert.True(t, outcome.IsTransient())
}

func TestDispatchUnlimited_CanonicalIDSwapIsRejected(t *testing.T) {
	d, _ := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"name":"projects/p/messages/1","canonical_registration_id":"NEW"}`))
	})

	outcome := d.DispatchUnlimited(context.Background(), testNotification(), dispatch.Device{AppID: "com.example.android", Pushkey: "OLD"})

	require.True(t, outcome.IsRejected())
	assert.Equal(t, "OLD", outcome.Pushkey())
}

func TestDispatchUnlimited_UnauthorizedRetriesOnce(t *testing.T) {
	calls := 0
	d, _ := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	outcome := d.DispatchUnlimited(context.Background(), testNotification(), dispatch.Device{AppID: "com.example.android", Pushkey: "token-1"})

	assert.True(t, outcome.IsAccepted())
	assert.Equal(t, 2, calls)
}
