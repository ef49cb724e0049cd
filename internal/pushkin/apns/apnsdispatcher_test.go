package apns

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/sideshow/apns2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/pushgate/internal/dispatch"
)

type mockPusher struct {
	mock.Mock
}

func (m *mockPusher) PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error) {
	args := m.Called(ctx, n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*apns2.Response), args.Error(1)
}

func newTestDispatcher(client pusher) *Dispatcher {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	authCache := dispatch.NewAuthCache("test", time.Minute, func(context.Context) (string, time.Time, error) {
		return "test-token", time.Now().Add(time.Hour), nil
	}, nil)
	return &Dispatcher{name: "apns-test", client: client, authCache: authCache, topic: "com.example.ios", logger: logger}
}

func testNotification() dispatch.Notification {
	return dispatch.Notification{EventID: "$abc", RoomID: "!room", SenderDisplayName: "Alice"}
}

func TestDispatchUnlimited_Accepted(t *testing.T) {
	client := new(mockPusher)
	d := newTestDispatcher(client)

	client.On("PushWithContext", mock.Anything, mock.MatchedBy(func(n *apns2.Notification) bool {
		return n.DeviceToken == "device-1" && n.Topic == "com.example.ios"
	})).Return(&apns2.Response{StatusCode: http.StatusOK}, nil)

	outcome := d.DispatchUnlimited(context.Background(), testNotification(), dispatch.Device{AppID: "com.example.ios", Pushkey: "device-1"})

	assert.True(t, outcome.IsAccepted())
	client.AssertExpectations(t)
}

func TestDispatchUnlimited_BadDeviceTokenIsRejected(t *testing.T) {
	client := new(mockPusher)
	d := newTestDispatcher(client)

	client.On("PushWithContext", mock.Anything, mock.Anything).Return(&apns2.Response{
		StatusCode: http.StatusBadRequest,
		Reason:     apns2.ReasonBadDeviceToken,
	}, nil)

	outcome := d.DispatchUnlimited(context.Background(), testNotification(), dispatch.Device{AppID: "com.example.ios", Pushkey: "dead-token"})

	require.True(t, outcome.IsRejected())
	assert.Equal(t, "dead-token", outcome.Pushkey())
}

func TestDispatchUnlimited_TransportErrorIsTransient(t *testing.T) {
	client := new(mockPusher)
	d := newTestDispatcher(client)

	client.On("PushWithContext", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset"))

	outcome := d.DispatchUnlimited(context.Background(), testNotification(), dispatch.Device{AppID: "com.example.ios", Pushkey: "device-1"})

	assert.True(t, outcome.IsTransient())
}

func TestDispatchUnlimited_ExpiredProviderTokenRetriesOnce(t *testing.T) {
	client := new(mockPusher)
	d := newTestDispatcher(client)

	client.On("PushWithContext", mock.Anything, mock.Anything).Return(&apns2.Response{
		StatusCode: http.StatusForbidden,
		Reason:     apns2.ReasonExpiredProviderToken,
	}, nil).Once()
	client.On("PushWithContext", mock.Anything, mock.Anything).Return(&apns2.Response{StatusCode: http.StatusOK}, nil).Once()

	outcome := d.DispatchUnlimited(context.Background(), testNotification(), dispatch.Device{AppID: "com.example.ios", Pushkey: "device-1"})

	assert.True(t, outcome.IsAccepted())
	client.AssertNumberOfCalls(t, "PushWithContext", 2)
}

func TestDispatchUnlimited_PayloadTooLargeIsOperatorConfig(t *testing.T) {
	client := new(mockPusher)
	d := newTestDispatcher(client)

	client.On("PushWithContext", mock.Anything, mock.Anything).Return(&apns2.Response{
		StatusCode: http.StatusRequestEntityTooLarge,
		Reason:     apns2.ReasonPayloadTooLarge,
	}, nil)

	outcome := d.DispatchUnlimited(context.Background(), testNotification(), dispatch.Device{AppID: "com.example.ios", Pushkey: "device-1"})

	assert.True(t, outcome.IsOperatorAttention())
}
