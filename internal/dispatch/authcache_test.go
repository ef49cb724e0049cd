package dispatch_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/pushgate/internal/dispatch"
	"github.com/tinywideclouds/pushgate/internal/telemetry"
)

type recordingSink struct {
	mu        sync.Mutex
	refreshes []bool
}

func (s *recordingSink) NotificationReceived()              {}
func (s *recordingSink) DeviceDispatched(string)             {}
func (s *recordingSink) Outcome(string, string)              {}
func (s *recordingSink) InFlight(string) func()              { return func() {} }
func (s *recordingSink) HTTPResponse(string)                 {}
func (s *recordingSink) NotifyDuration(string, time.Duration) {}
func (s *recordingSink) Span(string) func()                  { return func() {} }

func (s *recordingSink) TokenRefresh(_ string, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes = append(s.refreshes, success)
}

var _ telemetry.Sink = &recordingSink{}

func TestAuthCache_RefreshesOnFirstGet(t *testing.T) {
	var calls int32
	c := dispatch.NewAuthCache("k", time.Minute, func(context.Context) (string, time.Time, error) {
		atomic.AddInt32(&calls, 1)
		return "tok-1", time.Now().Add(time.Hour), nil
	}, nil)

	v, err := c.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", v)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestAuthCache_ReusesValidCredential(t *testing.T) {
	var calls int32
	c := dispatch.NewAuthCache("k", time.Minute, func(context.Context) (string, time.Time, error) {
		atomic.AddInt32(&calls, 1)
		return "tok-1", time.Now().Add(time.Hour), nil
	}, nil)

	for i := 0; i < 5; i++ {
		_, err := c.Get(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestAuthCache_RefreshesWithinMargin(t *testing.T) {
	var calls int32
	c := dispatch.NewAuthCache("k", time.Minute, func(context.Context) (string, time.Time, error) {
		n := atomic.AddInt32(&calls, 1)
		// Expires almost immediately, well within the one-minute margin.
		return "tok", time.Now().Add(time.Duration(n) * time.Millisecond), nil
	}, nil)

	_, err := c.Get(context.Background())
	require.NoError(t, err)
	_, err = c.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestAuthCache_ConcurrentGetsCoalesceIntoOneRefresh(t *testing.T) {
	var calls int32
	start := make(chan struct{})
	c := dispatch.NewAuthCache("k", time.Minute, func(context.Context) (string, time.Time, error) {
		atomic.AddInt32(&calls, 1)
		<-start
		return "tok", time.Now().Add(time.Hour), nil
	}, nil)

	var wg sync.WaitGroup
	results := make([]string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			v, err := c.Get(context.Background())
			require.NoError(t, err)
			results[i] = v
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, v := range results {
		assert.Equal(t, "tok", v)
	}
}

func TestAuthCache_InvalidateForcesRefresh(t *testing.T) {
	var calls int32
	c := dispatch.NewAuthCache("k", time.Minute, func(context.Context) (string, time.Time, error) {
		atomic.AddInt32(&calls, 1)
		return "tok", time.Now().Add(time.Hour), nil
	}, nil)

	_, err := c.Get(context.Background())
	require.NoError(t, err)
	c.Invalidate()
	_, err = c.Get(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestAuthCache_RefreshErrorPropagates(t *testing.T) {
	wantErr := errors.New("refresh failed")
	c := dispatch.NewAuthCache("k", time.Minute, func(context.Context) (string, time.Time, error) {
		return "", time.Time{}, wantErr
	}, nil)

	_, err := c.Get(context.Background())
	assert.ErrorIs(t, err, wantErr)
}

func TestAuthCache_RecordsTokenRefreshOutcomes(t *testing.T) {
	sink := &recordingSink{}
	wantErr := errors.New("refresh failed")
	attempt := 0
	c := dispatch.NewAuthCache("k", time.Minute, func(context.Context) (string, time.Time, error) {
		attempt++
		if attempt == 1 {
			return "", time.Time{}, wantErr
		}
		return "tok", time.Now().Add(time.Hour), nil
	}, sink)

	_, err := c.Get(context.Background())
	assert.ErrorIs(t, err, wantErr)
	_, err = c.Get(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []bool{false, true}, sink.refreshes)
}
