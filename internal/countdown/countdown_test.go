package countdown_test

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/xpay-demo/internal/countdown"
)

func next(t *testing.T, h *countdown.Handle) (countdown.Tick, bool) {
	t.Helper()
	select {
	case tick, ok := <-h.Ticks():
		return tick, ok
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tick")
		return countdown.Tick{}, false
	}
}

func TestCountdownFiveSeconds(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Unix(1700000000, 0))
	h := countdown.Start(context.Background(), mock, mock.Now().Add(5*time.Second))
	defer h.Stop()

	var remaining []int64
	for {
		tick, ok := next(t, h)
		require.True(t, ok, "channel closed before expiry")
		require.False(t, tick.Expired)
		remaining = append(remaining, tick.Remaining)
		if tick.Remaining == 0 {
			break
		}
		mock.Add(time.Second)
	}
	require.Equal(t, []int64{5, 4, 3, 2, 1, 0}, remaining)

	tick, ok := next(t, h)
	require.True(t, ok)
	require.True(t, tick.Expired)

	_, ok = next(t, h)
	require.False(t, ok, "expiry must fire exactly once")
}

func TestCountdownAlreadyExpired(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Unix(1700000000, 0))
	h := countdown.Start(context.Background(), mock, mock.Now().Add(-time.Minute))

	tick, ok := next(t, h)
	require.True(t, ok)
	require.Equal(t, countdown.Tick{Remaining: 0}, tick)

	tick, ok = next(t, h)
	require.True(t, ok)
	require.True(t, tick.Expired)

	_, ok = next(t, h)
	require.False(t, ok)
	<-h.Done()
}

func TestCountdownStopReleasesTimer(t *testing.T) {
	mock := clock.NewMock()
	h := countdown.Start(context.Background(), mock, mock.Now().Add(time.Hour))

	tick, ok := next(t, h)
	require.True(t, ok)
	require.Equal(t, int64(3600), tick.Remaining)

	h.Stop()
	_, ok = <-h.Ticks()
	require.False(t, ok)
	h.Stop()
}

func TestRemainingClampsToZero(t *testing.T) {
	now := time.Unix(100, 0)
	require.Equal(t, int64(0), countdown.Remaining(now.Add(-time.Second), now))
	require.Equal(t, int64(1), countdown.Remaining(now.Add(1999*time.Millisecond), now))
}

func TestFormat(t *testing.T) {
	require.Equal(t, "00:00:00", countdown.Format(0))
	require.Equal(t, "00:00:00", countdown.Format(-5))
	require.Equal(t, "00:01:05", countdown.Format(65))
	require.Equal(t, "02:00:01", countdown.Format(7201))
}
