package poll_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/xpay-demo/internal/order"
	"github.com/noah-isme/xpay-demo/internal/poll"
)

func scripted(statuses ...order.Status) (poll.FetchFunc, *int32) {
	var calls int32
	return func(_ context.Context, orderID string) (poll.Result, error) {
		n := atomic.AddInt32(&calls, 1)
		idx := int(n) - 1
		if idx >= len(statuses) {
			idx = len(statuses) - 1
		}
		return poll.Result{OrderID: orderID, Status: statuses[idx]}, nil
	}, &calls
}

func drain(t *testing.T, h *poll.Handle) []poll.Result {
	t.Helper()
	var out []poll.Result
	timeout := time.After(2 * time.Second)
	for {
		select {
		case res, ok := <-h.Updates():
			if !ok {
				return out
			}
			out = append(out, res)
		case <-timeout:
			t.Fatalf("poll did not finish, got %d results", len(out))
		}
	}
}

func TestPollerStopsAfterTerminalStatus(t *testing.T) {
	fetch, calls := scripted(order.StatusPending, order.StatusPending, order.StatusSuccess)
	p := poll.Poller{Interval: time.Millisecond, Fetch: fetch, Logger: zerolog.Nop()}

	h := p.Start(context.Background(), "order-1")
	results := drain(t, h)

	require.Len(t, results, 3)
	require.Equal(t, order.StatusSuccess, results[2].Status)
	require.Equal(t, "order-1", results[0].OrderID)

	<-h.Done()
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, int32(3), atomic.LoadInt32(calls), "no fetch may follow a terminal result")
}

func TestPollerSwallowsFetchErrors(t *testing.T) {
	var calls int32
	fetch := func(_ context.Context, orderID string) (poll.Result, error) {
		switch atomic.AddInt32(&calls, 1) {
		case 1, 2:
			return poll.Result{}, errors.New("gateway unavailable")
		default:
			return poll.Result{OrderID: orderID, Status: order.StatusFailed}, nil
		}
	}
	p := poll.Poller{Interval: time.Millisecond, Fetch: fetch, Logger: zerolog.Nop()}

	results := drain(t, p.Start(context.Background(), "order-2"))
	require.Len(t, results, 1)
	require.Equal(t, order.StatusFailed, results[0].Status)
	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestPollerDeliversNothingAfterStop(t *testing.T) {
	entered := make(chan struct{})
	fetch := func(ctx context.Context, orderID string) (poll.Result, error) {
		close(entered)
		<-ctx.Done()
		return poll.Result{OrderID: orderID, Status: order.StatusSuccess}, nil
	}
	p := poll.Poller{Interval: time.Millisecond, Fetch: fetch, Logger: zerolog.Nop()}

	h := p.Start(context.Background(), "order-3")
	<-entered
	h.Stop()

	_, ok := <-h.Updates()
	require.False(t, ok, "updates must be closed without delivering the in-flight result")
	h.Stop()
}

func TestPollerStopsWithParentContext(t *testing.T) {
	fetch, calls := scripted(order.StatusPending)
	ctx, cancel := context.WithCancel(context.Background())
	p := poll.Poller{Interval: time.Hour, Fetch: fetch, Logger: zerolog.Nop()}

	h := p.Start(ctx, "order-4")
	cancel()

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("poll did not stop on context cancellation")
	}
	require.Zero(t, atomic.LoadInt32(calls))
}

func TestNilHandleIsInert(t *testing.T) {
	var h *poll.Handle
	require.Nil(t, h.Updates())
	require.Equal(t, "", h.OrderID())
	h.Stop()
}
