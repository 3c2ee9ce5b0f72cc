package session_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/xpay-demo/internal/order"
	"github.com/noah-isme/xpay-demo/internal/poll"
	"github.com/noah-isme/xpay-demo/internal/session"
)

func payout(id string) order.Order {
	return order.Order{ID: id, Type: order.TypePayout, Amount: "5", Symbol: "USDT", Chain: "ETH", Address: "0x1", Status: order.StatusPending}
}

func snapshot(t *testing.T, s *session.Session) session.Snapshot {
	t.Helper()
	snap, err := s.Snapshot()
	require.NoError(t, err)
	return snap
}

func TestPollDrivesDisplayedOrderToTerminal(t *testing.T) {
	var calls int32
	fetch := func(_ context.Context, id string) (poll.Result, error) {
		status := order.StatusPending
		if atomic.AddInt32(&calls, 1) >= 3 {
			status = order.StatusSuccess
		}
		return poll.Result{OrderID: id, Status: status, TxID: "0xfeed"}, nil
	}
	s := session.New(context.Background(), "s1", poll.Poller{Interval: time.Millisecond, Fetch: fetch}, clock.New(), zerolog.Nop())
	defer s.Close()

	require.NoError(t, s.Show(payout("payout-1")))
	require.Eventually(t, func() bool {
		snap := snapshot(t, s)
		return snap.Order.Status == order.StatusSuccess && !snap.Polling
	}, 2*time.Second, 5*time.Millisecond)

	snap := snapshot(t, s)
	require.Equal(t, "0xfeed", snap.Order.TxID)
	require.Equal(t, "0xfeed", snap.TxIDDisplay)
	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestSnapshotTruncatesLongTxID(t *testing.T) {
	s := session.New(context.Background(), "s1", poll.Poller{}, clock.New(), zerolog.Nop())
	defer s.Close()

	o := payout("payout-1")
	o.Status = order.StatusSuccess
	o.TxID = "0x9f2c4e6a8b0d1f3e5a7c9b1d3f5e7a9c"
	require.NoError(t, s.Show(o))

	snap := snapshot(t, s)
	require.Equal(t, o.TxID, snap.Order.TxID)
	require.Equal(t, "0x9f2c4e...3f5e7a9c", snap.TxIDDisplay)
}

func TestSecondShowCancelsFirstPoll(t *testing.T) {
	var mu sync.Mutex
	fetched := map[string]int{}
	fetch := func(_ context.Context, id string) (poll.Result, error) {
		mu.Lock()
		fetched[id]++
		mu.Unlock()
		return poll.Result{OrderID: id, Status: order.StatusPendingConfirmation}, nil
	}
	count := func(id string) int {
		mu.Lock()
		defer mu.Unlock()
		return fetched[id]
	}
	s := session.New(context.Background(), "s2", poll.Poller{Interval: time.Millisecond, Fetch: fetch}, clock.New(), zerolog.Nop())
	defer s.Close()

	updates, unsubscribe, err := s.Subscribe()
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, s.Show(payout("first")))
	require.Eventually(t, func() bool { return count("first") > 0 }, time.Second, time.Millisecond)

	require.NoError(t, s.Show(payout("second")))
	firstAfterSwitch := count("first")

	// drain everything delivered up to the switch
	seenSecond := false
	for !seenSecond {
		select {
		case u := <-updates:
			seenSecond = u.Order != nil && u.Order.ID == "second"
		case <-time.After(time.Second):
			t.Fatal("second order was never announced")
		}
	}

	require.Eventually(t, func() bool { return count("second") > 2 }, time.Second, time.Millisecond)
	require.Equal(t, firstAfterSwitch, count("first"), "first poll must be cancelled, not ignored")

	for {
		select {
		case u := <-updates:
			require.Equal(t, "second", u.Order.ID)
		default:
			require.Equal(t, "second", snapshot(t, s).Order.ID)
			return
		}
	}
}

func TestCountdownExpiryMarksOrderExpired(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Unix(1700000000, 0))
	fetch := func(_ context.Context, id string) (poll.Result, error) {
		return poll.Result{OrderID: id, Status: order.StatusPending}, nil
	}
	s := session.New(context.Background(), "s3", poll.Poller{Interval: time.Hour, Fetch: fetch}, mock, zerolog.Nop())
	defer s.Close()

	o := order.Order{ID: "order-1", Type: order.TypeCollection, Status: order.StatusPending, ExpiresAt: mock.Now().Add(2 * time.Second)}
	require.NoError(t, s.Show(o))
	snap := snapshot(t, s)
	require.True(t, snap.Polling)
	require.Equal(t, int64(2), snap.Remaining)

	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		snap := snapshot(t, s)
		return snap.Order.Status == order.StatusExpired
	}, 2*time.Second, 5*time.Millisecond)

	snap = snapshot(t, s)
	require.False(t, snap.Polling, "expiry stops the poll")
	require.Equal(t, "00:00:00", snap.Countdown)
}

func TestApplyOnlyTouchesDisplayedOrder(t *testing.T) {
	s := session.New(context.Background(), "s4", poll.Poller{}, clock.New(), zerolog.Nop())
	defer s.Close()

	changed, err := s.Apply("nothing-shown", order.StatusSuccess, "")
	require.NoError(t, err)
	require.False(t, changed)

	require.NoError(t, s.Show(payout("payout-9")))
	changed, err = s.Apply("other", order.StatusSuccess, "")
	require.NoError(t, err)
	require.False(t, changed)

	changed, err = s.Apply("payout-9", order.StatusSuccess, "0xabc")
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = s.Apply("payout-9", order.StatusFailed, "")
	require.NoError(t, err)
	require.False(t, changed, "terminal status is frozen")

	snap := snapshot(t, s)
	require.Equal(t, order.StatusSuccess, snap.Order.Status)
	require.Equal(t, "0xabc", snap.Order.TxID)
}

func TestCloseReleasesEverything(t *testing.T) {
	fetch := func(ctx context.Context, id string) (poll.Result, error) {
		return poll.Result{OrderID: id, Status: order.StatusPending}, nil
	}
	s := session.New(context.Background(), "s5", poll.Poller{Interval: time.Millisecond, Fetch: fetch}, clock.New(), zerolog.Nop())

	updates, _, err := s.Subscribe()
	require.NoError(t, err)
	require.NoError(t, s.Show(order.Order{ID: "o", Type: order.TypeCollection, Status: order.StatusPending, ExpiresAt: time.Now().Add(time.Hour)}))

	s.Close()
	s.Close()

	for range updates {
	}
	_, err = s.Snapshot()
	require.ErrorIs(t, err, session.ErrClosed)
	require.ErrorIs(t, s.Show(payout("late")), session.ErrClosed)
}

func TestClearForgetsOrder(t *testing.T) {
	s := session.New(context.Background(), "s6", poll.Poller{}, clock.New(), zerolog.Nop())
	defer s.Close()

	require.NoError(t, s.Show(payout("p")))
	require.NoError(t, s.Clear())
	require.Nil(t, snapshot(t, s).Order)
}
