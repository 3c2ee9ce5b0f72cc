package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/noah-isme/xpay-demo/internal/countdown"
	"github.com/noah-isme/xpay-demo/internal/order"
	"github.com/noah-isme/xpay-demo/internal/poll"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session closed")

// Update kinds delivered to subscribers.
const (
	KindOrder   = "order"
	KindTick    = "tick"
	KindExpired = "expired"
	KindCleared = "cleared"
)

const subscriberBuffer = 16

// Update is one change pushed to subscribers.
type Update struct {
	Kind        string       `json:"kind"`
	Order       *order.Order `json:"order,omitempty"`
	TxIDDisplay string       `json:"txidDisplay,omitempty"`
	Remaining   int64        `json:"remaining"`
	Countdown   string       `json:"countdown,omitempty"`
}

// Snapshot is the displayed state of a session.
type Snapshot struct {
	Order       *order.Order `json:"order"`
	TxIDDisplay string       `json:"txidDisplay,omitempty"`
	Remaining   int64        `json:"remaining"`
	Countdown   string       `json:"countdown"`
	Polling     bool         `json:"polling"`
}

// Session owns the displayed order together with its status poll and
// countdown. All state lives in a single goroutine; public methods hand work
// to it and wait for the result.
type Session struct {
	id     string
	poller poll.Poller
	clock  clock.Clock
	logger zerolog.Logger

	cmds   chan func(*state)
	cancel context.CancelFunc
	done   chan struct{}

	lastSeen    atomic.Int64
	subscribers atomic.Int32
	closeOnce   sync.Once
}

type state struct {
	order     *order.Order
	poll      *poll.Handle
	countdown *countdown.Handle
	remaining int64
	subs      map[int]chan Update
	nextSub   int
}

// New starts a session event loop. It runs until Close or ctx is cancelled.
func New(ctx context.Context, id string, poller poll.Poller, clk clock.Clock, logger zerolog.Logger) *Session {
	if clk == nil {
		clk = clock.New()
	}
	if poller.Clock == nil {
		poller.Clock = clk
	}
	poller.Logger = logger
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:     id,
		poller: poller,
		clock:  clk,
		logger: logger.With().Str("session_id", id).Logger(),
		cmds:   make(chan func(*state)),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.touch()
	go s.run(ctx)
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	st := &state{subs: make(map[int]chan Update)}
	defer s.release(st)

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-s.cmds:
			fn(st)
		case res, ok := <-st.poll.Updates():
			if !ok {
				st.poll = nil
				continue
			}
			s.onPoll(st, res)
		case tick, ok := <-st.countdown.Ticks():
			if !ok {
				st.countdown = nil
				continue
			}
			s.onTick(st, tick)
		}
	}
}

// release stops both timers and closes subscriber channels. It runs on every
// exit path of the loop.
func (s *Session) release(st *state) {
	st.poll.Stop()
	st.countdown.Stop()
	st.poll, st.countdown = nil, nil
	for id, ch := range st.subs {
		close(ch)
		delete(st.subs, id)
	}
	s.subscribers.Store(0)
}

func (s *Session) call(fn func(*state)) error {
	s.touch()
	reply := make(chan struct{})
	select {
	case s.cmds <- func(st *state) {
		defer close(reply)
		fn(st)
	}:
	case <-s.done:
		return ErrClosed
	}
	<-reply
	return nil
}

// Show replaces the displayed order. Any poll or countdown belonging to the
// previous order is stopped before Show returns, so no update for it can be
// observed afterwards.
func (s *Session) Show(o order.Order) error {
	return s.call(func(st *state) {
		s.stopTimers(st)
		shown := o
		st.order = &shown
		st.remaining = 0

		if !o.Status.Terminal() {
			if o.HasExpiry() {
				st.countdown = countdown.Start(context.Background(), s.clock, o.ExpiresAt)
				st.remaining = countdown.Remaining(o.ExpiresAt, s.clock.Now())
			}
			if s.poller.Fetch != nil && o.ID != "" {
				st.poll = s.poller.Start(context.Background(), o.ID)
			}
		}
		s.logger.Info().Str("order_id", o.ID).Str("type", string(o.Type)).Msg("order_displayed")
		s.broadcast(st, KindOrder)
	})
}

// Apply feeds an out-of-band status (manual check or webhook) into the
// displayed order. It reports whether the displayed order changed.
func (s *Session) Apply(orderID string, status order.Status, txid string) (bool, error) {
	var changed bool
	err := s.call(func(st *state) {
		changed = s.apply(st, orderID, status, txid)
	})
	return changed, err
}

// Clear stops the timers and forgets the displayed order.
func (s *Session) Clear() error {
	return s.call(func(st *state) {
		s.stopTimers(st)
		st.order = nil
		st.remaining = 0
		s.broadcast(st, KindCleared)
	})
}

// Snapshot returns the displayed state.
func (s *Session) Snapshot() (Snapshot, error) {
	var snap Snapshot
	err := s.call(func(st *state) {
		snap = s.snapshot(st)
	})
	return snap, err
}

// Subscribe registers for updates. The returned cancel function must be
// called when the subscriber goes away. Slow subscribers miss updates rather
// than stall the session.
func (s *Session) Subscribe() (<-chan Update, func(), error) {
	var (
		ch chan Update
		id int
	)
	err := s.call(func(st *state) {
		id = st.nextSub
		st.nextSub++
		ch = make(chan Update, subscriberBuffer)
		st.subs[id] = ch
		s.subscribers.Add(1)
	})
	if err != nil {
		return nil, func() {}, err
	}
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			_ = s.call(func(st *state) {
				if c, ok := st.subs[id]; ok {
					close(c)
					delete(st.subs, id)
					s.subscribers.Add(-1)
				}
			})
		})
	}
	return ch, unsubscribe, nil
}

// Close stops the loop and releases every timer. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
	})
	<-s.done
}

// Done is closed once the session loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) onPoll(st *state, res poll.Result) {
	if st.order == nil || res.OrderID != st.order.ID {
		return
	}
	s.apply(st, res.OrderID, res.Status, res.TxID)
}

func (s *Session) apply(st *state, orderID string, status order.Status, txid string) bool {
	if st.order == nil || st.order.ID != orderID {
		return false
	}
	updated, changed := st.order.Apply(status, txid)
	if !changed {
		return false
	}
	st.order = &updated
	if updated.Status.Terminal() {
		s.stopTimers(st)
		st.remaining = 0
	}
	s.logger.Info().Str("order_id", updated.ID).Str("status", string(updated.Status)).Msg("order_updated")
	s.broadcast(st, KindOrder)
	return true
}

func (s *Session) onTick(st *state, tick countdown.Tick) {
	if !tick.Expired {
		st.remaining = tick.Remaining
		s.broadcast(st, KindTick)
		return
	}
	st.countdown = nil
	st.poll.Stop()
	st.poll = nil
	st.remaining = 0
	if st.order != nil && !st.order.Status.Terminal() {
		updated, _ := st.order.Apply(order.StatusExpired, "")
		st.order = &updated
		s.logger.Info().Str("order_id", updated.ID).Msg("order_expired")
	}
	s.broadcast(st, KindExpired)
}

func (s *Session) stopTimers(st *state) {
	st.poll.Stop()
	st.countdown.Stop()
	st.poll, st.countdown = nil, nil
}

func (s *Session) snapshot(st *state) Snapshot {
	snap := Snapshot{
		Remaining: st.remaining,
		Countdown: countdown.Format(st.remaining),
		Polling:   st.poll != nil,
	}
	if st.order != nil {
		o := *st.order
		snap.Order = &o
		snap.TxIDDisplay = order.TruncateTxID(o.TxID)
	}
	return snap
}

func (s *Session) broadcast(st *state, kind string) {
	if len(st.subs) == 0 {
		return
	}
	snap := s.snapshot(st)
	u := Update{Kind: kind, Order: snap.Order, TxIDDisplay: snap.TxIDDisplay, Remaining: snap.Remaining, Countdown: snap.Countdown}
	for _, ch := range st.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

func (s *Session) touch() {
	s.lastSeen.Store(s.clock.Now().UnixNano())
}
