package poll

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/noah-isme/xpay-demo/internal/obs"
	"github.com/noah-isme/xpay-demo/internal/order"
)

// DefaultInterval is how often order status is re-queried.
const DefaultInterval = 10 * time.Second

// Result is one successful status fetch.
type Result struct {
	OrderID string
	Status  order.Status
	TxID    string
}

// FetchFunc queries the current status of an order.
type FetchFunc func(ctx context.Context, orderID string) (Result, error)

// Poller re-queries order status on a fixed interval until a terminal status
// is observed or the poll is stopped.
type Poller struct {
	Interval time.Duration
	Fetch    FetchFunc
	Clock    clock.Clock
	Logger   zerolog.Logger
}

// Handle controls a running poll. The zero value and nil are both inert.
type Handle struct {
	orderID string
	updates chan Result
	cancel  context.CancelFunc
	done    chan struct{}
}

// Start launches a poll for orderID. The first fetch happens one interval
// after Start. Results are delivered on Handle.Updates, which is closed once
// the poll ends for any reason.
func (p Poller) Start(ctx context.Context, orderID string) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		orderID: orderID,
		updates: make(chan Result),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go p.run(ctx, h)
	return h
}

func (p Poller) run(ctx context.Context, h *Handle) {
	defer close(h.done)
	defer close(h.updates)

	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	logger := p.Logger.With().Str("order_id", h.orderID).Logger()

	ticker := clk.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if p.Fetch == nil {
			return
		}
		res, err := p.Fetch(ctx, h.orderID)
		if ctx.Err() != nil {
			// result of a fetch that raced with cancellation is discarded
			return
		}
		if err != nil {
			recordPoll("error")
			logger.Warn().Err(err).Msg("status_poll_failed")
			continue
		}
		if res.OrderID == "" {
			res.OrderID = h.orderID
		}
		select {
		case h.updates <- res:
		case <-ctx.Done():
			return
		}
		if res.Status.Terminal() {
			recordPoll("terminal")
			logger.Debug().Str("status", string(res.Status)).Msg("status_poll_finished")
			return
		}
		recordPoll("ok")
	}
}

// OrderID returns the polled order id.
func (h *Handle) OrderID() string {
	if h == nil {
		return ""
	}
	return h.orderID
}

// Updates delivers fetch results. A nil handle returns a nil channel.
func (h *Handle) Updates() <-chan Result {
	if h == nil {
		return nil
	}
	return h.updates
}

// Done is closed once the poll goroutine has exited.
func (h *Handle) Done() <-chan struct{} {
	if h == nil {
		return nil
	}
	return h.done
}

// Stop cancels the poll and waits for it to exit. After Stop returns nothing
// more is delivered on Updates. Safe to call more than once.
func (h *Handle) Stop() {
	if h == nil {
		return
	}
	h.cancel()
	<-h.done
}

func recordPoll(result string) {
	if obs.StatusPollTotal != nil {
		obs.StatusPollTotal.WithLabelValues(result).Inc()
	}
}
