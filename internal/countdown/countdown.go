package countdown

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
)

// Tick is one countdown emission. The last value sent before the channel is
// closed has Expired set; it is sent exactly once, after the zero tick.
type Tick struct {
	Remaining int64
	Expired   bool
}

// Handle controls a running countdown.
type Handle struct {
	expiresAt time.Time
	ticks     chan Tick
	cancel    context.CancelFunc
	done      chan struct{}
}

// Start counts down to expiresAt, emitting the remaining whole seconds once per
// second. The first tick is emitted immediately.
func Start(ctx context.Context, clk clock.Clock, expiresAt time.Time) *Handle {
	if clk == nil {
		clk = clock.New()
	}
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		expiresAt: expiresAt,
		ticks:     make(chan Tick),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go h.run(ctx, clk)
	return h
}

func (h *Handle) run(ctx context.Context, clk clock.Clock) {
	defer close(h.done)
	defer close(h.ticks)

	ticker := clk.Ticker(time.Second)
	defer ticker.Stop()

	for {
		remaining := Remaining(h.expiresAt, clk.Now())
		if !h.emit(ctx, Tick{Remaining: remaining}) {
			return
		}
		if remaining == 0 {
			h.emit(ctx, Tick{Expired: true})
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *Handle) emit(ctx context.Context, t Tick) bool {
	select {
	case h.ticks <- t:
		return true
	case <-ctx.Done():
		return false
	}
}

// Ticks delivers countdown emissions. A nil handle returns a nil channel.
func (h *Handle) Ticks() <-chan Tick {
	if h == nil {
		return nil
	}
	return h.ticks
}

// Done is closed once the countdown goroutine has exited.
func (h *Handle) Done() <-chan struct{} {
	if h == nil {
		return nil
	}
	return h.done
}

// ExpiresAt returns the instant being counted down to.
func (h *Handle) ExpiresAt() time.Time {
	if h == nil {
		return time.Time{}
	}
	return h.expiresAt
}

// Stop cancels the countdown and waits for it to exit. Safe to call more than once.
func (h *Handle) Stop() {
	if h == nil {
		return
	}
	h.cancel()
	<-h.done
}

// Remaining returns whole seconds left until expiresAt, clamped to zero.
func Remaining(expiresAt, now time.Time) int64 {
	d := expiresAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return int64(d / time.Second)
}

// Format renders seconds as HH:MM:SS.
func Format(seconds int64) string {
	if seconds <= 0 {
		return "00:00:00"
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}
