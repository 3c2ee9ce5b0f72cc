package session

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/noah-isme/xpay-demo/internal/obs"
	"github.com/noah-isme/xpay-demo/internal/order"
	"github.com/noah-isme/xpay-demo/internal/poll"
)

// Manager keeps one Session per session id.
type Manager struct {
	poller poll.Poller
	clock  clock.Clock
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager builds a manager whose sessions poll with poller.
func NewManager(poller poll.Poller, clk clock.Clock, logger zerolog.Logger) *Manager {
	if clk == nil {
		clk = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		poller:   poller,
		clock:    clk,
		logger:   logger.With().Str("component", "session").Logger(),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}
}

// Get returns the session for id, creating it on first use.
func (m *Manager) Get(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.touch()
		return s
	}
	s := New(m.ctx, id, m.poller, m.clock, m.logger)
	m.sessions[id] = s
	m.gauge()
	return s
}

// Lookup returns the session for id without creating one.
func (m *Manager) Lookup(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Close tears the session down, releasing its timers.
func (m *Manager) Close(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.gauge()
	m.mu.Unlock()
	if ok {
		s.Close()
	}
	return ok
}

// Reap closes sessions idle for longer than idle. Sessions with a live
// subscriber are never idle.
func (m *Manager) Reap(idle time.Duration) int {
	cutoff := m.clock.Now().Add(-idle).UnixNano()
	var stale []*Session
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.subscribers.Load() > 0 || s.lastSeen.Load() > cutoff {
			continue
		}
		stale = append(stale, s)
		delete(m.sessions, id)
	}
	m.gauge()
	m.mu.Unlock()

	for _, s := range stale {
		s.Close()
	}
	if len(stale) > 0 {
		m.logger.Debug().Int("count", len(stale)).Msg("sessions_reaped")
	}
	return len(stale)
}

// ApplyAll routes an order update to every session displaying orderID and
// returns how many sessions changed.
func (m *Manager) ApplyAll(orderID string, status order.Status, txid string) int {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	changed := 0
	for _, s := range all {
		if ok, err := s.Apply(orderID, status, txid); err == nil && ok {
			changed++
		}
	}
	return changed
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown closes every session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.gauge()
	m.mu.Unlock()

	m.cancel()
	for _, s := range all {
		s.Close()
	}
}

func (m *Manager) gauge() {
	if obs.ActiveSessions != nil {
		obs.ActiveSessions.Set(float64(len(m.sessions)))
	}
}
