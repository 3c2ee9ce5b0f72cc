package session

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/noah-isme/xpay-demo/internal/common"
	"github.com/noah-isme/xpay-demo/internal/order"
	"github.com/noah-isme/xpay-demo/internal/qr"
)

const (
	defaultPingInterval = 30 * time.Second
	writeWait           = 10 * time.Second
	maxQRSize           = 1024
	minQRSize           = 64
)

// Handler exposes the caller's session over HTTP.
type Handler struct {
	Sessions       *Manager
	Logger         zerolog.Logger
	AllowedOrigins []string
	PingInterval   time.Duration
}

// Get returns the displayed order snapshot.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	snap, err := s.Snapshot()
	if err != nil {
		common.JSONError(w, http.StatusGone, "SESSION_CLOSED", err.Error(), nil)
		return
	}
	common.JSON(w, http.StatusOK, snap)
}

// Delete tears the session down, stopping its poll and countdown.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := common.SessionID(r.Context())
	if !ok || h.Sessions == nil {
		common.JSONError(w, http.StatusBadRequest, "NO_SESSION", "session id missing", nil)
		return
	}
	h.Sessions.Close(id)
	w.WriteHeader(http.StatusNoContent)
}

// QR renders the deposit QR code for the displayed collection order.
func (h *Handler) QR(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	snap, err := s.Snapshot()
	if err != nil {
		common.JSONError(w, http.StatusGone, "SESSION_CLOSED", err.Error(), nil)
		return
	}
	o := snap.Order
	if o == nil || o.Type != order.TypeCollection || strings.TrimSpace(o.Address) == "" {
		common.JSONError(w, http.StatusNotFound, "NO_QR", "no collection order is displayed", nil)
		return
	}
	size, err := strconv.Atoi(r.URL.Query().Get("size"))
	if err != nil {
		size = qr.DefaultSize
	}
	if size < minQRSize {
		size = minQRSize
	}
	if size > maxQRSize {
		size = maxQRSize
	}
	png, err := qr.PNG(qr.Payload(o.Chain, o.Address, o.Symbol, o.Amount), size)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "QR_FAILED", err.Error(), nil)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// Stream upgrades to a websocket and pushes session updates, starting with
// the current snapshot.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	upgrader := websocket.Upgrader{CheckOrigin: h.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Warn().Err(err).Msg("session_stream_upgrade_failed")
		return
	}
	defer func() { _ = conn.Close() }()

	updates, unsubscribe, err := s.Subscribe()
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"), time.Now().Add(writeWait))
		return
	}
	defer unsubscribe()

	snap, err := s.Snapshot()
	if err == nil {
		first := Update{Kind: KindOrder, Order: snap.Order, TxIDDisplay: snap.TxIDDisplay, Remaining: snap.Remaining, Countdown: snap.Countdown}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(first); err != nil {
			return
		}
	}

	// reader only detects the peer going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	interval := h.PingInterval
	if interval <= 0 {
		interval = defaultPingInterval
	}
	ping := time.NewTicker(interval)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case u, ok := <-updates:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"), time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(u); err != nil {
				h.Logger.Debug().Err(err).Msg("session_stream_write_failed")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	id, ok := common.SessionID(r.Context())
	if !ok || h.Sessions == nil {
		common.JSONError(w, http.StatusBadRequest, "NO_SESSION", "session id missing", nil)
		return nil, false
	}
	return h.Sessions.Get(id), true
}

// checkOrigin admits requests without an Origin, same-origin requests and
// the configured origins.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, allowed := range h.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
