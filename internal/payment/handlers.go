package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/xpay-demo/internal/common"
	"github.com/noah-isme/xpay-demo/internal/order"
	"github.com/noah-isme/xpay-demo/internal/session"
	"github.com/noah-isme/xpay-demo/internal/xpay"
)

// Handler exposes the order endpoints and keeps the caller's session in sync
// with what was created or checked.
type Handler struct {
	Svc      *Service
	Sessions *session.Manager
	Clock    clock.Clock
	Logger   zerolog.Logger
	Mode     string
	BaseURL  string
}

type sdkResp struct {
	Initialized bool   `json:"initialized"`
	Error       string `json:"error,omitempty"`
	BaseURL     string `json:"baseUrl"`
	Mode        string `json:"mode"`
}

// SDK reports whether the gateway client was initialized.
func (h *Handler) SDK(w http.ResponseWriter, _ *http.Request) {
	resp := sdkResp{Initialized: h.Svc.Initialized(), BaseURL: h.BaseURL, Mode: h.Mode}
	if err := h.Svc.InitError(); err != nil {
		resp.Error = err.Error()
	}
	common.JSON(w, http.StatusOK, resp)
}

// CreateCollection opens a collection order and displays it in the session.
func (h *Handler) CreateCollection(w http.ResponseWriter, r *http.Request) {
	var in CollectionInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	if err := h.Svc.CheckCollection(in); err != nil {
		WriteError(w, err)
		return
	}
	h.clear(r)
	res, err := h.Svc.CreateCollection(r.Context(), in)
	if err != nil {
		WriteError(w, err)
		return
	}
	h.show(r, res.Order)
	common.JSON(w, http.StatusCreated, res)
}

// CreatePayout opens a payout order and displays it in the session.
func (h *Handler) CreatePayout(w http.ResponseWriter, r *http.Request) {
	var in PayoutInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	if err := h.Svc.CheckPayout(in); err != nil {
		WriteError(w, err)
		return
	}
	h.clear(r)
	res, err := h.Svc.CreatePayout(r.Context(), in)
	if err != nil {
		WriteError(w, err)
		return
	}
	h.show(r, res.Order)
	common.JSON(w, http.StatusCreated, res)
}

// GenerateID returns a fresh demo order id for the requested order type.
func (h *Handler) GenerateID(w http.ResponseWriter, r *http.Request) {
	t := order.TypeCollection
	switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get("type"))) {
	case "", "collection":
	case "payout":
		t = order.TypePayout
	default:
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "type must be collection or payout", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]string{"orderId": order.NewID(t, h.clock().Now())})
}

// Status checks an order with the gateway. When the order is the one on
// display the session is updated too.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderId"))
	st, err := h.Svc.OrderStatus(r.Context(), orderID)
	if err != nil {
		WriteError(w, err)
		return
	}
	if s := h.session(r); s != nil {
		if status, ok := order.ParseStatus(st.Status); ok || st.TxID != "" {
			if _, err := s.Apply(st.OrderID, status, st.TxID); err != nil {
				h.Logger.Debug().Err(err).Msg("session_apply_skipped")
			}
		}
	}
	common.JSON(w, http.StatusOK, st)
}

// Symbols lists supported symbols, filtered by the chain and symbol query parameters.
func (h *Handler) Symbols(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	syms, err := h.Svc.SupportedSymbols(r.Context(), q.Get("chain"), q.Get("symbol"))
	if err != nil {
		WriteError(w, err)
		return
	}
	if syms == nil {
		syms = []xpay.Symbol{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"symbols": syms})
}

type forceStatusReq struct {
	Status string `json:"status"`
	TxID   string `json:"txid"`
}

// ForceStatus drives a sandbox order to a status. Only available when the
// gateway is the sandbox.
func (h *Handler) ForceStatus(w http.ResponseWriter, r *http.Request) {
	forcer, ok := h.Svc.Gateway().(StatusForcer)
	if !ok {
		if !h.Svc.Initialized() {
			WriteError(w, ErrNotInitialized)
			return
		}
		common.JSONError(w, http.StatusNotFound, "SANDBOX_DISABLED", "status can only be forced in sandbox mode", nil)
		return
	}
	var req forceStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	st, err := forcer.SetStatus(chi.URLParam(r, "orderId"), req.Status, req.TxID)
	if err != nil {
		var apiErr *xpay.APIError
		if errors.As(err, &apiErr) {
			common.JSONError(w, apiErr.HTTPStatus, "SANDBOX_REJECTED", apiErr.Message, map[string]int{"code": apiErr.Code})
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "SANDBOX_ERROR", err.Error(), nil)
		return
	}
	common.JSON(w, http.StatusOK, st)
}

func (h *Handler) show(r *http.Request, o order.Order) {
	s := h.session(r)
	if s == nil {
		return
	}
	if err := s.Show(o); err != nil {
		h.Logger.Warn().Err(err).Str("order_id", o.ID).Msg("session_show_failed")
	}
}

// clear stops the previous order's poll and countdown before a new
// submission reaches the gateway, so a failed submission leaves nothing running.
func (h *Handler) clear(r *http.Request) {
	s := h.session(r)
	if s == nil {
		return
	}
	if err := s.Clear(); err != nil {
		h.Logger.Debug().Err(err).Msg("session_clear_skipped")
	}
}

func (h *Handler) session(r *http.Request) *session.Session {
	if h.Sessions == nil {
		return nil
	}
	id, ok := common.SessionID(r.Context())
	if !ok {
		return nil
	}
	return h.Sessions.Get(id)
}

func (h *Handler) clock() clock.Clock {
	if h.Clock == nil {
		return clock.New()
	}
	return h.Clock
}

// WriteError renders service errors with the canonical error body.
func WriteError(w http.ResponseWriter, err error) {
	var (
		valErr *ValidationError
		reqErr *RequestError
		apiErr *xpay.APIError
	)
	switch {
	case common.WriteAppError(w, err):
	case errors.As(err, &valErr):
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_FAILED", valErr.Message, map[string]string{"field": valErr.Field})
	case errors.As(err, &reqErr):
		msg := "Failed to " + reqErr.Op + ": " + reqErr.Err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			common.JSONError(w, http.StatusGatewayTimeout, "GATEWAY_TIMEOUT", msg, nil)
			return
		}
		var details any
		if errors.As(err, &apiErr) {
			details = map[string]any{"code": apiErr.Code, "message": apiErr.Message}
		}
		common.JSONError(w, http.StatusBadGateway, "GATEWAY_ERROR", msg, details)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
	}
}
