package payment

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/xpay-demo/internal/common"
	"github.com/noah-isme/xpay-demo/internal/obs"
	"github.com/noah-isme/xpay-demo/internal/order"
	"github.com/noah-isme/xpay-demo/internal/session"
	"github.com/noah-isme/xpay-demo/internal/xpay"
)

const (
	maxWebhookBytes = 64 << 10
	// MockSignature is offered in samples when no gateway is available to sign.
	MockSignature = "mock_signature_for_testing"
	sampleTxID    = "0x1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef"
)

// Webhook receives gateway callbacks: verify, guard against replays, then
// route order updates to every session displaying the order.
type Webhook struct {
	Svc       *Service
	Sessions  *session.Manager
	Replay    *redis.Client
	ReplayTTL time.Duration
	Logger    zerolog.Logger
}

// Handle processes a raw gateway callback.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	if !h.Svc.Initialized() {
		recordWebhook("not_initialized")
		WriteError(w, ErrNotInitialized)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes+1))
	var tooLarge *http.MaxBytesError
	if len(body) > maxWebhookBytes || errors.As(err, &tooLarge) {
		recordWebhook("too_large")
		common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "webhook payload too large", nil)
		return
	}
	if err != nil {
		recordWebhook("read_error")
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	signature := strings.TrimSpace(r.Header.Get("X-SIGNATURE"))
	timestamp := strings.TrimSpace(r.Header.Get("X-TIMESTAMP"))

	ev, err := h.Svc.HandleWebhook(body, signature, timestamp)
	if err != nil {
		switch {
		case errors.Is(err, ErrVerificationFailed):
			recordWebhook("invalid_signature")
		case errors.Is(err, ErrMalformedBody):
			recordWebhook("malformed")
		default:
			recordWebhook("error")
		}
		WriteError(w, err)
		return
	}

	if h.Replay != nil && h.ReplayTTL > 0 {
		key := common.WebhookReplayKey(timestamp, body)
		ok, err := h.Replay.SetNX(r.Context(), key, "1", h.ReplayTTL).Result()
		if err != nil {
			recordWebhook("replay_store_error")
			common.JSONError(w, http.StatusInternalServerError, "REPLAY_STORE_ERROR", err.Error(), nil)
			return
		}
		if !ok {
			recordWebhook("replay")
			common.JSONError(w, http.StatusConflict, "REPLAY", "duplicate webhook", nil)
			return
		}
	}

	applied := 0
	if u, ok := ev.OrderUpdate(); ok && h.Sessions != nil {
		status, _ := order.ParseStatus(u.Status)
		applied = h.Sessions.ApplyAll(u.OrderID, status, u.TxID)
	}
	h.Logger.Info().Str("notify_type", ev.NotifyType).Int("sessions_updated", applied).Msg("webhook_received")
	recordWebhook("ok")
	common.JSON(w, http.StatusOK, map[string]any{
		"received":   true,
		"notifyType": ev.NotifyType,
		"applied":    applied,
	})
}

// WebhookSample is a ready-to-verify demo webhook.
type WebhookSample struct {
	Body      string `json:"body"`
	Signature string `json:"signature"`
	Timestamp string `json:"timestamp"`
	Signed    bool   `json:"signed"`
}

// SampleWebhook builds the demo body for notifyType. Unknown types carry only
// an order id.
func SampleWebhook(notifyType string) string {
	data := map[string]string{"orderId": "order-123456789"}
	switch notifyType {
	case xpay.NotifyOrderStatusChange:
		data["status"] = "SUCCESS"
		data["txid"] = sampleTxID
	case xpay.NotifyPaymentReceived:
		data["amount"] = "100"
		data["symbol"] = "USDT"
		data["txid"] = sampleTxID
	case xpay.NotifyPayoutCompleted:
		data["orderId"] = "payout-123456789"
		data["status"] = "SUCCESS"
		data["txid"] = sampleTxID
	}
	body, _ := json.MarshalIndent(map[string]any{"notifyType": notifyType, "data": data}, "", "  ")
	return string(body)
}

// Sample builds a sample body and, when a gateway is available, a valid
// signature for it.
func (s *Service) Sample(notifyType string) WebhookSample {
	notifyType = strings.ToUpper(strings.TrimSpace(notifyType))
	if notifyType == "" {
		notifyType = xpay.NotifyOrderStatusChange
	}
	sample := WebhookSample{
		Body:      SampleWebhook(notifyType),
		Timestamp: strconv.FormatInt(s.clockOrDefault().Now().UnixMilli(), 10),
		Signature: MockSignature,
	}
	if s.Initialized() {
		sample.Signature = s.gw.SignWebhook(sample.Body, sample.Timestamp)
		sample.Signed = true
	}
	return sample
}

func (s *Service) clockOrDefault() clock.Clock {
	if s == nil || s.clock == nil {
		return clock.New()
	}
	return s.clock
}

type verifyReq struct {
	Body      string `json:"body"`
	Signature string `json:"signature"`
	Timestamp string `json:"timestamp"`
}

type verifyResp struct {
	Valid bool        `json:"valid"`
	Event *xpay.Event `json:"event,omitempty"`
	Error string      `json:"error,omitempty"`
}

// DemoHandler serves the interactive webhook verification endpoints.
type DemoHandler struct {
	Svc *Service
}

// Sample returns a sample webhook for the notifyType query parameter.
func (h DemoHandler) Sample(w http.ResponseWriter, r *http.Request) {
	common.JSON(w, http.StatusOK, h.Svc.Sample(r.URL.Query().Get("notifyType")))
}

// Verify checks a pasted webhook. Verification failure and an unparsable
// body are reported distinctly.
func (h DemoHandler) Verify(w http.ResponseWriter, r *http.Request) {
	if !h.Svc.Initialized() {
		WriteError(w, ErrNotInitialized)
		return
	}
	var req verifyReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	resp := verifyResp{Valid: h.Svc.VerifyWebhook(req.Body, req.Signature, req.Timestamp)}
	if !resp.Valid {
		resp.Error = ErrVerificationFailed.Error()
		common.JSON(w, http.StatusOK, resp)
		return
	}
	ev, err := h.Svc.ParseWebhook([]byte(req.Body))
	if err != nil {
		resp.Error = ErrMalformedBody.Error()
		common.JSON(w, http.StatusOK, resp)
		return
	}
	resp.Event = &ev
	common.JSON(w, http.StatusOK, resp)
}

func recordWebhook(result string) {
	if obs.PaymentWebhookTotal != nil {
		obs.PaymentWebhookTotal.WithLabelValues(result).Inc()
	}
}
