package xpay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Webhook notification types.
const (
	NotifyOrderStatusChange = "ORDER_STATUS_CHANGE"
	NotifyPaymentReceived   = "PAYMENT_RECEIVED"
	NotifyPayoutCompleted   = "PAYOUT_COMPLETED"
)

var (
	// ErrInvalidSignature means the signature does not match the body.
	ErrInvalidSignature = errors.New("xpay: invalid webhook signature")
	// ErrStaleTimestamp means the webhook timestamp is outside the tolerance window.
	ErrStaleTimestamp = errors.New("xpay: webhook timestamp outside tolerance")
	// ErrInvalidWebhook means the body could not be decoded into an Event.
	ErrInvalidWebhook = errors.New("xpay: invalid webhook body")
)

// Event is a decoded webhook notification.
type Event struct {
	NotifyType string          `json:"notifyType"`
	Data       json.RawMessage `json:"data"`
}

// OrderUpdate is the order-related content carried by a webhook.
type OrderUpdate struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status,omitempty"`
	TxID    string `json:"txid,omitempty"`
	Amount  string `json:"amount,omitempty"`
	Symbol  string `json:"symbol,omitempty"`
}

// OrderUpdate extracts the order change for known notify types. A
// PAYMENT_RECEIVED without an explicit status reports PENDING_CONFIRMATION.
func (e Event) OrderUpdate() (OrderUpdate, bool) {
	var u OrderUpdate
	switch e.NotifyType {
	case NotifyOrderStatusChange, NotifyPaymentReceived, NotifyPayoutCompleted:
	default:
		return u, false
	}
	if err := json.Unmarshal(e.Data, &u); err != nil || strings.TrimSpace(u.OrderID) == "" {
		return OrderUpdate{}, false
	}
	if u.Status == "" && e.NotifyType == NotifyPaymentReceived {
		u.Status = "PENDING_CONFIRMATION"
	}
	return u, true
}

// SignWebhook returns hex HMAC-SHA256(secret, timestamp + body).
func SignWebhook(secret, body, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func verifyWebhook(secret string, tolerance time.Duration, now time.Time, body, signature, timestamp string) error {
	signature = strings.ToLower(strings.TrimSpace(signature))
	timestamp = strings.TrimSpace(timestamp)
	if signature == "" || timestamp == "" {
		return ErrInvalidSignature
	}
	expected := SignWebhook(secret, body, timestamp)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	if tolerance > 0 {
		ms, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStaleTimestamp, err)
		}
		skew := now.Sub(time.UnixMilli(ms))
		if skew < 0 {
			skew = -skew
		}
		if skew > tolerance {
			return ErrStaleTimestamp
		}
	}
	return nil
}

// ParseWebhook decodes a webhook body. Bodies without a notifyType are rejected.
func ParseWebhook(body []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	if strings.TrimSpace(ev.NotifyType) == "" {
		return Event{}, fmt.Errorf("%w: missing notifyType", ErrInvalidWebhook)
	}
	return ev, nil
}
