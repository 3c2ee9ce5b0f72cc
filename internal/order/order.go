package order

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Type distinguishes collection (user pays merchant) from payout (merchant pays user) orders.
type Type string

const (
	TypeCollection Type = "COLLECTION"
	TypePayout     Type = "PAYOUT"
)

// Status is the gateway-reported lifecycle state of an order.
type Status string

const (
	StatusPending             Status = "PENDING"
	StatusPendingConfirmation Status = "PENDING_CONFIRMATION"
	StatusSuccess             Status = "SUCCESS"
	StatusExpired             Status = "EXPIRED"
	StatusFailed              Status = "FAILED"
)

// Terminal reports whether no further transitions can follow s.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusExpired, StatusFailed:
		return true
	default:
		return false
	}
}

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusPendingConfirmation:
		return 1
	case StatusSuccess, StatusExpired, StatusFailed:
		return 2
	default:
		return -1
	}
}

// ParseStatus normalises a gateway status string. Unknown values report false.
func ParseStatus(value string) (Status, bool) {
	s := Status(strings.ToUpper(strings.TrimSpace(value)))
	if s.rank() < 0 {
		return "", false
	}
	return s, true
}

// Order is the in-memory record of the order currently shown to a caller.
type Order struct {
	ID        string    `json:"orderId"`
	Type      Type      `json:"orderType"`
	Amount    string    `json:"amount"`
	Symbol    string    `json:"symbol"`
	Chain     string    `json:"chain"`
	Address   string    `json:"address"`
	Status    Status    `json:"status"`
	ExpiresAt time.Time `json:"expiresAt"`
	TxID      string    `json:"txid,omitempty"`
}

// MarshalJSON omits expiresAt for orders without an expiry.
func (o Order) MarshalJSON() ([]byte, error) {
	type plain Order
	out := struct {
		plain
		ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	}{plain: plain(o)}
	if o.HasExpiry() {
		at := o.ExpiresAt
		out.ExpiresAt = &at
	}
	return json.Marshal(out)
}

// HasExpiry reports whether the order carries an expiry instant (collections only).
func (o Order) HasExpiry() bool {
	return !o.ExpiresAt.IsZero()
}

// Apply merges a fetched status and txid into the order. Only Status and TxID
// are touched. Unknown statuses and regressions are ignored; once terminal the
// status is frozen, but a missing txid may still be filled in. The boolean
// reports whether anything changed.
func (o Order) Apply(status Status, txid string) (Order, bool) {
	changed := false
	if next := status.rank(); next >= 0 && !o.Status.Terminal() && status != o.Status && next >= o.Status.rank() {
		o.Status = status
		changed = true
	}
	txid = strings.TrimSpace(txid)
	if txid != "" && txid != o.TxID && (o.TxID == "" || !o.Status.Terminal() || changed) {
		o.TxID = txid
		changed = true
	}
	return o, changed
}

// NewID builds a demo order identifier from the order type and a timestamp.
func NewID(t Type, now time.Time) string {
	prefix := "order"
	if t == TypePayout {
		prefix = "payout"
	}
	return fmt.Sprintf("%s-%d", prefix, now.UnixMilli())
}

// TruncateTxID shortens long transaction ids for display.
func TruncateTxID(txid string) string {
	if len(txid) <= 16 {
		return txid
	}
	return txid[:8] + "..." + txid[len(txid)-8:]
}
