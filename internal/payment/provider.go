package payment

import (
	"context"

	"github.com/noah-isme/xpay-demo/internal/xpay"
)

// Gateway abstracts the operations required from the upstream payment gateway.
// Both *xpay.Client and *xpay.Sandbox satisfy it.
type Gateway interface {
	CreateCollection(ctx context.Context, req xpay.CollectionRequest) (xpay.Collection, error)
	CreatePayout(ctx context.Context, req xpay.PayoutRequest) (xpay.Payout, error)
	OrderStatus(ctx context.Context, orderID string) (xpay.OrderStatus, error)
	SupportedSymbols(ctx context.Context, chain, symbol string) ([]xpay.Symbol, error)
	VerifyWebhook(body, signature, timestamp string) error
	ParseWebhook(body []byte) (xpay.Event, error)
	SignWebhook(body, timestamp string) string
}

// StatusForcer is implemented by gateways that let the demo drive order status.
type StatusForcer interface {
	SetStatus(orderID, status, txid string) (xpay.OrderStatus, error)
}

var (
	_ Gateway      = (*xpay.Client)(nil)
	_ Gateway      = (*xpay.Sandbox)(nil)
	_ StatusForcer = (*xpay.Sandbox)(nil)
)
