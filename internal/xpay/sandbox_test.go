package xpay_test

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/xpay-demo/internal/address"
	"github.com/noah-isme/xpay-demo/internal/xpay"
)

func newSandbox(t *testing.T, clk clock.Clock) *xpay.Sandbox {
	t.Helper()
	sb, err := xpay.NewSandbox(xpay.Config{APIKey: testKey, APISecret: testSecret},
		xpay.WithSandboxClock(clk), xpay.WithSandboxTTL(time.Minute))
	require.NoError(t, err)
	return sb
}

func TestSandboxRequiresCredentials(t *testing.T) {
	_, err := xpay.NewSandbox(xpay.Config{APIKey: testKey})
	require.ErrorIs(t, err, xpay.ErrInitialization)
}

func TestSandboxCollectionLifecycle(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Unix(1700000000, 0))
	sb := newSandbox(t, mock)
	ctx := context.Background()

	col, err := sb.CreateCollection(ctx, xpay.CollectionRequest{
		Amount: "10", Symbol: "usdt", Chain: "TRON", UID: "user123", OrderID: "order-1",
	})
	require.NoError(t, err)
	require.Equal(t, "order-1", col.OrderID)
	require.Equal(t, int64(1700000060), col.ExpiredTime)
	require.NoError(t, address.Validate("TRON", col.Address))

	st, err := sb.OrderStatus(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, "PENDING", st.Status)

	mock.Add(time.Minute)
	st, err = sb.OrderStatus(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, "EXPIRED", st.Status)

	_, err = sb.CreateCollection(ctx, xpay.CollectionRequest{
		Amount: "10", Symbol: "USDT", Chain: "TRON", UID: "user123", OrderID: "order-1",
	})
	var apiErr *xpay.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, xpay.CodeDuplicateOrder, apiErr.Code)
}

func TestSandboxAssignsOrderID(t *testing.T) {
	sb := newSandbox(t, clock.NewMock())
	col, err := sb.CreateCollection(context.Background(), xpay.CollectionRequest{
		Amount: "1", Symbol: "ETH", Chain: "ETH", UID: "u",
	})
	require.NoError(t, err)
	require.Len(t, col.OrderID, 36)
	require.NoError(t, address.Validate("ETH", col.Address))
}

func TestSandboxPayoutAndSetStatus(t *testing.T) {
	sb := newSandbox(t, clock.NewMock())
	ctx := context.Background()

	_, err := sb.CreatePayout(ctx, xpay.PayoutRequest{
		Amount: "5", Symbol: "USDT", Chain: "ETH", UID: "u", ReceiveAddress: "nope", OrderID: "payout-1",
	})
	var apiErr *xpay.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, xpay.CodeInvalidParam, apiErr.Code)

	p, err := sb.CreatePayout(ctx, xpay.PayoutRequest{
		Amount: "5", Symbol: "USDT", Chain: "ETH", UID: "u",
		ReceiveAddress: "0x52908400098527886E0F7030069857D2E4169EE7", OrderID: "payout-1",
	})
	require.NoError(t, err)
	require.Equal(t, "PENDING", p.Status)

	st, err := sb.SetStatus("payout-1", "success", "")
	require.NoError(t, err)
	require.Equal(t, "SUCCESS", st.Status)
	require.NotEmpty(t, st.TxID)

	_, err = sb.SetStatus("payout-1", "BOGUS", "")
	require.Error(t, err)
	_, err = sb.SetStatus("missing", "FAILED", "")
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, xpay.CodeOrderNotFound, apiErr.Code)
}

func TestSandboxSupportedSymbols(t *testing.T) {
	sb := newSandbox(t, clock.NewMock())
	ctx := context.Background()

	all, err := sb.SupportedSymbols(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, all, 6)

	tron, err := sb.SupportedSymbols(ctx, "tron", "")
	require.NoError(t, err)
	require.Len(t, tron, 2)

	usdt, err := sb.SupportedSymbols(ctx, "", "USDT")
	require.NoError(t, err)
	require.Len(t, usdt, 3)
	require.Equal(t, "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t", usdt[0].ContractAddress)

	_, err = sb.CreateCollection(ctx, xpay.CollectionRequest{Amount: "1", Symbol: "DOGE", Chain: "TRON", UID: "u"})
	var apiErr *xpay.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, xpay.CodeUnsupportedSymbol, apiErr.Code)
}
