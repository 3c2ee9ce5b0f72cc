package payment_test

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/xpay-demo/internal/order"
	"github.com/noah-isme/xpay-demo/internal/payment"
	"github.com/noah-isme/xpay-demo/internal/xpay"
)

const (
	testSecret  = "secret-456"
	tronAddress = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"
	ethAddress  = "0x52908400098527886E0F7030069857D2E4169EE7"
)

func newSandboxService(t *testing.T, clk clock.Clock) (*payment.Service, *xpay.Sandbox) {
	t.Helper()
	sb, err := xpay.NewSandbox(xpay.Config{APIKey: "key", APISecret: testSecret}, xpay.WithSandboxClock(clk))
	require.NoError(t, err)
	return payment.NewService(sb, nil, zerolog.Nop(), clk), sb
}

type panicGateway struct {
	payment.Gateway
}

func (panicGateway) VerifyWebhook(string, string, string) error { panic("boom") }
func (panicGateway) ParseWebhook([]byte) (xpay.Event, error)    { panic("boom") }

type failingGateway struct {
	payment.Gateway
	err error
}

func (g failingGateway) OrderStatus(context.Context, string) (xpay.OrderStatus, error) {
	return xpay.OrderStatus{}, g.err
}

func TestUninitializedServiceReportsInitError(t *testing.T) {
	initErr := errors.New("xpay: initialization failed: api key is required")
	svc := payment.NewService(nil, initErr, zerolog.Nop(), nil)

	require.False(t, svc.Initialized())
	require.Equal(t, initErr, svc.InitError())

	_, err := svc.CreateCollection(context.Background(), payment.CollectionInput{})
	require.ErrorIs(t, err, payment.ErrNotInitialized)
	_, err = svc.OrderStatus(context.Background(), "x")
	require.ErrorIs(t, err, payment.ErrNotInitialized)
	require.False(t, svc.VerifyWebhook("{}", "sig", "1"))
}

func TestCreateCollectionBuildsDisplayedOrder(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Unix(1700000000, 0))
	svc, _ := newSandboxService(t, mock)

	res, err := svc.CreateCollection(context.Background(), payment.CollectionInput{
		Amount: "10", Symbol: "USDT", Chain: "TRON", UID: "user123", OrderID: " order-1 ",
	})
	require.NoError(t, err)
	require.Equal(t, "order-1", res.Order.ID)
	require.Equal(t, order.TypeCollection, res.Order.Type)
	require.Equal(t, order.StatusPending, res.Order.Status)
	require.Equal(t, res.Response.Address, res.Order.Address)
	require.Equal(t, time.Unix(res.Response.ExpiredTime, 0), res.Order.ExpiresAt)
}

func TestCreateCollectionValidation(t *testing.T) {
	svc, _ := newSandboxService(t, clock.NewMock())
	cases := []struct {
		in    payment.CollectionInput
		field string
		msg   string
	}{
		{payment.CollectionInput{Amount: "10", Symbol: "USDT", Chain: "TRON"}, "uid", "User ID is required for collection orders."},
		{payment.CollectionInput{Amount: "-1", Symbol: "USDT", Chain: "TRON", UID: "u"}, "amount", "Amount must be a positive number."},
		{payment.CollectionInput{Amount: "1/2", Symbol: "USDT", Chain: "TRON", UID: "u"}, "amount", "Amount must be a positive number."},
		{payment.CollectionInput{Amount: "0x10", Symbol: "USDT", Chain: "TRON", UID: "u"}, "amount", "Amount must be a positive number."},
		{payment.CollectionInput{Amount: "0b11", Symbol: "USDT", Chain: "TRON", UID: "u"}, "amount", "Amount must be a positive number."},
		{payment.CollectionInput{Amount: "0o7", Symbol: "USDT", Chain: "TRON", UID: "u"}, "amount", "Amount must be a positive number."},
		{payment.CollectionInput{Amount: "0x1p-2", Symbol: "USDT", Chain: "TRON", UID: "u"}, "amount", "Amount must be a positive number."},
		{payment.CollectionInput{Amount: "1e3", Symbol: "USDT", Chain: "TRON", UID: "u"}, "amount", "Amount must be a positive number."},
		{payment.CollectionInput{Amount: "1_000", Symbol: "USDT", Chain: "TRON", UID: "u"}, "amount", "Amount must be a positive number."},
		{payment.CollectionInput{Amount: "0", Symbol: "USDT", Chain: "TRON", UID: "u"}, "amount", "Amount must be a positive number."},
		{payment.CollectionInput{Amount: ".", Symbol: "USDT", Chain: "TRON", UID: "u"}, "amount", "Amount must be a positive number."},
		{payment.CollectionInput{Amount: "abc", Symbol: "USDT", Chain: "TRON", UID: "u"}, "amount", "Amount must be a positive number."},
		{payment.CollectionInput{Amount: "1", Chain: "TRON", UID: "u"}, "symbol", "Symbol is required."},
	}
	for _, tc := range cases {
		_, err := svc.CreateCollection(context.Background(), tc.in)
		var valErr *payment.ValidationError
		require.ErrorAs(t, err, &valErr)
		require.Equal(t, tc.field, valErr.Field)
		require.Equal(t, tc.msg, valErr.Message)
	}
}

func TestCreateCollectionAcceptsPlainDecimals(t *testing.T) {
	svc, _ := newSandboxService(t, clock.NewMock())
	for _, amount := range []string{"10", "0.5", ".25", "100.000001", " 7 "} {
		res, err := svc.CreateCollection(context.Background(), payment.CollectionInput{
			Amount: amount, Symbol: "USDT", Chain: "TRON", UID: "u",
		})
		require.NoError(t, err, amount)
		require.Equal(t, strings.TrimSpace(amount), res.Order.Amount)
	}
}

func TestCreatePayoutValidatesReceiveAddress(t *testing.T) {
	svc, _ := newSandboxService(t, clock.NewMock())
	ctx := context.Background()

	_, err := svc.CreatePayout(ctx, payment.PayoutInput{Amount: "5", Symbol: "USDT", Chain: "ETH", UID: "u"})
	var valErr *payment.ValidationError
	require.ErrorAs(t, err, &valErr)
	require.Equal(t, "Receive address is required for payout orders.", valErr.Message)

	_, err = svc.CreatePayout(ctx, payment.PayoutInput{Amount: "5", Symbol: "USDT", Chain: "ETH", UID: "u", ReceiveAddress: tronAddress})
	require.ErrorAs(t, err, &valErr)
	require.Equal(t, "receiveAddress", valErr.Field)

	res, err := svc.CreatePayout(ctx, payment.PayoutInput{Amount: "5", Symbol: "USDT", Chain: "ETH", UID: "u", ReceiveAddress: ethAddress})
	require.NoError(t, err)
	require.Equal(t, order.TypePayout, res.Order.Type)
	require.Equal(t, ethAddress, res.Order.Address)
	require.False(t, res.Order.HasExpiry())
}

func TestGatewayFailuresBecomeRequestErrors(t *testing.T) {
	svc, _ := newSandboxService(t, clock.NewMock())
	_, err := svc.CreateCollection(context.Background(), payment.CollectionInput{
		Amount: "1", Symbol: "DOGE", Chain: "TRON", UID: "u",
	})
	var reqErr *payment.RequestError
	require.ErrorAs(t, err, &reqErr)
	require.Equal(t, "create collection order", reqErr.Op)
	var apiErr *xpay.APIError
	require.ErrorAs(t, err, &apiErr)

	_, err = svc.OrderStatus(context.Background(), "  ")
	var valErr *payment.ValidationError
	require.ErrorAs(t, err, &valErr)
	require.Equal(t, "Please enter an Order ID to check.", valErr.Message)
}

func TestFetchAdaptsStatusForPoller(t *testing.T) {
	svc, sb := newSandboxService(t, clock.NewMock())
	ctx := context.Background()
	_, err := svc.CreatePayout(ctx, payment.PayoutInput{Amount: "5", Symbol: "USDT", Chain: "ETH", UID: "u", ReceiveAddress: ethAddress, OrderID: "payout-1"})
	require.NoError(t, err)
	_, err = sb.SetStatus("payout-1", "SUCCESS", "0xdone")
	require.NoError(t, err)

	res, err := svc.Fetch(ctx, "payout-1")
	require.NoError(t, err)
	require.Equal(t, order.StatusSuccess, res.Status)
	require.Equal(t, "0xdone", res.TxID)

	failing := payment.NewService(failingGateway{err: errors.New("down")}, nil, zerolog.Nop(), nil)
	_, err = failing.Fetch(ctx, "payout-1")
	require.Error(t, err)
}

func TestVerifyWebhookNeverPanics(t *testing.T) {
	svc := payment.NewService(panicGateway{}, nil, zerolog.Nop(), nil)
	require.NotPanics(t, func() {
		require.False(t, svc.VerifyWebhook("{}", "sig", "1"))
	})
	_, err := svc.ParseWebhook([]byte("{}"))
	require.ErrorIs(t, err, payment.ErrMalformedBody)
}

func TestHandleWebhookDistinguishesFailures(t *testing.T) {
	mock := clock.NewMock()
	svc, _ := newSandboxService(t, mock)
	ts := strconv.FormatInt(mock.Now().UnixMilli(), 10)

	good := `{"notifyType":"ORDER_STATUS_CHANGE","data":{"orderId":"o","status":"SUCCESS"}}`
	ev, err := svc.HandleWebhook([]byte(good), xpay.SignWebhook(testSecret, good, ts), ts)
	require.NoError(t, err)
	require.Equal(t, xpay.NotifyOrderStatusChange, ev.NotifyType)

	_, err = svc.HandleWebhook([]byte(good), "bad", ts)
	require.ErrorIs(t, err, payment.ErrVerificationFailed)

	garbage := `{"data":`
	_, err = svc.HandleWebhook([]byte(garbage), xpay.SignWebhook(testSecret, garbage, ts), ts)
	require.ErrorIs(t, err, payment.ErrMalformedBody)
}

func TestSampleIsSignedWhenInitialized(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.UnixMilli(1700000000000))
	svc, _ := newSandboxService(t, mock)

	sample := svc.Sample("payment_received")
	require.True(t, sample.Signed)
	require.Equal(t, "1700000000000", sample.Timestamp)
	require.Contains(t, sample.Body, `"PAYMENT_RECEIVED"`)
	require.True(t, svc.VerifyWebhook(sample.Body, sample.Signature, sample.Timestamp))

	unsigned := payment.NewService(nil, nil, zerolog.Nop(), mock).Sample("")
	require.False(t, unsigned.Signed)
	require.Equal(t, payment.MockSignature, unsigned.Signature)
	require.Contains(t, unsigned.Body, xpay.NotifyOrderStatusChange)
}
