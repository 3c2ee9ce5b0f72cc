package payment

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/xpay-demo/internal/address"
	"github.com/noah-isme/xpay-demo/internal/cache"
	"github.com/noah-isme/xpay-demo/internal/obs"
	"github.com/noah-isme/xpay-demo/internal/order"
	"github.com/noah-isme/xpay-demo/internal/poll"
	"github.com/noah-isme/xpay-demo/internal/xpay"
)

// CollectionInput is a caller request to open a collection order.
type CollectionInput struct {
	Amount  string `json:"amount" validate:"required,positive_decimal"`
	Symbol  string `json:"symbol" validate:"required"`
	Chain   string `json:"chain" validate:"required"`
	UID     string `json:"uid" validate:"required"`
	OrderID string `json:"orderId"`
}

// PayoutInput is a caller request to open a payout order.
type PayoutInput struct {
	Amount         string `json:"amount" validate:"required,positive_decimal"`
	Symbol         string `json:"symbol" validate:"required"`
	Chain          string `json:"chain" validate:"required"`
	UID            string `json:"uid" validate:"required"`
	ReceiveAddress string `json:"receiveAddress" validate:"required"`
	OrderID        string `json:"orderId"`
}

// CollectionResult pairs the gateway response with the order to display.
type CollectionResult struct {
	Response xpay.Collection `json:"response"`
	Order    order.Order     `json:"order"`
}

// PayoutResult pairs the gateway response with the order to display.
type PayoutResult struct {
	Response xpay.Payout `json:"response"`
	Order    order.Order `json:"order"`
}

// Service is the application-facing wrapper around the gateway. Every call
// is logged, traced and counted; gateway failures come back as *RequestError.
type Service struct {
	gw       Gateway
	initErr  error
	validate *validator.Validate
	logger   zerolog.Logger
	clock    clock.Clock
	symbols  SymbolCache
}

// SymbolCache stores supported-symbol lookups between gateway calls.
type SymbolCache interface {
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	SetJSON(ctx context.Context, key string, v any) error
}

// NewService wraps gw. When gw is nil the service reports initErr (or
// ErrNotInitialized) from every gateway operation.
func NewService(gw Gateway, initErr error, logger zerolog.Logger, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		gw:       gw,
		initErr:  initErr,
		validate: newValidator(),
		logger:   logger.With().Str("component", "payment").Logger(),
		clock:    clk,
	}
}

// UseSymbolCache enables caching of SupportedSymbols results.
func (s *Service) UseSymbolCache(c SymbolCache) { s.symbols = c }

// Initialized reports whether a gateway is available.
func (s *Service) Initialized() bool { return s != nil && s.gw != nil }

// InitError returns the initialization failure, if any.
func (s *Service) InitError() error {
	if s.Initialized() {
		return nil
	}
	if s != nil && s.initErr != nil {
		return s.initErr
	}
	return ErrNotInitialized
}

// Gateway exposes the underlying gateway, nil when not initialized.
func (s *Service) Gateway() Gateway {
	if s == nil {
		return nil
	}
	return s.gw
}

// CheckCollection reports whether in would be accepted by CreateCollection
// without calling the gateway.
func (s *Service) CheckCollection(in CollectionInput) error {
	if !s.Initialized() {
		return ErrNotInitialized
	}
	return s.check(trimCollection(in), "collection")
}

// CheckPayout reports whether in would be accepted by CreatePayout without
// calling the gateway.
func (s *Service) CheckPayout(in PayoutInput) error {
	if !s.Initialized() {
		return ErrNotInitialized
	}
	in = trimPayout(in)
	if err := s.check(in, "payout"); err != nil {
		return err
	}
	if err := address.Validate(in.Chain, in.ReceiveAddress); err != nil {
		return &ValidationError{Field: "receiveAddress", Message: fmt.Sprintf("Receive address is not valid for %s.", address.NormalizeChain(in.Chain))}
	}
	return nil
}

// CreateCollection validates input, opens the order and builds the order to display.
func (s *Service) CreateCollection(ctx context.Context, in CollectionInput) (res CollectionResult, err error) {
	if err := s.CheckCollection(in); err != nil {
		return res, err
	}
	in = trimCollection(in)
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.CreateCollection")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.symbol", in.Symbol),
		attribute.String("payment.chain", in.Chain),
	)
	defer s.countOrder(order.TypeCollection, &err)

	resp, err := s.gw.CreateCollection(ctx, xpay.CollectionRequest(in))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create collection")
		return res, s.requestError("create collection order", err)
	}
	id := resp.OrderID
	if id == "" {
		id = in.OrderID
	}
	span.SetAttributes(attribute.String("order.id", id))
	o := order.Order{
		ID:      id,
		Type:    order.TypeCollection,
		Amount:  in.Amount,
		Symbol:  in.Symbol,
		Chain:   in.Chain,
		Address: resp.Address,
		Status:  order.StatusPending,
	}
	if resp.ExpiredTime > 0 {
		o.ExpiresAt = time.Unix(resp.ExpiredTime, 0)
	}
	s.logger.Info().Str("order_id", id).Str("chain", in.Chain).Str("symbol", in.Symbol).Msg("collection_created")
	return CollectionResult{Response: resp, Order: o}, nil
}

// CreatePayout validates input, including the receive address format, and opens the order.
func (s *Service) CreatePayout(ctx context.Context, in PayoutInput) (res PayoutResult, err error) {
	if err := s.CheckPayout(in); err != nil {
		return res, err
	}
	in = trimPayout(in)
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.CreatePayout")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.symbol", in.Symbol),
		attribute.String("payment.chain", in.Chain),
	)
	defer s.countOrder(order.TypePayout, &err)

	resp, err := s.gw.CreatePayout(ctx, xpay.PayoutRequest(in))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create payout")
		return res, s.requestError("create payout order", err)
	}
	id := resp.OrderID
	if id == "" {
		id = in.OrderID
	}
	status, ok := order.ParseStatus(resp.Status)
	if !ok {
		status = order.StatusPending
	}
	o := order.Order{
		ID:      id,
		Type:    order.TypePayout,
		Amount:  in.Amount,
		Symbol:  in.Symbol,
		Chain:   in.Chain,
		Address: in.ReceiveAddress,
		Status:  status,
		TxID:    resp.TxID,
	}
	s.logger.Info().Str("order_id", id).Str("chain", in.Chain).Str("symbol", in.Symbol).Msg("payout_created")
	return PayoutResult{Response: resp, Order: o}, nil
}

// OrderStatus queries the gateway for the current status of an order.
func (s *Service) OrderStatus(ctx context.Context, orderID string) (xpay.OrderStatus, error) {
	if !s.Initialized() {
		return xpay.OrderStatus{}, ErrNotInitialized
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return xpay.OrderStatus{}, &ValidationError{Field: "orderId", Message: "Please enter an Order ID to check."}
	}
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.OrderStatus")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	st, err := s.gw.OrderStatus(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		return xpay.OrderStatus{}, s.requestError("check order status", err)
	}
	if st.OrderID == "" {
		st.OrderID = orderID
	}
	return st, nil
}

// Fetch adapts OrderStatus to the poller.
func (s *Service) Fetch(ctx context.Context, orderID string) (poll.Result, error) {
	st, err := s.OrderStatus(ctx, orderID)
	if err != nil {
		return poll.Result{}, err
	}
	status, _ := order.ParseStatus(st.Status)
	return poll.Result{OrderID: st.OrderID, Status: status, TxID: st.TxID}, nil
}

// SupportedSymbols lists gateway symbols with optional chain and symbol filters.
func (s *Service) SupportedSymbols(ctx context.Context, chain, symbol string) ([]xpay.Symbol, error) {
	if !s.Initialized() {
		return nil, ErrNotInitialized
	}
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.SupportedSymbols")
	defer span.End()

	key := cache.SymbolsKey(chain, symbol)
	if s.symbols != nil {
		var cached []xpay.Symbol
		hit, err := s.symbols.GetJSON(ctx, key, &cached)
		if err != nil {
			s.logger.Warn().Err(err).Msg("symbols_cache_read_failed")
		} else if hit {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return cached, nil
		}
	}

	syms, err := s.gw.SupportedSymbols(ctx, strings.TrimSpace(chain), strings.TrimSpace(symbol))
	if err != nil {
		span.RecordError(err)
		return nil, s.requestError("get supported symbols", err)
	}
	if s.symbols != nil {
		if err := s.symbols.SetJSON(ctx, key, syms); err != nil {
			s.logger.Warn().Err(err).Msg("symbols_cache_write_failed")
		}
	}
	return syms, nil
}

// VerifyWebhook reports whether the signature is valid. Any failure inside the
// gateway, including a panic, is reported as invalid.
func (s *Service) VerifyWebhook(body, signature, timestamp string) (valid bool) {
	if !s.Initialized() {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("webhook_verify_panic")
			valid = false
		}
	}()
	if err := s.gw.VerifyWebhook(body, signature, timestamp); err != nil {
		s.logger.Warn().Err(err).Msg("webhook_verify_failed")
		return false
	}
	return true
}

// ParseWebhook decodes a webhook body. Any gateway failure becomes ErrMalformedBody.
func (s *Service) ParseWebhook(body []byte) (ev xpay.Event, err error) {
	if !s.Initialized() {
		return xpay.Event{}, ErrNotInitialized
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("webhook_parse_panic")
			ev, err = xpay.Event{}, ErrMalformedBody
		}
	}()
	ev, err = s.gw.ParseWebhook(body)
	if err != nil {
		s.logger.Warn().Err(err).Msg("webhook_parse_failed")
		return xpay.Event{}, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	return ev, nil
}

// HandleWebhook verifies then parses a webhook.
func (s *Service) HandleWebhook(body []byte, signature, timestamp string) (xpay.Event, error) {
	if !s.Initialized() {
		return xpay.Event{}, ErrNotInitialized
	}
	if !s.VerifyWebhook(string(body), signature, timestamp) {
		return xpay.Event{}, ErrVerificationFailed
	}
	return s.ParseWebhook(body)
}

func (s *Service) check(in any, kind string) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Message: err.Error()}
	}
	fe := fieldErrs[0]
	return &ValidationError{Field: fe.Field(), Message: validationMessage(fe, kind)}
}

func (s *Service) requestError(op string, err error) error {
	s.logger.Error().Err(err).Str("op", op).Msg("gateway_request_failed")
	return &RequestError{Op: op, Err: err}
}

func (s *Service) countOrder(t order.Type, errp *error) {
	if obs.OrdersCreatedTotal == nil {
		return
	}
	result := "success"
	if errp != nil && *errp != nil {
		result = "error"
	}
	obs.OrdersCreatedTotal.WithLabelValues(strings.ToLower(string(t)), result).Inc()
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("positive_decimal", func(fl validator.FieldLevel) bool {
		return positiveDecimal(fl.Field().String())
	})
	return v
}

// positiveDecimal accepts plain base-10 amounts only: no exponent, base
// prefix or digit separators.
func positiveDecimal(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" || strings.IndexFunc(v, notPlainDecimal) >= 0 {
		return false
	}
	d, err := decimal.NewFromString(v)
	return err == nil && d.IsPositive()
}

func notPlainDecimal(r rune) bool {
	return (r < '0' || r > '9') && r != '.' && r != '-' && r != '+'
}

func validationMessage(fe validator.FieldError, kind string) string {
	switch fe.Field() {
	case "uid":
		return fmt.Sprintf("User ID is required for %s orders.", kind)
	case "receiveAddress":
		return fmt.Sprintf("Receive address is required for %s orders.", kind)
	case "amount":
		if fe.Tag() == "positive_decimal" {
			return "Amount must be a positive number."
		}
		return "Amount is required."
	case "symbol":
		return "Symbol is required."
	case "chain":
		return "Chain is required."
	}
	return fmt.Sprintf("%s is invalid.", fe.Field())
}

func trimCollection(in CollectionInput) CollectionInput {
	in.Amount = strings.TrimSpace(in.Amount)
	in.Symbol = strings.TrimSpace(in.Symbol)
	in.Chain = strings.TrimSpace(in.Chain)
	in.UID = strings.TrimSpace(in.UID)
	in.OrderID = strings.TrimSpace(in.OrderID)
	return in
}

func trimPayout(in PayoutInput) PayoutInput {
	in.Amount = strings.TrimSpace(in.Amount)
	in.Symbol = strings.TrimSpace(in.Symbol)
	in.Chain = strings.TrimSpace(in.Chain)
	in.UID = strings.TrimSpace(in.UID)
	in.ReceiveAddress = strings.TrimSpace(in.ReceiveAddress)
	in.OrderID = strings.TrimSpace(in.OrderID)
	return in
}
