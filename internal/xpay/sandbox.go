package xpay

import (
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/noah-isme/xpay-demo/internal/address"
)

//go:embed symbols.yaml
var symbolsYAML []byte

// Sandbox error codes.
const (
	CodeInvalidParam      = 1001
	CodeUnsupportedSymbol = 1002
	CodeDuplicateOrder    = 1003
	CodeOrderNotFound     = 1004
)

// DefaultSandboxTTL is how long sandbox collection orders stay payable.
const DefaultSandboxTTL = 30 * time.Minute

// Sandbox is an in-process gateway with the same surface as Client. Orders
// live in memory; statuses only change through SetStatus or expiry.
type Sandbox struct {
	apiSecret string
	tolerance time.Duration
	ttl       time.Duration
	clock     clock.Clock
	logger    zerolog.Logger
	symbols   []Symbol

	mu     sync.Mutex
	orders map[string]*sandboxOrder
}

type sandboxOrder struct {
	id        string
	status    string
	txid      string
	expiresAt time.Time
}

// SandboxOption customises a Sandbox.
type SandboxOption func(*Sandbox)

// WithSandboxClock sets the sandbox clock.
func WithSandboxClock(clk clock.Clock) SandboxOption {
	return func(s *Sandbox) {
		if clk != nil {
			s.clock = clk
		}
	}
}

// WithSandboxTTL sets the collection order lifetime.
func WithSandboxTTL(ttl time.Duration) SandboxOption {
	return func(s *Sandbox) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithSandboxLogger sets the sandbox logger.
func WithSandboxLogger(logger zerolog.Logger) SandboxOption {
	return func(s *Sandbox) {
		s.logger = logger
	}
}

// NewSandbox builds a sandbox gateway. Credentials are checked exactly like New.
func NewSandbox(cfg Config, opts ...SandboxOption) (*Sandbox, error) {
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.APISecret) == "" {
		return nil, fmt.Errorf("%w: api key and api secret are required", ErrInitialization)
	}
	var catalogue struct {
		Symbols []Symbol `yaml:"symbols"`
	}
	if err := yaml.Unmarshal(symbolsYAML, &catalogue); err != nil {
		return nil, fmt.Errorf("%w: sandbox symbols: %v", ErrInitialization, err)
	}
	s := &Sandbox{
		apiSecret: strings.TrimSpace(cfg.APISecret),
		tolerance: cfg.WebhookTolerance,
		ttl:       DefaultSandboxTTL,
		clock:     clock.New(),
		logger:    zerolog.Nop(),
		symbols:   catalogue.Symbols,
		orders:    make(map[string]*sandboxOrder),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = s.logger.With().Str("component", "xpay_sandbox").Logger()
	return s, nil
}

// CreateCollection registers a collection order with a derived deposit address.
func (s *Sandbox) CreateCollection(_ context.Context, req CollectionRequest) (Collection, error) {
	if err := s.checkSymbol(req.Symbol, req.Chain); err != nil {
		return Collection{}, err
	}
	if strings.TrimSpace(req.UID) == "" {
		return Collection{}, sandboxError(CodeInvalidParam, "uid is required")
	}
	now := s.clock.Now()
	o, err := s.register(req.OrderID, now.Add(s.ttl))
	if err != nil {
		return Collection{}, err
	}
	s.logger.Debug().Str("order_id", o.id).Msg("sandbox_collection_created")
	return Collection{
		OrderID:     o.id,
		Address:     address.Derive(req.Chain, []byte(o.id)),
		Amount:      req.Amount,
		Symbol:      req.Symbol,
		Chain:       req.Chain,
		Status:      o.status,
		ExpiredTime: o.expiresAt.Unix(),
	}, nil
}

// CreatePayout registers a payout order.
func (s *Sandbox) CreatePayout(_ context.Context, req PayoutRequest) (Payout, error) {
	if err := s.checkSymbol(req.Symbol, req.Chain); err != nil {
		return Payout{}, err
	}
	if err := address.Validate(req.Chain, req.ReceiveAddress); err != nil {
		return Payout{}, sandboxError(CodeInvalidParam, "receiveAddress: "+err.Error())
	}
	o, err := s.register(req.OrderID, time.Time{})
	if err != nil {
		return Payout{}, err
	}
	s.logger.Debug().Str("order_id", o.id).Msg("sandbox_payout_created")
	return Payout{
		OrderID:        o.id,
		Status:         o.status,
		Amount:         req.Amount,
		Symbol:         req.Symbol,
		Chain:          req.Chain,
		ReceiveAddress: req.ReceiveAddress,
	}, nil
}

// OrderStatus reports the order status, expiring pending collections whose
// deadline has passed.
func (s *Sandbox) OrderStatus(_ context.Context, orderID string) (OrderStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[strings.TrimSpace(orderID)]
	if !ok {
		return OrderStatus{}, &APIError{HTTPStatus: http.StatusNotFound, Code: CodeOrderNotFound, Message: "order not found"}
	}
	if !o.expiresAt.IsZero() && !s.clock.Now().Before(o.expiresAt) && !sandboxTerminal(o.status) {
		o.status = "EXPIRED"
	}
	return OrderStatus{OrderID: o.id, Status: o.status, TxID: o.txid}, nil
}

// SupportedSymbols filters the embedded catalogue; filters are case-insensitive.
func (s *Sandbox) SupportedSymbols(_ context.Context, chain, symbol string) ([]Symbol, error) {
	out := make([]Symbol, 0, len(s.symbols))
	for _, sym := range s.symbols {
		if chain != "" && !strings.EqualFold(sym.Chain, strings.TrimSpace(chain)) {
			continue
		}
		if symbol != "" && !strings.EqualFold(sym.Symbol, strings.TrimSpace(symbol)) {
			continue
		}
		out = append(out, sym)
	}
	return out, nil
}

// SetStatus forces an order into status. A SUCCESS without txid gets a
// generated one.
func (s *Sandbox) SetStatus(orderID, status, txid string) (OrderStatus, error) {
	status = strings.ToUpper(strings.TrimSpace(status))
	switch status {
	case "PENDING", "PENDING_CONFIRMATION", "SUCCESS", "EXPIRED", "FAILED":
	default:
		return OrderStatus{}, sandboxError(CodeInvalidParam, "unknown status "+status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[strings.TrimSpace(orderID)]
	if !ok {
		return OrderStatus{}, &APIError{HTTPStatus: http.StatusNotFound, Code: CodeOrderNotFound, Message: "order not found"}
	}
	o.status = status
	if txid = strings.TrimSpace(txid); txid != "" {
		o.txid = txid
	} else if status == "SUCCESS" && o.txid == "" {
		sum := sha256.Sum256([]byte("tx:" + o.id))
		o.txid = "0x" + hex.EncodeToString(sum[:])
	}
	s.logger.Info().Str("order_id", o.id).Str("status", status).Msg("sandbox_status_forced")
	return OrderStatus{OrderID: o.id, Status: o.status, TxID: o.txid}, nil
}

// VerifyWebhook checks a webhook signature with the sandbox secret.
func (s *Sandbox) VerifyWebhook(body, signature, timestamp string) error {
	return verifyWebhook(s.apiSecret, s.tolerance, s.clock.Now(), body, signature, timestamp)
}

// SignWebhook signs body the way the gateway does.
func (s *Sandbox) SignWebhook(body, timestamp string) string {
	return SignWebhook(s.apiSecret, body, timestamp)
}

// ParseWebhook decodes a webhook body.
func (s *Sandbox) ParseWebhook(body []byte) (Event, error) {
	return ParseWebhook(body)
}

func (s *Sandbox) register(orderID string, expiresAt time.Time) (*sandboxOrder, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		id = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[id]; exists {
		return nil, sandboxError(CodeDuplicateOrder, "order id already used")
	}
	o := &sandboxOrder{id: id, status: "PENDING", expiresAt: expiresAt}
	s.orders[id] = o
	return o, nil
}

func (s *Sandbox) checkSymbol(symbol, chain string) error {
	if strings.TrimSpace(symbol) == "" || strings.TrimSpace(chain) == "" {
		return sandboxError(CodeInvalidParam, "symbol and chain are required")
	}
	for _, sym := range s.symbols {
		if strings.EqualFold(sym.Symbol, strings.TrimSpace(symbol)) && strings.EqualFold(sym.Chain, strings.TrimSpace(chain)) {
			return nil
		}
	}
	return sandboxError(CodeUnsupportedSymbol, fmt.Sprintf("%s on %s is not supported", symbol, chain))
}

func sandboxError(code int, msg string) *APIError {
	return &APIError{HTTPStatus: http.StatusBadRequest, Code: code, Message: msg}
}

func sandboxTerminal(status string) bool {
	switch status {
	case "SUCCESS", "EXPIRED", "FAILED":
		return true
	}
	return false
}
