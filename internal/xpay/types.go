package xpay

// CollectionRequest opens a deposit order for a user.
type CollectionRequest struct {
	Amount  string `json:"amount"`
	Symbol  string `json:"symbol"`
	Chain   string `json:"chain"`
	UID     string `json:"uid"`
	OrderID string `json:"orderId"`
}

// Collection is the gateway's answer to a collection request.
type Collection struct {
	OrderID string `json:"orderId"`
	Address string `json:"address"`
	Amount  string `json:"amount,omitempty"`
	Symbol  string `json:"symbol,omitempty"`
	Chain   string `json:"chain,omitempty"`
	Status  string `json:"status,omitempty"`
	// ExpiredTime is the order expiry in unix seconds.
	ExpiredTime int64 `json:"expiredTime"`
}

// PayoutRequest sends funds to a user's receive address.
type PayoutRequest struct {
	Amount         string `json:"amount"`
	Symbol         string `json:"symbol"`
	Chain          string `json:"chain"`
	UID            string `json:"uid"`
	ReceiveAddress string `json:"receiveAddress"`
	OrderID        string `json:"orderId"`
}

// Payout is the gateway's answer to a payout request.
type Payout struct {
	OrderID        string `json:"orderId"`
	Status         string `json:"status"`
	Amount         string `json:"amount,omitempty"`
	Symbol         string `json:"symbol,omitempty"`
	Chain          string `json:"chain,omitempty"`
	ReceiveAddress string `json:"receiveAddress,omitempty"`
	TxID           string `json:"txid,omitempty"`
}

// OrderStatus is the current state of an order.
type OrderStatus struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
	TxID    string `json:"txid,omitempty"`
}

// Symbol is one supported token on one chain.
type Symbol struct {
	Symbol          string `json:"symbol" yaml:"symbol"`
	Chain           string `json:"chain" yaml:"chain"`
	Decimals        int    `json:"decimals" yaml:"decimals"`
	ContractAddress string `json:"contractAddress,omitempty" yaml:"contract"`
	MinAmount       string `json:"minAmount,omitempty" yaml:"min_amount"`
}
