package qr

import (
	"errors"
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/noah-isme/xpay-demo/internal/address"
)

// DefaultSize is the PNG edge length in pixels.
const DefaultSize = 200

// Payload builds the wallet URI encoded in a deposit QR code.
func Payload(chain, addr, symbol, amount string) string {
	switch address.NormalizeChain(chain) {
	case address.ChainTRON:
		return fmt.Sprintf("tron:%s?token=%s&amount=%s", addr, symbol, amount)
	case address.ChainETH:
		return fmt.Sprintf("ethereum:%s@1?value=%s&symbol=%s", addr, amount, symbol)
	case address.ChainBSC:
		return fmt.Sprintf("binance:%s?amount=%s&token=%s", addr, amount, symbol)
	default:
		return addr
	}
}

// PNG renders content as a QR code image. Non-positive sizes use DefaultSize.
func PNG(content string, size int) ([]byte, error) {
	if strings.TrimSpace(content) == "" {
		return nil, errors.New("qr: empty content")
	}
	if size <= 0 {
		size = DefaultSize
	}
	return qrcode.Encode(content, qrcode.Medium, size)
}
