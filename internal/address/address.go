package address

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/ethereum/go-ethereum/common"
)

// Chains with address format checks.
const (
	ChainTRON = "TRON"
	ChainETH  = "ETH"
	ChainBSC  = "BSC"
)

// tronVersion is the base58check version byte of TRON mainnet addresses.
const tronVersion = 0x41

var (
	// ErrEmpty is returned for a blank address.
	ErrEmpty = errors.New("address is required")
	// ErrMalformed is returned when an address does not match its chain format.
	ErrMalformed = errors.New("address is malformed")
)

// NormalizeChain upper-cases and trims a chain name.
func NormalizeChain(chain string) string {
	return strings.ToUpper(strings.TrimSpace(chain))
}

// Validate checks addr against the format of chain. Chains without a known
// format only require a non-empty value.
func Validate(chain, addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ErrEmpty
	}
	switch NormalizeChain(chain) {
	case ChainETH, ChainBSC:
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("%w: expected 0x-prefixed 20-byte hex for %s", ErrMalformed, NormalizeChain(chain))
		}
	case ChainTRON:
		payload, version, err := base58.CheckDecode(addr)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if version != tronVersion || len(payload) != common.AddressLength {
			return fmt.Errorf("%w: not a TRON address", ErrMalformed)
		}
	}
	return nil
}

// Derive builds a deterministic, well-formed address for chain from seed.
// Used by the sandbox gateway to hand out deposit addresses.
func Derive(chain string, seed []byte) string {
	sum := sha256.Sum256(seed)
	raw := sum[:common.AddressLength]
	switch NormalizeChain(chain) {
	case ChainTRON:
		return base58.CheckEncode(raw, tronVersion)
	default:
		return common.BytesToAddress(raw).Hex()
	}
}
