package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// JSON stores JSON payloads in Redis under a key prefix.
type JSON struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewJSON constructs a cache helper. A nil client or non-positive ttl yields
// a cache that never hits and never stores.
func NewJSON(client *redis.Client, prefix string, ttl time.Duration) *JSON {
	return &JSON{client: client, prefix: prefix, ttl: ttl}
}

func (c *JSON) enabled() bool { return c != nil && c.client != nil && c.ttl > 0 }

// GetJSON unmarshals a cached payload into dst. It reports whether the key existed.
func (c *JSON) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	if !c.enabled() || key == "" {
		return false, nil
	}
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON serialises v and stores it with the configured TTL.
func (c *JSON) SetJSON(ctx context.Context, key string, v any) error {
	if !c.enabled() || key == "" {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+key, data, c.ttl).Err()
}

// SymbolsKey is the cache key for a supported-symbols query. Filters are
// matched case-insensitively by the gateway, so the key is normalised.
func SymbolsKey(chain, symbol string) string {
	chain = strings.ToUpper(strings.TrimSpace(chain))
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if chain == "" {
		chain = "*"
	}
	if symbol == "" {
		symbol = "*"
	}
	return "symbols:" + chain + ":" + symbol
}
