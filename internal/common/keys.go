package common

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sha256Hex returns the lowercase hex SHA-256 of input.
func Sha256Hex(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// WebhookReplayKey is the Redis key marking a gateway callback as seen.
// The timestamp is part of the key, so a re-signed retry is not a replay.
func WebhookReplayKey(timestamp string, body []byte) string {
	return "wh:xpay:" + Sha256Hex(timestamp+"."+string(body))
}

// IdempotencyKey is the Redis key reserving a client Idempotency-Key within
// one session and route.
func IdempotencyKey(sessionID, method, path, clientKey string) string {
	return "idem:" + Sha256Hex(sessionID+"|"+method+" "+path+"|"+clientKey)
}
