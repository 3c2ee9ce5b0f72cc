package payment

import (
	"fmt"
	"net/http"

	"github.com/noah-isme/xpay-demo/internal/common"
)

var (
	// ErrNotInitialized is returned by every gateway operation when the client
	// could not be built from the configured credentials.
	ErrNotInitialized = common.NewAppError("SDK_NOT_INITIALIZED", "SDK not initialized. Please check your API credentials.", http.StatusServiceUnavailable, nil)
	// ErrVerificationFailed reports a webhook whose signature did not verify.
	ErrVerificationFailed = common.NewAppError("INVALID_SIGNATURE", "webhook signature verification failed", http.StatusUnauthorized, nil)
	// ErrMalformedBody reports a webhook body that verified but could not be parsed.
	ErrMalformedBody = common.NewAppError("MALFORMED_BODY", "invalid webhook body", http.StatusBadRequest, nil)
)

// RequestError wraps a failed gateway call. It is never fatal; the caller may retry.
type RequestError struct {
	Op  string
	Err error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// ValidationError reports caller input rejected before reaching the gateway.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }
