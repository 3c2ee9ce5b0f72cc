package security

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/noah-isme/xpay-demo/internal/common"
)

// CSRF protects cookie-bound session writes with the double-submit
// technique. Callers that name their session in a header are not relying on
// the ambient cookie and pass through.
type CSRF struct {
	Header        string
	SessionHeader string
}

// Middleware requires unsafe requests to echo the CSRF cookie in a header.
func (c CSRF) Middleware(next http.Handler) http.Handler {
	headerName := strings.TrimSpace(c.Header)
	if headerName == "" {
		headerName = "X-CSRF-Token"
	}
	sessionHeader := strings.TrimSpace(c.SessionHeader)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
			next.ServeHTTP(w, r)
			return
		}
		if sessionHeader != "" && strings.TrimSpace(r.Header.Get(sessionHeader)) != "" {
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimSpace(r.Header.Get(headerName))
		if token == "" {
			common.JSONError(w, http.StatusForbidden, "CSRF_FAILED", "missing csrf token", nil)
			return
		}
		cookie, err := r.Cookie(headerName)
		if err != nil || strings.TrimSpace(cookie.Value) == "" {
			common.JSONError(w, http.StatusForbidden, "CSRF_FAILED", "missing csrf cookie", nil)
			return
		}
		if len(token) != len(cookie.Value) || subtle.ConstantTimeCompare([]byte(token), []byte(cookie.Value)) != 1 {
			common.JSONError(w, http.StatusForbidden, "CSRF_FAILED", "invalid csrf token", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
