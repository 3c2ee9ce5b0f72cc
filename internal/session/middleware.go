package session

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/noah-isme/xpay-demo/internal/common"
)

const (
	// CookieName carries the session id for browser callers.
	CookieName = "xpay_session"
	// HeaderName carries the session id for API callers.
	HeaderName = "X-Session-ID"
)

// Middleware resolves the caller's session id from the header or cookie,
// issuing a new one when neither holds a valid id. The id is stored on the
// request context and echoed in the response header.
type Middleware struct {
	Secure bool
}

// Handler wraps next.
func (m Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := fromRequest(r)
		if id == "" {
			id = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     CookieName,
				Value:    id,
				Path:     "/",
				HttpOnly: true,
				Secure:   m.Secure,
				SameSite: http.SameSiteLaxMode,
			})
		}
		w.Header().Set(HeaderName, id)
		next.ServeHTTP(w, r.WithContext(common.WithSessionID(r.Context(), id)))
	})
}

func fromRequest(r *http.Request) string {
	if id := validID(r.Header.Get(HeaderName)); id != "" {
		return id
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return validID(c.Value)
	}
	return ""
}

func validID(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return ""
	}
	return id.String()
}
