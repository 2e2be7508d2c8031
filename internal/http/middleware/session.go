package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type ctxKey int

const sessionCtxKey ctxKey = iota

// SessionHeader carries the widget session id on every API call.
const SessionHeader = "X-Session-Id"

const sessionCookie = "bw_session"

// Session resolves the widget session id from the request header or
// cookie, minting a new one (and setting the cookie) when absent.
func Session(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid := strings.TrimSpace(r.Header.Get(SessionHeader))
		if sid == "" {
			if c, err := r.Cookie(sessionCookie); err == nil {
				sid = c.Value
			}
		}
		if sid == "" {
			sid = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     sessionCookie,
				Value:    sid,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		w.Header().Set(SessionHeader, sid)
		ctx := context.WithValue(r.Context(), sessionCtxKey, sid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SessionID returns the session id resolved by Session, or "".
func SessionID(ctx context.Context) string {
	sid, _ := ctx.Value(sessionCtxKey).(string)
	return sid
}
