// Package identity provides tutoring session identifiers.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	// SessionParam is the chi URL parameter carrying the session id.
	SessionParam = "session_id"
	// SessionHeaderName lets non-path routes name a session.
	SessionHeaderName = "X-Tutor-Session-ID"
)

type contextKey int

const sessionIDKey contextKey = iota

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// NewSessionID returns a fresh random session id.
func NewSessionID() string {
	return uuid.NewString()
}

// ValidSessionID reports whether id is acceptable as a session id.
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

// SessionIDFromContext extracts the session ID stored by Middleware.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// WithSessionID returns a context carrying id.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionIDFromRequest reads the session id from the URL path, then the
// header, then the query string.
func SessionIDFromRequest(r *http.Request) string {
	sid := chi.URLParam(r, SessionParam)
	if sid == "" {
		sid = r.Header.Get(SessionHeaderName)
	}
	if sid == "" {
		sid = r.URL.Query().Get(SessionParam)
	}
	return strings.TrimSpace(sid)
}

// Middleware rejects requests without a valid session id, echoes the id in
// the session response header and stores it in the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid := SessionIDFromRequest(r)
		if !ValidSessionID(sid) {
			http.Error(w, `{"error":"invalid session id"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set(SessionHeaderName, sid)
		next.ServeHTTP(w, r.WithContext(WithSessionID(r.Context(), sid)))
	})
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
