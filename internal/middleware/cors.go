// Package middleware provides HTTP middleware for the tutor API.
package middleware

import (
	"net/http"

	"github.com/ashureev/whiteboard-tutor/internal/identity"
)

// CORS lets the whiteboard page call the API from allowedOrigins. A "*"
// entry admits any origin but never with credentials. The session header is
// accepted on requests and exposed on responses so the page can read the id
// a route resolved.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	explicit := make(map[string]bool, len(allowedOrigins))
	wildcard := false
	for _, o := range allowedOrigins {
		switch o {
		case "":
		case "*":
			wildcard = true
		default:
			explicit[o] = true
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			h := w.Header()
			h.Add("Vary", "Origin")

			if origin != "" && (wildcard || explicit[origin]) {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, "+identity.SessionHeaderName)
				h.Set("Access-Control-Expose-Headers", identity.SessionHeaderName)
				// Echoing a wildcard-matched origin with credentials would enable CSRF.
				if explicit[origin] {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
