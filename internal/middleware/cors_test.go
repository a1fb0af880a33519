package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ashureev/whiteboard-tutor/internal/identity"
)

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	tests := []struct {
		name       string
		allowed    []string
		origin     string
		method     string
		wantOrigin string
		wantCreds  string
		wantStatus int
	}{
		{"explicit origin", []string{"https://tutor.example.com"}, "https://tutor.example.com", http.MethodGet, "https://tutor.example.com", "true", http.StatusTeapot},
		{"wildcard has no credentials", []string{"*"}, "https://other.example.com", http.MethodGet, "https://other.example.com", "", http.StatusTeapot},
		{"foreign origin", []string{"https://tutor.example.com"}, "https://evil.example.com", http.MethodGet, "", "", http.StatusTeapot},
		{"same-origin request", []string{"*"}, "", http.MethodGet, "", "", http.StatusTeapot},
		{"preflight", []string{"*"}, "https://tutor.example.com", http.MethodOptions, "https://tutor.example.com", "", http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/health", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()

			CORS(tt.allowed)(next).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != tt.wantCreds {
				t.Errorf("Allow-Credentials = %q, want %q", got, tt.wantCreds)
			}
			if got := rec.Header().Get("Vary"); got != "Origin" {
				t.Errorf("Vary = %q, want Origin", got)
			}
		})
	}
}

func TestCORSSessionHeader(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {})
	req := httptest.NewRequest(http.MethodGet, "/api/session/s1/status", nil)
	req.Header.Set("Origin", "https://tutor.example.com")
	rec := httptest.NewRecorder()

	CORS([]string{"https://tutor.example.com"})(next).ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Expose-Headers"); got != identity.SessionHeaderName {
		t.Errorf("Expose-Headers = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type, "+identity.SessionHeaderName {
		t.Errorf("Allow-Headers = %q", got)
	}
}
