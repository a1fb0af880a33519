package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCountersAreExposed(t *testing.T) {
	t.Parallel()

	m := New()
	m.MessagesReceived.WithLabelValues("ping").Inc()
	m.MessagesReceived.WithLabelValues("ping").Inc()
	m.ActiveConnections.Set(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`tutor_messages_received_total{type="ping"} 2`,
		"tutor_active_connections 3",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
