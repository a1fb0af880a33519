package client

import (
	"testing"
	"time"

	"github.com/ashureev/whiteboard-tutor/internal/state"
	"github.com/coder/websocket"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestMachineBackoffProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("abnormal close schedules base*2^n and increments", prop.ForAll(
		func(code int, attempts int) bool {
			m := newMachine(10, 250*time.Millisecond)
			m.connect()
			m.open()
			m.attempts = attempts

			out := m.closed(websocket.StatusCode(code))
			want := 250 * time.Millisecond * time.Duration(1<<attempts)
			return out.retry && !out.exhausted &&
				out.delay == want &&
				m.attempts == attempts+1 &&
				m.state == state.Reconnecting
		},
		gen.IntRange(1002, 4999),
		gen.IntRange(0, 9),
	))

	properties.Property("consecutive failures stop at the cap and exhaust once", prop.ForAll(
		func(limit int, closes int) bool {
			m := newMachine(limit, time.Second)
			m.connect()
			m.open()

			exhausted := 0
			last := -1
			for i := 0; i < closes; i++ {
				out := m.closed(websocket.StatusAbnormalClosure)
				if out.exhausted {
					exhausted++
				}
				if out.retry {
					if m.attempts <= last {
						return false
					}
					last = m.attempts
					m.connect()
				}
			}

			wantAttempts := closes
			if wantAttempts > limit {
				wantAttempts = limit
			}
			wantExhausted := 0
			if closes > limit {
				wantExhausted = 1
			}
			return m.attempts == wantAttempts && exhausted == wantExhausted
		},
		gen.IntRange(0, 10),
		gen.IntRange(0, 25),
	))

	properties.Property("open resets attempts", prop.ForAll(
		func(failures int) bool {
			m := newMachine(10, time.Second)
			m.connect()
			for i := 0; i < failures; i++ {
				m.closed(websocket.StatusAbnormalClosure)
				m.connect()
			}
			m.open()
			return m.attempts == 0 && m.state == state.Connected
		},
		gen.IntRange(0, 10),
	))

	properties.TestingRun(t)
}

func TestMachineCleanCloseCodesSuppressReconnect(t *testing.T) {
	t.Parallel()

	for _, code := range []websocket.StatusCode{websocket.StatusNormalClosure, websocket.StatusGoingAway} {
		m := newMachine(5, time.Second)
		m.connect()
		m.open()

		out := m.closed(code)
		if out.retry || out.exhausted {
			t.Errorf("code %d: unexpected outcome %+v", code, out)
		}
		if m.state != state.Disconnected {
			t.Errorf("code %d: expected disconnected, got %s", code, m.state)
		}
	}
}

func TestMachineIgnoresCloseAfterDisconnect(t *testing.T) {
	t.Parallel()

	m := newMachine(5, time.Second)
	m.connect()
	m.open()
	m.disconnect()

	if out := m.closed(websocket.StatusAbnormalClosure); out.retry || out.exhausted {
		t.Fatalf("close after disconnect produced %+v", out)
	}
	if m.state != state.Disconnected || m.attempts != 0 {
		t.Fatalf("unexpected machine %+v", m)
	}
}

func TestBackoffDelayIsBounded(t *testing.T) {
	t.Parallel()

	if got := backoffDelay(time.Millisecond, -3); got != time.Millisecond {
		t.Errorf("negative attempt: got %s", got)
	}
	if got, want := backoffDelay(time.Millisecond, 100), backoffDelay(time.Millisecond, maxBackoffShift); got != want {
		t.Errorf("large attempt: got %s, want %s", got, want)
	}
}
