package client

import (
	"time"

	"github.com/ashureev/whiteboard-tutor/internal/state"
	"github.com/coder/websocket"
)

// maxBackoffShift bounds the exponent so the delay cannot overflow.
const maxBackoffShift = 30

// closeOutcome is what the manager must do after a channel closes.
type closeOutcome struct {
	retry     bool
	delay     time.Duration
	exhausted bool
}

// machine is the connection lifecycle without any I/O. The manager feeds it
// channel events and API calls and performs the effects it returns.
type machine struct {
	state       state.ConnectionState
	attempts    int
	maxAttempts int
	baseDelay   time.Duration
}

func newMachine(maxAttempts int, baseDelay time.Duration) machine {
	return machine{
		state:       state.Disconnected,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
	}
}

// connect starts a dial, either user-requested or scheduled.
func (m *machine) connect() {
	m.state = state.Connecting
}

// reset clears the attempt budget for an explicit user request.
func (m *machine) reset() {
	m.attempts = 0
}

func (m *machine) open() {
	m.attempts = 0
	m.state = state.Connected
}

// closed handles a channel close (or failed dial, reported as 1006).
func (m *machine) closed(code websocket.StatusCode) closeOutcome {
	switch m.state {
	case state.Disconnected, state.Error:
		return closeOutcome{}
	}

	if suppressesReconnect(code) {
		m.state = state.Disconnected
		return closeOutcome{}
	}
	if m.attempts >= m.maxAttempts {
		m.state = state.Error
		return closeOutcome{exhausted: true}
	}

	delay := backoffDelay(m.baseDelay, m.attempts)
	m.attempts++
	m.state = state.Reconnecting
	return closeOutcome{retry: true, delay: delay}
}

func (m *machine) disconnect() {
	m.attempts = 0
	m.state = state.Disconnected
}

// suppressesReconnect reports whether a close code ends the session cleanly.
func suppressesReconnect(code websocket.StatusCode) bool {
	return code == websocket.StatusNormalClosure || code == websocket.StatusGoingAway
}

// backoffDelay returns base * 2^attempt.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxBackoffShift {
		attempt = maxBackoffShift
	}
	return base * time.Duration(1<<attempt)
}
