package tutor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/whiteboard-tutor/internal/domain"
	"github.com/coder/websocket"
)

// Closer is the part of a WebSocket connection the manager needs.
type Closer interface {
	Close(code websocket.StatusCode, reason string) error
}

// SessionManager holds live tutoring sessions and the connection currently
// attached to each. A session outlives its connections until reset or expiry.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*domain.TutorSession
	active   map[string]Closer
	logger   *slog.Logger
}

// NewSessionManager creates an empty session manager.
func NewSessionManager(logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		sessions: make(map[string]*domain.TutorSession),
		active:   make(map[string]Closer),
		logger:   logger,
	}
}

// GetOrCreate returns the session for id, creating it when missing.
func (m *SessionManager) GetOrCreate(id string, now time.Time) (*domain.TutorSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		return s, false
	}
	s := domain.NewTutorSession(id, now)
	m.sessions[id] = s
	return s, true
}

// Get returns the session for id.
func (m *SessionManager) Get(id string) (*domain.TutorSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Register attaches conn to a session, closing any connection it replaces.
func (m *SessionManager) Register(id string, conn Closer) {
	m.mu.Lock()
	existing, exists := m.active[id]
	m.active[id] = conn
	m.mu.Unlock()

	if exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}
	m.logger.Info("Tutor session registered", "session_id", id)
}

// Unregister detaches conn if it is still the session's connection.
func (m *SessionManager) Unregister(id string, conn Closer) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, exists := m.active[id]; exists && current == conn {
		delete(m.active, id)
		m.logger.Info("Tutor session unregistered", "session_id", id)
		return true
	}
	return false
}

// Active returns the connection attached to id, if any.
func (m *SessionManager) Active(id string) Closer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[id]
}

// Delete drops a session and closes its connection with service-restart,
// which clients treat as a reason to reconnect.
func (m *SessionManager) Delete(id string) bool {
	m.mu.Lock()
	_, existed := m.sessions[id]
	delete(m.sessions, id)
	conn := m.active[id]
	delete(m.active, id)
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusServiceRestart, "session reset")
	}
	if existed {
		m.logger.Info("Tutor session deleted", "session_id", id)
	}
	return existed
}

// Idle returns sessions without a connection whose last activity is older
// than ttl.
func (m *SessionManager) Idle(ttl time.Duration, now time.Time) []*domain.TutorSession {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.TutorSession
	for id, s := range m.sessions {
		if _, connected := m.active[id]; connected {
			continue
		}
		if now.Sub(s.LastActivity()) > ttl {
			out = append(out, s)
		}
	}
	return out
}

// Evict removes s if it is still the stored session for its id and has no
// connection.
func (m *SessionManager) Evict(s *domain.TutorSession) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessions[s.ID] != s {
		return false
	}
	if _, connected := m.active[s.ID]; connected {
		return false
	}
	delete(m.sessions, s.ID)
	return true
}

// All returns every session held in memory.
func (m *SessionManager) All() []*domain.TutorSession {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*domain.TutorSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Count returns the number of sessions and of attached connections.
func (m *SessionManager) Count() (sessions, connections int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions), len(m.active)
}

// CloseAll closes every attached connection with going-away.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	conns := make(map[string]Closer, len(m.active))
	for id, c := range m.active {
		conns[id] = c
	}
	m.active = make(map[string]Closer)
	m.mu.Unlock()

	for id, c := range conns {
		_ = c.Close(websocket.StatusGoingAway, "server shutting down")
		m.logger.Info("Tutor session closed", "session_id", id)
	}
}
