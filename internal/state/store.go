package state

import (
	"sync"

	"github.com/ashureev/whiteboard-tutor/internal/report"
)

// Store is the injectable state container for one browser-tab-equivalent
// session. It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	snap    Snapshot
	subs    map[int]func(Snapshot)
	nextSub int
}

// New creates a store for sessionID in the Disconnected state.
func New(sessionID string) *Store {
	return &Store{
		snap: Snapshot{Session: Session{ID: sessionID, ConnectionState: Disconnected}},
		subs: make(map[int]func(Snapshot)),
	}
}

// Dispatch applies an action and notifies subscribers if the state changed.
// Subscribers run on the dispatching goroutine after the store lock is
// released; notifications from concurrent dispatches may interleave, so
// subscribers that care about ordering should compare Snapshot.Rev.
func (s *Store) Dispatch(a Action) {
	s.mu.Lock()
	next, changed := Reduce(s.snap, a)
	if !changed {
		s.mu.Unlock()
		return
	}
	s.snap = next
	view := next.Clone()
	subs := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(view)
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Clone()
}

// Subscribe registers fn for change notifications and returns a function
// that removes it.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Report implements report.Reporter by appending to the error list.
func (s *Store) Report(r report.Report) {
	s.Dispatch(ReportError{Report: r})
}

// SessionID returns the current session id.
func (s *Store) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Session.ID
}

// ConnectionState returns the connection state the UI currently shows.
func (s *Store) ConnectionState() ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Session.ConnectionState
}

// Errors returns the reported errors, oldest first.
func (s *Store) Errors() []report.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]report.Report(nil), s.snap.Errors...)
}

var _ report.Reporter = (*Store)(nil)
