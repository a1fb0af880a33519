// Package state holds the client-side whiteboard session store: connection
// state, session identity and the UI state pushed by the tutoring server.
//
// The store is an explicit value passed to its collaborators. It is only
// mutated through Dispatch, which runs the pure Reduce function, and read
// through Snapshot or the selectors.
package state

import (
	"time"

	"github.com/ashureev/whiteboard-tutor/internal/protocol"
	"github.com/ashureev/whiteboard-tutor/internal/report"
)

// ConnectionState is the lifecycle state of the session channel.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
	Error
)

// String returns the lowercase state name.
func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Session identifies the tutoring session and its channel state.
type Session struct {
	ID              string
	ConnectionState ConnectionState
	LastActivity    time.Time
}

// Subtitle is the tutor caption currently on screen.
type Subtitle struct {
	Text    string
	Mode    string
	Seq     uint64
	ShownAt time.Time
	TTL     time.Duration
}

// Cursor is the AI-controlled pointer.
type Cursor struct {
	X        float64
	Y        float64
	Duration time.Duration
	Visible  bool
	Seq      uint64
}

// Toast is a queued notification.
type Toast struct {
	ID   uint64
	Text string
	Kind string
	At   time.Time
}

// KnowledgeGraph is the latest topic-mastery graph pushed by the server.
type KnowledgeGraph struct {
	Nodes     []protocol.GraphNode
	Edges     []protocol.GraphEdge
	UpdatedAt time.Time
}

// Snapshot is an immutable view of the store.
type Snapshot struct {
	// Rev increases on every applied change.
	Rev     uint64
	Session Session
	// StateVersion is the version of the last applied connection state.
	StateVersion uint64

	Subtitle    *Subtitle
	Cursor      Cursor
	Annotations []protocol.Annotation
	Graph       KnowledgeGraph
	Toasts      []Toast
	Drawings    []protocol.DrawingCommand
	Errors      []report.Report

	LastPong time.Time
	Latency  time.Duration
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	out := s
	if s.Subtitle != nil {
		sub := *s.Subtitle
		out.Subtitle = &sub
	}
	out.Annotations = append([]protocol.Annotation(nil), s.Annotations...)
	out.Graph.Nodes = append([]protocol.GraphNode(nil), s.Graph.Nodes...)
	out.Graph.Edges = append([]protocol.GraphEdge(nil), s.Graph.Edges...)
	out.Toasts = append([]Toast(nil), s.Toasts...)
	out.Drawings = append([]protocol.DrawingCommand(nil), s.Drawings...)
	out.Errors = append([]report.Report(nil), s.Errors...)
	return out
}

// Connected reports whether the snapshot's channel is open.
func (s Snapshot) Connected() bool {
	return s.Session.ConnectionState == Connected
}
