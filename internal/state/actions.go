package state

import (
	"time"

	"github.com/ashureev/whiteboard-tutor/internal/protocol"
	"github.com/ashureev/whiteboard-tutor/internal/report"
)

// Bounds on the UI lists. Oldest entries are dropped first.
const (
	MaxErrors      = 50
	MaxToasts      = 20
	MaxDrawings    = 200
	MaxAnnotations = 100
)

// Action is a state mutation handled by Reduce.
type Action interface {
	action()
}

// SetConnectionState records a channel transition. Version orders
// transitions published from different goroutines; stale versions are
// ignored. Zero means unversioned.
type SetConnectionState struct {
	State   ConnectionState
	Version uint64
	At      time.Time
}

// Touch marks session activity.
type Touch struct {
	At time.Time
}

// ResetSession starts a fresh session under a new id and clears UI state.
type ResetSession struct {
	ID string
}

// ShowSubtitle replaces the current subtitle.
type ShowSubtitle struct {
	Text string
	Mode string
	Seq  uint64
	At   time.Time
	TTL  time.Duration
}

// ClearSubtitle removes the subtitle if it is still the one with Seq.
type ClearSubtitle struct {
	Seq uint64
}

// MoveCursor moves and shows the AI cursor.
type MoveCursor struct {
	X        float64
	Y        float64
	Duration time.Duration
	Seq      uint64
}

// HideCursor hides the AI cursor if no later move happened.
type HideCursor struct {
	Seq uint64
}

// AddAnnotation adds or replaces (by id) an annotation.
type AddAnnotation struct {
	Annotation protocol.Annotation
}

// RemoveAnnotation removes an annotation by id.
type RemoveAnnotation struct {
	ID string
}

// SetKnowledgeGraph replaces the knowledge graph.
type SetKnowledgeGraph struct {
	Nodes []protocol.GraphNode
	Edges []protocol.GraphEdge
	At    time.Time
}

// PushToast queues a toast.
type PushToast struct {
	ID   uint64
	Text string
	Kind string
	At   time.Time
}

// DismissToast removes a toast by id.
type DismissToast struct {
	ID uint64
}

// AppendDrawing records a drawing command for the canvas.
type AppendDrawing struct {
	Command protocol.DrawingCommand
}

// RecordPong stores the liveness reply and its round-trip latency.
type RecordPong struct {
	At      time.Time
	Latency time.Duration
}

// ReportError appends to the user-visible error list.
type ReportError struct {
	Report report.Report
}

// ClearErrors empties the error list.
type ClearErrors struct{}

func (SetConnectionState) action() {}
func (Touch) action()              {}
func (ResetSession) action()       {}
func (ShowSubtitle) action()       {}
func (ClearSubtitle) action()      {}
func (MoveCursor) action()         {}
func (HideCursor) action()         {}
func (AddAnnotation) action()      {}
func (RemoveAnnotation) action()   {}
func (SetKnowledgeGraph) action()  {}
func (PushToast) action()          {}
func (DismissToast) action()       {}
func (AppendDrawing) action()      {}
func (RecordPong) action()         {}
func (ReportError) action()        {}
func (ClearErrors) action()        {}

// Reduce applies a to s and reports whether anything changed. It never
// mutates slices reachable from s.
//
//nolint:gocyclo // One case per action keeps the reducer readable.
func Reduce(s Snapshot, a Action) (Snapshot, bool) {
	next := s
	switch a := a.(type) {
	case SetConnectionState:
		if a.Version != 0 && a.Version <= s.StateVersion {
			return s, false
		}
		if a.Version == 0 && a.State == s.Session.ConnectionState {
			return s, false
		}
		next.Session.ConnectionState = a.State
		if a.Version != 0 {
			next.StateVersion = a.Version
		}
		if a.At.After(next.Session.LastActivity) {
			next.Session.LastActivity = a.At
		}

	case Touch:
		if !a.At.After(s.Session.LastActivity) {
			return s, false
		}
		next.Session.LastActivity = a.At

	case ResetSession:
		next = Snapshot{
			Session: Session{
				ID:              a.ID,
				ConnectionState: s.Session.ConnectionState,
				LastActivity:    s.Session.LastActivity,
			},
			StateVersion: s.StateVersion,
		}

	case ShowSubtitle:
		next.Subtitle = &Subtitle{Text: a.Text, Mode: a.Mode, Seq: a.Seq, ShownAt: a.At, TTL: a.TTL}

	case ClearSubtitle:
		if s.Subtitle == nil || s.Subtitle.Seq != a.Seq {
			return s, false
		}
		next.Subtitle = nil

	case MoveCursor:
		next.Cursor = Cursor{X: a.X, Y: a.Y, Duration: a.Duration, Visible: true, Seq: a.Seq}

	case HideCursor:
		if !s.Cursor.Visible || s.Cursor.Seq != a.Seq {
			return s, false
		}
		next.Cursor.Visible = false

	case AddAnnotation:
		list := make([]protocol.Annotation, 0, len(s.Annotations)+1)
		for _, existing := range s.Annotations {
			if a.Annotation.ID == "" || existing.ID != a.Annotation.ID {
				list = append(list, existing)
			}
		}
		next.Annotations = keepLast(append(list, a.Annotation), MaxAnnotations)

	case RemoveAnnotation:
		idx := -1
		for i, existing := range s.Annotations {
			if existing.ID == a.ID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return s, false
		}
		list := make([]protocol.Annotation, 0, len(s.Annotations)-1)
		list = append(list, s.Annotations[:idx]...)
		next.Annotations = append(list, s.Annotations[idx+1:]...)

	case SetKnowledgeGraph:
		next.Graph = KnowledgeGraph{
			Nodes:     append([]protocol.GraphNode(nil), a.Nodes...),
			Edges:     append([]protocol.GraphEdge(nil), a.Edges...),
			UpdatedAt: a.At,
		}

	case PushToast:
		toast := Toast{ID: a.ID, Text: a.Text, Kind: a.Kind, At: a.At}
		next.Toasts = keepLast(append(append([]Toast(nil), s.Toasts...), toast), MaxToasts)

	case DismissToast:
		list := make([]Toast, 0, len(s.Toasts))
		for _, t := range s.Toasts {
			if t.ID != a.ID {
				list = append(list, t)
			}
		}
		if len(list) == len(s.Toasts) {
			return s, false
		}
		next.Toasts = list

	case AppendDrawing:
		next.Drawings = keepLast(append(append([]protocol.DrawingCommand(nil), s.Drawings...), a.Command), MaxDrawings)

	case RecordPong:
		next.LastPong = a.At
		next.Latency = a.Latency
		if a.At.After(next.Session.LastActivity) {
			next.Session.LastActivity = a.At
		}

	case ReportError:
		next.Errors = keepLast(append(append([]report.Report(nil), s.Errors...), a.Report), MaxErrors)

	case ClearErrors:
		if len(s.Errors) == 0 {
			return s, false
		}
		next.Errors = nil

	default:
		return s, false
	}

	next.Rev = s.Rev + 1
	return next, true
}

func keepLast[T any](list []T, limit int) []T {
	if len(list) <= limit {
		return list
	}
	return list[len(list)-limit:]
}
