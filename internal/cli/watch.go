package cli

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/ashureev/whiteboard-tutor/internal/state"
)

// watcher turns store snapshots into transcript lines, printing each
// subtitle, toast, graph update and connection change once.
type watcher struct {
	mu        sync.Mutex
	out       io.Writer
	rev       uint64
	conn      state.ConnectionState
	subtitle  uint64
	toast     uint64
	graphAt   int64
	connKnown bool
}

func newWatcher(out io.Writer) *watcher {
	return &watcher{out: out}
}

// observe prints what changed in s. Out-of-order snapshots are ignored.
func (w *watcher) observe(s state.Snapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if s.Rev <= w.rev {
		return
	}
	w.rev = s.Rev
	for _, line := range w.diffLocked(s) {
		_, _ = fmt.Fprintln(w.out, line)
	}
}

func (w *watcher) diffLocked(s state.Snapshot) []string {
	var lines []string

	if cs := s.Session.ConnectionState; !w.connKnown || cs != w.conn {
		w.conn, w.connKnown = cs, true
		lines = append(lines, fmt.Sprintf("* %s", cs))
	}

	if sub := s.Subtitle; sub != nil && sub.Seq != w.subtitle {
		w.subtitle = sub.Seq
		lines = append(lines, fmt.Sprintf("tutor [%s]: %s", sub.Mode, sub.Text))
	}

	for _, t := range s.Toasts {
		if t.ID <= w.toast {
			continue
		}
		w.toast = t.ID
		lines = append(lines, fmt.Sprintf("! %s: %s", t.Kind, t.Text))
	}

	if at := s.Graph.UpdatedAt.UnixNano(); !s.Graph.UpdatedAt.IsZero() && at != w.graphAt {
		w.graphAt = at
		lines = append(lines, graphLine(s.Graph))
	}
	return lines
}

// graphLine summarizes the graph with its three weakest concepts.
func graphLine(g state.KnowledgeGraph) string {
	nodes := append(g.Nodes[:0:0], g.Nodes...)
	sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].Mastery < nodes[j].Mastery })
	line := fmt.Sprintf("# knowledge graph: %d concepts", len(nodes))
	for i := 0; i < len(nodes) && i < 3; i++ {
		sep := ", "
		if i == 0 {
			sep = "; weakest "
		}
		line += fmt.Sprintf("%s%s %.0f%%", sep, nodes[i].ID, nodes[i].Mastery*100)
	}
	return line
}
