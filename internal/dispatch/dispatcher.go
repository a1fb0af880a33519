// Package dispatch routes inbound tagged messages from the tutoring server
// into the client state store.
package dispatch

import (
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/whiteboard-tutor/internal/protocol"
	"github.com/ashureev/whiteboard-tutor/internal/report"
	"github.com/ashureev/whiteboard-tutor/internal/state"
	"k8s.io/utils/clock"
)

// Options tunes the timers attached to transient UI state.
type Options struct {
	// DefaultSubtitleTTL applies when a subtitle has no ttlMs.
	DefaultSubtitleTTL time.Duration
	// CursorHideDelay is added to a move's duration before the cursor hides.
	CursorHideDelay time.Duration
	// ToastTTL is how long a toast stays queued.
	ToastTTL time.Duration
}

// DefaultOptions returns the standard timings.
func DefaultOptions() Options {
	return Options{
		DefaultSubtitleTTL: 4 * time.Second,
		CursorHideDelay:    2 * time.Second,
		ToastTTL:           4 * time.Second,
	}
}

// Dispatcher parses inbound payloads and applies them to a store. Handlers
// never block: delayed effects run on timers owned by the dispatcher.
type Dispatcher struct {
	store    *state.Store
	reporter report.Reporter
	clock    clock.Clock
	logger   *slog.Logger
	opts     Options

	seq  atomic.Uint64
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// New creates a dispatcher. A nil reporter reports to the store; a nil
// clock uses the real clock; a nil logger uses slog.Default().
func New(store *state.Store, reporter report.Reporter, clk clock.Clock, logger *slog.Logger) *Dispatcher {
	return NewWithOptions(store, reporter, clk, logger, DefaultOptions())
}

// NewWithOptions creates a dispatcher with custom timings.
func NewWithOptions(store *state.Store, reporter report.Reporter, clk clock.Clock, logger *slog.Logger, opts Options) *Dispatcher {
	if reporter == nil {
		reporter = store
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:    store,
		reporter: reporter,
		clock:    clk,
		logger:   logger,
		opts:     opts,
		done:     make(chan struct{}),
	}
}

// HandleText parses one text frame and routes it. Malformed payloads are
// reported as PARSE_ERROR; unknown discriminators are logged and dropped.
func (d *Dispatcher) HandleText(data []byte) {
	msg, err := protocol.DecodeInbound(data)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			d.logger.Warn("Ignoring unknown message type", "error", err)
			return
		}
		d.logger.Warn("Failed to parse inbound message", "error", err, "size", len(data))
		d.reporter.Report(report.New(report.CodeParse, "failed to parse inbound message", err))
		return
	}
	d.Handle(msg)
}

// Handle applies an already-decoded message.
func (d *Dispatcher) Handle(msg protocol.Inbound) {
	now := d.clock.Now()
	d.store.Dispatch(state.Touch{At: now})

	switch m := msg.(type) {
	case *protocol.Subtitle:
		d.handleSubtitle(m, now)
	case *protocol.CursorMove:
		d.handleCursorMove(m)
	case *protocol.Annotation:
		d.handleAnnotation(m)
	case *protocol.KnowledgeGraphUpdate:
		d.store.Dispatch(state.SetKnowledgeGraph{Nodes: m.Nodes, Edges: m.Edges, At: now})
	case *protocol.Toast:
		d.handleToast(m, now)
	case *protocol.DrawingCommand:
		cmd := *m
		x, y := cmd.XY()
		cmd.Position = []float64{x, y}
		d.store.Dispatch(state.AppendDrawing{Command: cmd})
	case *protocol.Pong:
		d.handlePong(m, now)
	default:
		d.logger.Warn("No handler for message", "type", msg.MessageType())
	}
}

func (d *Dispatcher) handleSubtitle(m *protocol.Subtitle, now time.Time) {
	ttl := time.Duration(m.TTLMs) * time.Millisecond
	if ttl <= 0 {
		ttl = d.opts.DefaultSubtitleTTL
	}
	seq := d.seq.Add(1)
	d.store.Dispatch(state.ShowSubtitle{Text: m.Text, Mode: m.Mode, Seq: seq, At: now, TTL: ttl})
	d.after(ttl, func() {
		d.store.Dispatch(state.ClearSubtitle{Seq: seq})
	})
}

func (d *Dispatcher) handleCursorMove(m *protocol.CursorMove) {
	duration := time.Duration(m.Duration) * time.Millisecond
	seq := d.seq.Add(1)
	d.store.Dispatch(state.MoveCursor{X: m.X, Y: m.Y, Duration: duration, Seq: seq})
	d.after(duration+d.opts.CursorHideDelay, func() {
		d.store.Dispatch(state.HideCursor{Seq: seq})
	})
}

func (d *Dispatcher) handleAnnotation(m *protocol.Annotation) {
	ann := *m
	if ann.ID == "" {
		ann.ID = "ann-" + strconv.FormatUint(d.seq.Add(1), 10)
	}
	d.store.Dispatch(state.AddAnnotation{Annotation: ann})
	if ann.LifetimeMs > 0 {
		id := ann.ID
		d.after(time.Duration(ann.LifetimeMs)*time.Millisecond, func() {
			d.store.Dispatch(state.RemoveAnnotation{ID: id})
		})
	}
}

func (d *Dispatcher) handleToast(m *protocol.Toast, now time.Time) {
	id := d.seq.Add(1)
	d.store.Dispatch(state.PushToast{ID: id, Text: m.Text, Kind: m.Kind, At: now})
	if d.opts.ToastTTL > 0 {
		d.after(d.opts.ToastTTL, func() {
			d.store.Dispatch(state.DismissToast{ID: id})
		})
	}
}

func (d *Dispatcher) handlePong(m *protocol.Pong, now time.Time) {
	var latency time.Duration
	if m.Echo > 0 {
		latency = now.Sub(time.UnixMilli(int64(m.Echo)))
		if latency < 0 {
			latency = 0
		}
	}
	d.store.Dispatch(state.RecordPong{At: now, Latency: latency})
}

// after runs fn once the clock has advanced by delay, unless the
// dispatcher is closed first.
func (d *Dispatcher) after(delay time.Duration, fn func()) {
	select {
	case <-d.done:
		return
	default:
	}

	t := d.clock.NewTimer(delay)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		select {
		case <-t.C():
			fn()
		case <-d.done:
			t.Stop()
		}
	}()
}

// Close cancels every pending timer and waits for their goroutines.
func (d *Dispatcher) Close() {
	d.once.Do(func() { close(d.done) })
	d.wg.Wait()
}
