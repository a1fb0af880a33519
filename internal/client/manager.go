// Package client implements the whiteboard session connection manager: one
// logical WebSocket channel per tutoring session with heartbeat, exponential
// backoff reconnection and typed outbound senders.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/whiteboard-tutor/internal/protocol"
	"github.com/ashureev/whiteboard-tutor/internal/report"
	"github.com/ashureev/whiteboard-tutor/internal/state"
	"github.com/coder/websocket"
	"k8s.io/utils/clock"
)

var (
	// ErrNotConnected is returned when a message is sent while the channel
	// is not open. The message is dropped.
	ErrNotConnected = errors.New("channel not connected")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("connection manager closed")
)

// channel is one generation of the underlying connection.
type channel struct {
	gen     uint64
	conn    Conn
	open    bool
	closing bool
	cancel  context.CancelFunc
}

// Status is a point-in-time view of the manager internals.
type Status struct {
	SessionID  string
	State      state.ConnectionState
	Attempts   int
	Generation uint64
	Open       bool
}

// Manager owns the single channel for a session. All channel lifecycle
// events are serialized through mu; the store, reporter and subscribers are
// only called with mu released.
type Manager struct {
	cfg      Config
	store    *state.Store
	dialer   Dialer
	clock    clock.WithTicker
	logger   *slog.Logger
	reporter report.Reporter
	handler  func([]byte)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	machine   machine
	sessionID string
	gen       uint64
	version   uint64
	ch        *channel
	retryStop chan struct{}
	hbStop    chan struct{}
	closed    bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialer replaces the WebSocket dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithClock injects the clock used for backoff and heartbeat timers.
func WithClock(c clock.WithTicker) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithReporter sets the error sink. Defaults to the store.
func WithReporter(r report.Reporter) Option {
	return func(m *Manager) { m.reporter = r }
}

// WithHandler sets the callback that receives every inbound text payload,
// in delivery order. Usually dispatch.Dispatcher.HandleText.
func WithHandler(fn func([]byte)) Option {
	return func(m *Manager) { m.handler = fn }
}

// NewManager creates a connection manager publishing into store. Missing
// or non-positive delays in cfg fall back to DefaultConfig.
func NewManager(cfg Config, store *state.Store, opts ...Option) *Manager {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:     cfg,
		store:   store,
		clock:   clock.RealClock{},
		logger:  slog.Default(),
		ctx:     ctx,
		cancel:  cancel,
		machine: newMachine(cfg.MaxReconnectAttempts, cfg.BaseDelay),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dialer == nil {
		m.dialer = &WebSocketDialer{ReadLimit: cfg.ReadLimit}
	}
	if m.reporter == nil {
		m.reporter = store
	}
	return m
}

// Connect opens the channel for sessionID, closing any prior channel first.
// The dial runs in the background; progress is published to the store.
func (m *Manager) Connect(sessionID string) error {
	addr, err := Address(m.cfg, sessionID)
	if err != nil {
		m.reporter.Report(report.New(report.CodeConnect, "failed to build session address", err))
		return fmt.Errorf("connect: %w", err)
	}

	if m.store.SessionID() != sessionID {
		m.store.Dispatch(state.ResetSession{ID: sessionID})
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	old := m.detachLocked()
	m.sessionID = sessionID
	m.machine.reset()
	m.machine.connect()
	pub := m.publishLocked()
	gen := m.gen
	m.wg.Add(1)
	m.mu.Unlock()

	m.closeChannel(old, websocket.StatusNormalClosure, "reconnecting")
	m.store.Dispatch(pub)
	m.logger.Info("Connecting to session", "session_id", sessionID, "addr", addr)

	go m.dial(gen, addr)
	return nil
}

// Reconnect connects again to the last session with a fresh attempt budget.
// It is the only way out of the Error state.
func (m *Manager) Reconnect() error {
	m.mu.Lock()
	id := m.sessionID
	m.mu.Unlock()
	if id == "" {
		return ErrNoSession
	}
	return m.Connect(id)
}

// Disconnect cancels pending timers and closes the channel with normal
// closure. Calling it when already disconnected is a no-op.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.machine.state == state.Disconnected && m.ch == nil && m.retryStop == nil {
		m.mu.Unlock()
		return
	}
	old := m.detachLocked()
	m.machine.disconnect()
	pub := m.publishLocked()
	m.mu.Unlock()

	m.closeChannel(old, websocket.StatusNormalClosure, "client disconnect")
	m.store.Dispatch(pub)
	m.logger.Info("Disconnected from session", "session_id", m.store.SessionID())
}

// Close tears the manager down and waits for its goroutines.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.wg.Wait()
		return
	}
	m.closed = true
	old := m.detachLocked()
	m.machine.disconnect()
	pub := m.publishLocked()
	m.mu.Unlock()

	m.cancel()
	m.closeChannel(old, websocket.StatusGoingAway, "client shutdown")
	m.store.Dispatch(pub)
	m.wg.Wait()
}

// IsConnected reports whether the store shows the channel as connected.
func (m *Manager) IsConnected() bool {
	return m.store.ConnectionState() == state.Connected
}

// Subscribe calls fn whenever the connected flag flips. The returned
// function unsubscribes.
func (m *Manager) Subscribe(fn func(connected bool)) func() {
	var mu sync.Mutex
	snap := m.store.Snapshot()
	lastRev := snap.Rev
	last := snap.Connected()
	return m.store.Subscribe(func(s state.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if s.Rev <= lastRev {
			return
		}
		lastRev = s.Rev
		if c := s.Connected(); c != last {
			last = c
			fn(c)
		}
	})
}

// Status returns the manager internals for diagnostics and tests.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		SessionID:  m.sessionID,
		State:      m.machine.state,
		Attempts:   m.machine.attempts,
		Generation: m.gen,
		Open:       m.ch != nil && m.ch.open,
	}
}

// SendMessage stamps, encodes and writes msg. When the channel is not open
// the message is dropped and ErrNotConnected returned.
func (m *Manager) SendMessage(msg protocol.Outbound) error {
	if msg == nil {
		return errors.New("send: nil message")
	}
	m.mu.Lock()
	ch := m.ch
	open := ch != nil && ch.open
	m.mu.Unlock()

	if !open {
		m.logger.Warn("Dropping message, channel not open", "type", msg.MessageType())
		return ErrNotConnected
	}
	return m.send(ch, msg)
}

func (m *Manager) send(ch *channel, msg protocol.Outbound) error {
	data, err := protocol.Encode(msg, m.clock.Now())
	if err != nil {
		m.reporter.Report(report.New(report.CodeSend, "failed to encode message", err))
		return fmt.Errorf("send: %w", err)
	}

	ctx := m.ctx
	if m.cfg.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.WriteTimeout)
		defer cancel()
	}
	if err := ch.conn.Write(ctx, data); err != nil {
		m.mu.Lock()
		ch.open = false
		m.mu.Unlock()
		m.logger.Warn("Failed to send message", "type", msg.MessageType(), "error", err)
		m.reporter.Report(report.New(report.CodeSend, "failed to send message", err))
		return fmt.Errorf("send %s: %w", msg.MessageType(), err)
	}
	return nil
}

// dial opens a connection for generation gen. The caller has done wg.Add.
func (m *Manager) dial(gen uint64, addr string) {
	defer m.wg.Done()

	ctx := m.ctx
	if m.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.DialTimeout)
		defer cancel()
	}
	conn, err := m.dialer.Dial(ctx, addr)
	if err != nil {
		if !m.current(gen) {
			return
		}
		m.logger.Error("Failed to open channel", "addr", addr, "error", err)
		m.reporter.Report(report.New(report.CodeConnect, "failed to open channel", err))
		m.handleClose(gen, websocket.StatusAbnormalClosure)
		return
	}

	m.mu.Lock()
	if m.closed || m.gen != gen {
		m.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "superseded")
		return
	}
	readCtx, cancel := context.WithCancel(context.Background())
	ch := &channel{gen: gen, conn: conn, open: true, cancel: cancel}
	m.ch = ch
	m.stopRetryLocked()
	m.machine.open()
	pub := m.publishLocked()
	hbStop := make(chan struct{})
	m.hbStop = hbStop
	ticker := m.clock.NewTicker(m.cfg.HeartbeatInterval)
	m.wg.Add(2)
	m.mu.Unlock()

	m.store.Dispatch(pub)
	m.logger.Info("Channel open", "session_id", m.store.SessionID(), "generation", gen)

	go m.readLoop(readCtx, ch)
	go m.heartbeat(gen, ticker, hbStop)

	if err := m.send(ch, &protocol.Ping{}); err != nil {
		m.logger.Debug("Initial ping failed", "error", err)
	}
}

func (m *Manager) readLoop(ctx context.Context, ch *channel) {
	defer m.wg.Done()
	defer ch.cancel()

	for {
		data, err := ch.conn.Read(ctx)
		if err != nil {
			code := closeCode(err)
			m.mu.Lock()
			closing := ch.closing
			m.mu.Unlock()
			if closing {
				return
			}
			if websocket.CloseStatus(err) == -1 {
				m.logger.Warn("Channel error", "error", err)
				m.reporter.Report(report.New(report.CodeConnection, "channel transport error", err))
			}
			m.handleClose(ch.gen, code)
			return
		}
		if m.handler != nil && m.current(ch.gen) {
			m.handler(data)
		}
	}
}

// heartbeat pings while connected and heals a channel that died without a
// close event reaching the store.
func (m *Manager) heartbeat(gen uint64, ticker clock.Ticker, stop <-chan struct{}) {
	defer m.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
		}

		m.mu.Lock()
		if m.closed || m.gen != gen {
			m.mu.Unlock()
			return
		}
		ch := m.ch
		alive := ch != nil && ch.open
		m.mu.Unlock()

		if alive {
			if err := m.send(ch, &protocol.Ping{}); err != nil {
				m.logger.Debug("Heartbeat ping failed", "error", err)
			}
			continue
		}
		if m.store.ConnectionState() == state.Connected {
			m.logger.Warn("Channel closed while session reports connected, reconnecting")
			m.forceReconnect(gen)
			return
		}
	}
}

// forceReconnect replaces a dead channel immediately, skipping backoff.
func (m *Manager) forceReconnect(gen uint64) {
	m.mu.Lock()
	if m.closed || m.gen != gen {
		m.mu.Unlock()
		return
	}
	addr, err := Address(m.cfg, m.sessionID)
	if err != nil {
		m.mu.Unlock()
		m.reporter.Report(report.New(report.CodeConnect, "failed to build session address", err))
		return
	}
	old := m.detachLocked()
	m.machine.connect()
	pub := m.publishLocked()
	newGen := m.gen
	m.wg.Add(1)
	m.mu.Unlock()

	m.closeChannel(old, websocket.StatusGoingAway, "heartbeat reconnect")
	m.store.Dispatch(pub)
	go m.dial(newGen, addr)
}

// handleClose runs the close transition for generation gen.
func (m *Manager) handleClose(gen uint64, code websocket.StatusCode) {
	m.mu.Lock()
	if m.closed || m.gen != gen {
		m.mu.Unlock()
		return
	}
	if m.ch != nil {
		m.ch.open = false
		m.ch = nil
	}
	m.stopHeartbeatLocked()

	out := m.machine.closed(code)
	if out.retry {
		m.scheduleRetryLocked(out.delay)
	}
	pub := m.publishLocked()
	attempts := m.machine.attempts
	m.mu.Unlock()

	m.store.Dispatch(pub)
	switch {
	case out.retry:
		m.logger.Info("Channel closed, scheduling reconnect", "code", int(code), "attempt", attempts, "delay", out.delay)
	case out.exhausted:
		m.logger.Error("Giving up reconnecting", "code", int(code), "attempts", attempts)
		m.reporter.Report(report.New(report.CodeMaxReconnectAttempts,
			fmt.Sprintf("gave up after %d reconnect attempts", attempts), nil))
	default:
		m.logger.Info("Channel closed", "code", int(code))
	}
}

func (m *Manager) scheduleRetryLocked(delay time.Duration) {
	stop := make(chan struct{})
	m.retryStop = stop
	timer := m.clock.NewTimer(delay)
	gen := m.gen
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		select {
		case <-timer.C():
			m.retry(gen, stop)
		case <-stop:
			timer.Stop()
		}
	}()
}

func (m *Manager) retry(gen uint64, stop chan struct{}) {
	m.mu.Lock()
	if m.closed || m.gen != gen || m.retryStop != stop {
		m.mu.Unlock()
		return
	}
	m.retryStop = nil
	addr, err := Address(m.cfg, m.sessionID)
	if err != nil {
		m.mu.Unlock()
		m.reporter.Report(report.New(report.CodeConnect, "failed to build session address", err))
		return
	}
	m.machine.connect()
	pub := m.publishLocked()
	m.wg.Add(1)
	m.mu.Unlock()

	m.store.Dispatch(pub)
	go m.dial(gen, addr)
}

// detachLocked stops both timers, invalidates the current generation and
// hands back the channel, which the caller must pass to closeChannel.
func (m *Manager) detachLocked() *channel {
	m.stopRetryLocked()
	m.stopHeartbeatLocked()
	m.gen++
	old := m.ch
	m.ch = nil
	if old != nil {
		old.open = false
		old.closing = true
		m.wg.Add(1)
	}
	return old
}

func (m *Manager) stopRetryLocked() {
	if m.retryStop != nil {
		close(m.retryStop)
		m.retryStop = nil
	}
}

func (m *Manager) stopHeartbeatLocked() {
	if m.hbStop != nil {
		close(m.hbStop)
		m.hbStop = nil
	}
}

// publishLocked versions the machine state for the store.
func (m *Manager) publishLocked() state.SetConnectionState {
	m.version++
	return state.SetConnectionState{State: m.machine.state, Version: m.version, At: m.clock.Now()}
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed && m.gen == gen
}

// closeChannel performs the close handshake in the background. The read
// loop must keep reading for the handshake to finish, so its context is
// only cancelled afterwards.
func (m *Manager) closeChannel(ch *channel, code websocket.StatusCode, reason string) {
	if ch == nil {
		return
	}
	go func() {
		defer m.wg.Done()
		if err := ch.conn.Close(code, reason); err != nil {
			m.logger.Debug("Failed to close channel", "error", err)
		}
		ch.cancel()
	}()
}
