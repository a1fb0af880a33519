package tutor

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/whiteboard-tutor/internal/identity"
	"github.com/ashureev/whiteboard-tutor/internal/metrics"
	"github.com/ashureev/whiteboard-tutor/internal/protocol"
	"github.com/coder/websocket"
	"golang.org/x/time/rate"
	"k8s.io/utils/clock"
)

// HandlerConfig tunes the WebSocket endpoint.
type HandlerConfig struct {
	AllowedOrigin string
	Dev           bool
	ReadLimit     int64
	WriteTimeout  time.Duration
	// InboundRate is the sustained client messages per second; zero
	// disables limiting.
	InboundRate  float64
	InboundBurst int
}

// DefaultHandlerConfig returns the endpoint defaults.
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		AllowedOrigin: "*",
		ReadLimit:     8 << 20,
		WriteTimeout:  5 * time.Second,
		InboundRate:   50,
		InboundBurst:  100,
	}
}

// WebSocketHandler serves GET /ws/{session_id}.
type WebSocketHandler struct {
	svc     *Service
	cfg     HandlerConfig
	metrics *metrics.Metrics
	clock   clock.Clock
	logger  *slog.Logger
}

// NewWebSocketHandler creates the endpoint. m may be nil.
func NewWebSocketHandler(svc *Service, cfg HandlerConfig, m *metrics.Metrics) *WebSocketHandler {
	return &WebSocketHandler{
		svc:     svc,
		cfg:     cfg,
		metrics: m,
		clock:   svc.clock,
		logger:  svc.logger,
	}
}

// connSender serializes writes to one connection.
type connSender struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	clock   clock.Clock
	timeout time.Duration
}

func (c *connSender) Send(ctx context.Context, msg protocol.Inbound) error {
	data, err := protocol.Encode(msg, c.clock.Now())
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromRequest(r)
	if !identity.ValidSessionID(sessionID) {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}
	h.logger.Info("WebSocket connection request", "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	if h.cfg.ReadLimit > 0 {
		ws.SetReadLimit(h.cfg.ReadLimit)
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := h.svc.Open(ctx, sessionID)
	h.svc.Sessions().Register(sessionID, ws)
	if h.metrics != nil {
		h.metrics.ActiveConnections.Inc()
	}
	defer func() {
		// A reset session is gone; saving it here would bring it back.
		if current, ok := h.svc.Sessions().Get(sessionID); ok && current == sess {
			persistCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
			if err := h.svc.Persist(persistCtx, sess); err != nil {
				h.logger.Warn("Failed to persist session", "session_id", sessionID, "error", err)
			}
			cancel()
		}

		h.svc.Sessions().Unregister(sessionID, ws)
		if h.metrics != nil {
			h.metrics.ActiveConnections.Dec()
		}
	}()

	out := &connSender{conn: ws, clock: h.clock, timeout: h.cfg.WriteTimeout}
	if err := h.svc.Welcome(ctx, out); err != nil {
		h.logger.Debug("Failed to send welcome", "session_id", sessionID, "error", err)
		return
	}

	h.readLoop(ctx, ws, out, sessionID)
	h.logger.Info("Tutor session ended", "session_id", sessionID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.cfg.Dev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.cfg.AllowedOrigin == "*" {
		return true
	}
	if origin == h.cfg.AllowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.cfg.AllowedOrigin)
	return false
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, out Sender, sessionID string) {
	var limiter *rate.Limiter
	if h.cfg.InboundRate > 0 {
		burst := h.cfg.InboundBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(h.cfg.InboundRate), burst)
	}

	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "session_id", sessionID)
			} else if ctx.Err() == nil {
				h.logger.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}
		if typ != websocket.MessageText {
			h.drop("binary")
			continue
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		}

		msg, err := protocol.DecodeOutbound(data)
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownType) {
				h.logger.Info("Unknown message type", "session_id", sessionID, "error", err)
				h.drop("unknown")
			} else {
				h.logger.Warn("Malformed client message", "session_id", sessionID, "error", err)
				h.drop("malformed")
			}
			continue
		}

		sess, ok := h.svc.Sessions().Get(sessionID)
		if !ok {
			// Reset while connected.
			return
		}
		if err := h.svc.Handle(ctx, sess, out, msg); err != nil {
			h.logger.Debug("Failed to deliver reply", "session_id", sessionID, "error", err)
			return
		}
	}
}

func (h *WebSocketHandler) drop(reason string) {
	if h.metrics != nil {
		h.metrics.MessagesDropped.WithLabelValues(reason).Inc()
	}
}
