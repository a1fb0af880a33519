package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
)

// Conn is one open message channel.
type Conn interface {
	// Read blocks for the next text payload.
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens channels.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Conn, error)
}

// WebSocketDialer dials the session endpoint over WebSocket.
type WebSocketDialer struct {
	HTTPClient *http.Client
	ReadLimit  int64
}

// Dial opens a WebSocket connection to addr.
func (d *WebSocketDialer) Dial(ctx context.Context, addr string) (Conn, error) {
	c, _, err := websocket.Dial(ctx, addr, &websocket.DialOptions{HTTPClient: d.HTTPClient})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if d.ReadLimit > 0 {
		c.SetReadLimit(d.ReadLimit)
	}
	return &wsConn{conn: c}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return nil, err
		}
		if typ == websocket.MessageText {
			return data, nil
		}
	}
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close(code websocket.StatusCode, reason string) error {
	return c.conn.Close(code, reason)
}

// closeCode extracts the close code from a read error. Errors without a
// close frame map to 1006.
func closeCode(err error) websocket.StatusCode {
	if code := websocket.CloseStatus(err); code != -1 {
		return code
	}
	return websocket.StatusAbnormalClosure
}
