// Package protocol defines the tagged JSON messages exchanged between the
// whiteboard client and the tutoring session server.
//
// Every message is a JSON object carrying a "type" discriminator and a
// "timestamp" in Unix milliseconds. Messages flowing server -> client are
// Inbound, messages flowing client -> server are Outbound. Both sets are
// closed: decoding an unknown discriminator yields ErrUnknownType.
package protocol

import (
	"time"
)

// Type is the message discriminator carried in the "type" field.
type Type string

const (
	// Client -> server.
	TypePing         Type = "ping"
	TypeCanvasUpdate Type = "canvas_update"
	TypePenEvent     Type = "pen_event"
	TypeVoiceChunk   Type = "voice_chunk"
	TypeUserIntent   Type = "user_intent"
	TypeInterrupt    Type = "interrupt"

	// Server -> client.
	TypePong                 Type = "pong"
	TypeSubtitle             Type = "subtitle"
	TypeCursorMove           Type = "cursor_move"
	TypeAICursorMove         Type = "ai_cursor_move"
	TypeAnnotation           Type = "annotation"
	TypeKnowledgeGraphUpdate Type = "knowledge_graph_update"
	TypeToast                Type = "toast"
	TypeDrawingCommand       Type = "drawing_command"
)

// Envelope holds the fields shared by every message.
type Envelope struct {
	Type      Type    `json:"type"`
	Timestamp float64 `json:"timestamp,omitempty"`
}

func (e *Envelope) envelope() *Envelope { return e }

// Time returns the message timestamp, or the zero time when unset.
func (e *Envelope) Time() time.Time {
	if e.Timestamp == 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(e.Timestamp))
}

// Message is implemented by every concrete message type.
type Message interface {
	MessageType() Type
	envelope() *Envelope
}

// Inbound is a message the server sends to the client.
type Inbound interface {
	Message
	inbound()
}

// Outbound is a message the client sends to the server.
type Outbound interface {
	Message
	outbound()
}

// Millis converts t to the wire timestamp representation.
func Millis(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// Point is a 2D canvas coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}
