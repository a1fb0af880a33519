package protocol

// Ping is the liveness probe sent on open and on every heartbeat.
type Ping struct {
	Envelope
}

// CanvasUpdate carries a base64-encoded PNG snapshot of the canvas.
type CanvasUpdate struct {
	Envelope
	Image  string `json:"image"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Pen event types.
const (
	PenDown = "down"
	PenMove = "move"
	PenUp   = "up"
)

// PenEvent describes a stroke segment drawn by the learner.
type PenEvent struct {
	Envelope
	EventType string  `json:"eventType"`
	Points    []Point `json:"points"`
	Color     string  `json:"color,omitempty"`
	Width     float64 `json:"width,omitempty"`
	Pressure  float64 `json:"pressure,omitempty"`
}

// VoiceChunk carries raw microphone audio. encoding/json base64-encodes it.
type VoiceChunk struct {
	Envelope
	AudioBytes []byte `json:"audioBytes"`
}

// UserIntent is explicit text (typed or transcribed) from the learner.
type UserIntent struct {
	Envelope
	Text string `json:"text"`
}

// Interrupt asks the other party to stop talking.
type Interrupt struct {
	Envelope
	Who string `json:"who"`
}

func (*Ping) MessageType() Type         { return TypePing }
func (*CanvasUpdate) MessageType() Type { return TypeCanvasUpdate }
func (*PenEvent) MessageType() Type     { return TypePenEvent }
func (*VoiceChunk) MessageType() Type   { return TypeVoiceChunk }
func (*UserIntent) MessageType() Type   { return TypeUserIntent }
func (*Interrupt) MessageType() Type    { return TypeInterrupt }

func (*Ping) outbound()         {}
func (*CanvasUpdate) outbound() {}
func (*PenEvent) outbound()     {}
func (*VoiceChunk) outbound()   {}
func (*UserIntent) outbound()   {}
func (*Interrupt) outbound()    {}
