package protocol

import "encoding/json"

// Pong answers a ping. Echo carries the timestamp of the ping being answered.
type Pong struct {
	Envelope
	Echo float64 `json:"echo,omitempty"`
}

// Subtitle is transient tutor speech shown over the canvas.
type Subtitle struct {
	Envelope
	Text  string `json:"text"`
	Mode  string `json:"mode,omitempty"`
	TTLMs int    `json:"ttlMs,omitempty"`
}

// CursorMove moves the AI-controlled cursor. AI distinguishes the
// ai_cursor_move discriminator from the plain cursor_move one.
type CursorMove struct {
	Envelope
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Duration int     `json:"duration,omitempty"`
	AI       bool    `json:"-"`
}

// Annotation is a visual mark the tutor draws on the canvas.
type Annotation struct {
	Envelope
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Color       string          `json:"color,omitempty"`
	Opacity     float64         `json:"opacity,omitempty"`
	StrokeWidth float64         `json:"strokeWidth,omitempty"`
	Width       float64         `json:"width,omitempty"`
	Height      float64         `json:"height,omitempty"`
	Radius      float64         `json:"radius,omitempty"`
	Center      *Point          `json:"center,omitempty"`
	Start       *Point          `json:"start,omitempty"`
	End         *Point          `json:"end,omitempty"`
	Text        string          `json:"text,omitempty"`
	LifetimeMs  int             `json:"lifetimeMs,omitempty"`
	Animation   json.RawMessage `json:"animation,omitempty"`
}

// Annotation kinds.
const (
	AnnotationHighlight = "highlight"
	AnnotationUnderline = "underline"
	AnnotationCircle    = "circle"
	AnnotationArrow     = "arrow"
	AnnotationBracket   = "bracket"
	AnnotationCrossOut  = "cross_out"
	AnnotationDrawing   = "drawing"
	AnnotationText      = "text"
	AnnotationMath      = "math"
)

// GraphNode is a concept in a knowledge graph update.
type GraphNode struct {
	ID         string  `json:"id"`
	Mastery    float64 `json:"mastery"`
	Importance float64 `json:"importance,omitempty"`
}

// GraphEdge links two concepts with a relationship strength.
type GraphEdge struct {
	Source   string  `json:"source"`
	Target   string  `json:"target"`
	Strength float64 `json:"strength"`
}

// KnowledgeGraphUpdate replaces the client's view of topic mastery.
type KnowledgeGraphUpdate struct {
	Envelope
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// Toast kinds.
const (
	ToastInfo    = "info"
	ToastSuccess = "success"
	ToastWarn    = "warn"
	ToastError   = "error"
)

// Toast is a short user-visible notification.
type Toast struct {
	Envelope
	Text string `json:"text"`
	Kind string `json:"kind,omitempty"`
}

// Drawing actions.
const (
	DrawLatex  = "latex"
	DrawCircle = "circle"
)

// DrawingCommand asks the client to render content at a proportional
// canvas position, where both coordinates are in [0, 1].
type DrawingCommand struct {
	Envelope
	ActionType string    `json:"action_type"`
	Position   []float64 `json:"position,omitempty"`
	Content    string    `json:"content,omitempty"`
}

// XY returns the clamped proportional position, defaulting to the centre.
func (d *DrawingCommand) XY() (float64, float64) {
	if len(d.Position) != 2 {
		return 0.5, 0.5
	}
	return clampUnit(d.Position[0]), clampUnit(d.Position[1])
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (*Pong) MessageType() Type                 { return TypePong }
func (*Subtitle) MessageType() Type             { return TypeSubtitle }
func (*Annotation) MessageType() Type           { return TypeAnnotation }
func (*KnowledgeGraphUpdate) MessageType() Type { return TypeKnowledgeGraphUpdate }
func (*Toast) MessageType() Type                { return TypeToast }
func (*DrawingCommand) MessageType() Type       { return TypeDrawingCommand }

func (c *CursorMove) MessageType() Type {
	if c.AI {
		return TypeAICursorMove
	}
	return TypeCursorMove
}

func (*Pong) inbound()                 {}
func (*Subtitle) inbound()             {}
func (*CursorMove) inbound()           {}
func (*Annotation) inbound()           {}
func (*KnowledgeGraphUpdate) inbound() {}
func (*Toast) inbound()                {}
func (*DrawingCommand) inbound()       {}
