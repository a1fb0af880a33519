package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMalformed reports a payload that is not a valid tagged message.
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownType reports a well-formed payload with an unrecognized discriminator.
	ErrUnknownType = errors.New("unknown message type")
)

// Encode serializes msg to JSON text. The type discriminator is always set
// from the concrete type and a missing timestamp is stamped with now.
func Encode(msg Message, now time.Time) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", ErrMalformed)
	}
	env := msg.envelope()
	env.Type = msg.MessageType()
	if env.Timestamp == 0 {
		env.Timestamp = Millis(now)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", env.Type, err)
	}
	return data, nil
}

// PeekType returns the discriminator of a payload without decoding the rest.
func PeekType(data []byte) (Type, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return env.Type, nil
}

// DecodeInbound parses a server -> client payload.
func DecodeInbound(data []byte) (Inbound, error) {
	t, err := PeekType(data)
	if err != nil {
		return nil, err
	}

	var msg Inbound
	switch t {
	case TypePong:
		msg = &Pong{}
	case TypeSubtitle:
		msg = &Subtitle{}
	case TypeCursorMove:
		msg = &CursorMove{}
	case TypeAICursorMove:
		msg = &CursorMove{AI: true}
	case TypeAnnotation:
		msg = &Annotation{}
	case TypeKnowledgeGraphUpdate:
		msg = &KnowledgeGraphUpdate{}
	case TypeToast:
		msg = &Toast{}
	case TypeDrawingCommand:
		msg = &DrawingCommand{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, t, err)
	}
	if err := validateInbound(msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, t, err)
	}
	return msg, nil
}

// DecodeOutbound parses a client -> server payload.
func DecodeOutbound(data []byte) (Outbound, error) {
	t, err := PeekType(data)
	if err != nil {
		return nil, err
	}

	var msg Outbound
	switch t {
	case TypePing:
		msg = &Ping{}
	case TypeCanvasUpdate:
		msg = &CanvasUpdate{}
	case TypePenEvent:
		msg = &PenEvent{}
	case TypeVoiceChunk:
		msg = &VoiceChunk{}
	case TypeUserIntent:
		msg = &UserIntent{}
	case TypeInterrupt:
		msg = &Interrupt{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, t, err)
	}
	if err := validateOutbound(msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, t, err)
	}
	return msg, nil
}

func validateInbound(msg Inbound) error {
	switch m := msg.(type) {
	case *Subtitle:
		if m.Text == "" {
			return errors.New("text is required")
		}
		if m.TTLMs < 0 {
			return errors.New("ttlMs must not be negative")
		}
	case *Annotation:
		if m.Kind == "" {
			return errors.New("kind is required")
		}
	case *KnowledgeGraphUpdate:
		for _, n := range m.Nodes {
			if n.ID == "" {
				return errors.New("node id is required")
			}
			if n.Mastery < 0 || n.Mastery > 1 {
				return fmt.Errorf("node %s mastery %v out of range", n.ID, n.Mastery)
			}
		}
		for _, e := range m.Edges {
			if e.Source == "" || e.Target == "" {
				return errors.New("edge endpoints are required")
			}
		}
	case *Toast:
		if m.Text == "" {
			return errors.New("text is required")
		}
		switch m.Kind {
		case "":
			m.Kind = ToastInfo
		case ToastInfo, ToastSuccess, ToastWarn, ToastError:
		default:
			return fmt.Errorf("unknown toast kind %q", m.Kind)
		}
	case *DrawingCommand:
		switch m.ActionType {
		case DrawLatex, DrawCircle:
		default:
			return fmt.Errorf("unknown action_type %q", m.ActionType)
		}
	}
	return nil
}

func validateOutbound(msg Outbound) error {
	switch m := msg.(type) {
	case *CanvasUpdate:
		if m.Image == "" {
			return errors.New("image is required")
		}
	case *PenEvent:
		if m.EventType == "" {
			return errors.New("eventType is required")
		}
	case *UserIntent:
		if m.Text == "" {
			return errors.New("text is required")
		}
	case *Interrupt:
		if m.Who == "" {
			m.Who = "user"
		}
	}
	return nil
}
