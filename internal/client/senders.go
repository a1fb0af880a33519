package client

import (
	"encoding/base64"

	"github.com/ashureev/whiteboard-tutor/internal/protocol"
)

// SendCanvasUpdate sends a PNG snapshot of the canvas.
func (m *Manager) SendCanvasUpdate(png []byte, width, height int) error {
	return m.SendMessage(&protocol.CanvasUpdate{
		Image:  base64.StdEncoding.EncodeToString(png),
		Width:  width,
		Height: height,
	})
}

// SendPenEvent sends a stroke segment.
func (m *Manager) SendPenEvent(eventType string, points []protocol.Point, color string, width, pressure float64) error {
	return m.SendMessage(&protocol.PenEvent{
		EventType: eventType,
		Points:    points,
		Color:     color,
		Width:     width,
		Pressure:  pressure,
	})
}

func (m *Manager) SendVoiceChunk(audio []byte) error {
	return m.SendMessage(&protocol.VoiceChunk{AudioBytes: audio})
}

func (m *Manager) SendUserIntent(text string) error {
	return m.SendMessage(&protocol.UserIntent{Text: text})
}

// SendInterrupt asks the tutor to stop. An empty who means the learner.
func (m *Manager) SendInterrupt(who string) error {
	if who == "" {
		who = "user"
	}
	return m.SendMessage(&protocol.Interrupt{Who: who})
}
