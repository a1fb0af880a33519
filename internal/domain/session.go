// Package domain contains the core types of the tutoring server.
package domain

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Buffer capacities per session.
const (
	CanvasBufferSize     = 10
	TranscriptBufferSize = 200
	IntentBufferSize     = 50
	PenBufferSize        = 1000
	// VoiceFlushChunks is how many voice chunks are collected before a
	// transcript is produced.
	VoiceFlushChunks = 10
)

// CanvasSnapshot is one received canvas image.
type CanvasSnapshot struct {
	Image      string
	Width      int
	Height     int
	ReceivedAt time.Time
}

// PenStroke is one received pen event.
type PenStroke struct {
	EventType  string
	Points     int
	Color      string
	ReceivedAt time.Time
}

// Intent is a learner message.
type Intent struct {
	Text       string
	ReceivedAt time.Time
}

// Transcript is a transcribed voice segment.
type Transcript struct {
	Text       string
	Final      bool
	ReceivedAt time.Time
}

// TutorSession holds the live state of one tutoring session.
type TutorSession struct {
	ID        string
	CreatedAt time.Time

	Canvas      *Ring[CanvasSnapshot]
	Pen         *Ring[PenStroke]
	Intents     *Ring[Intent]
	Transcripts *Ring[Transcript]
	Graph       *KnowledgeGraph

	mu                 sync.Mutex
	voiceChunks        int
	speaking           bool
	lastActivity       time.Time
	interruptions      int
	helpRequests       int
	currentProblemType string
}

// NewTutorSession creates an empty session whose graph is seeded with the
// default math concepts.
func NewTutorSession(id string, now time.Time) *TutorSession {
	return &TutorSession{
		ID:                 id,
		CreatedAt:          now,
		Canvas:             NewRing[CanvasSnapshot](CanvasBufferSize),
		Pen:                NewRing[PenStroke](PenBufferSize),
		Intents:            NewRing[Intent](IntentBufferSize),
		Transcripts:        NewRing[Transcript](TranscriptBufferSize),
		Graph:              NewDefaultMathGraph(now),
		lastActivity:       now,
		currentProblemType: "unknown",
	}
}

// Touch records activity.
func (s *TutorSession) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.After(s.lastActivity) {
		s.lastActivity = now
	}
}

// LastActivity returns the time of the latest inbound message.
func (s *TutorSession) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// AddVoiceChunk counts a chunk and reports whether a flush is due. The
// counter resets when it returns true.
func (s *TutorSession) AddVoiceChunk() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voiceChunks++
	if s.voiceChunks >= VoiceFlushChunks {
		s.voiceChunks = 0
		return true
	}
	return false
}

// Interrupt stops the tutor speaking and counts the interruption.
func (s *TutorSession) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speaking = false
	s.interruptions++
}

// SetSpeaking marks whether the tutor is talking.
func (s *TutorSession) SetSpeaking(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speaking = v
}

// Speaking reports whether the tutor is talking.
func (s *TutorSession) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// CountHelpRequest increments the help request counter.
func (s *TutorSession) CountHelpRequest() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.helpRequests++
}

// SetProblemType records the classified problem type.
func (s *TutorSession) SetProblemType(t string) {
	if t == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentProblemType = t
}

// SessionStats is a summary used by the status endpoint and persistence.
type SessionStats struct {
	SessionID      string    `json:"session_id"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivity   time.Time `json:"last_activity"`
	CanvasUpdates  int       `json:"canvas_updates"`
	PenEvents      int       `json:"pen_events"`
	UserIntents    int       `json:"user_intents"`
	Transcripts    int       `json:"transcripts"`
	Speaking       bool      `json:"speaking"`
	Interruptions  int       `json:"interruptions"`
	HelpRequests   int       `json:"help_requests"`
	ProblemType    string    `json:"problem_type"`
	KnowledgeNodes int       `json:"knowledge_nodes"`
	WeakConcepts   []string  `json:"weak_concepts"`
	AverageMastery float64   `json:"average_mastery"`
}

// Stats returns a consistent summary of the session.
func (s *TutorSession) Stats() SessionStats {
	graph := s.Graph.Stats()
	weak := s.Graph.WeakConcepts(WeakThreshold)

	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionStats{
		SessionID:      s.ID,
		CreatedAt:      s.CreatedAt,
		LastActivity:   s.lastActivity,
		CanvasUpdates:  s.Canvas.Len(),
		PenEvents:      s.Pen.Len(),
		UserIntents:    s.Intents.Len(),
		Transcripts:    s.Transcripts.Len(),
		Speaking:       s.speaking,
		Interruptions:  s.interruptions,
		HelpRequests:   s.helpRequests,
		ProblemType:    s.currentProblemType,
		KnowledgeNodes: graph.TotalConcepts,
		WeakConcepts:   weak,
		AverageMastery: graph.AverageMastery,
	}
}

// Snapshot returns the persisted form of the session.
func (s *TutorSession) Snapshot(now time.Time) (*SessionRecord, error) {
	stats, err := json.Marshal(s.Stats())
	if err != nil {
		return nil, fmt.Errorf("encode session stats: %w", err)
	}
	graph, err := json.Marshal(s.Graph)
	if err != nil {
		return nil, err
	}
	return &SessionRecord{
		SessionID:    s.ID,
		StatsJSON:    string(stats),
		GraphJSON:    string(graph),
		LastActivity: s.LastActivity(),
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    now,
	}, nil
}

// Restore loads the knowledge graph from a previous snapshot.
func (s *TutorSession) Restore(rec *SessionRecord) error {
	if rec == nil || rec.GraphJSON == "" {
		return nil
	}
	return json.Unmarshal([]byte(rec.GraphJSON), s.Graph)
}
