package tutor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/whiteboard-tutor/internal/domain"
	"github.com/ashureev/whiteboard-tutor/internal/metrics"
	"github.com/ashureev/whiteboard-tutor/internal/protocol"
	"github.com/ashureev/whiteboard-tutor/internal/store"
	"github.com/google/uuid"
	"k8s.io/utils/clock"
)

// Fixed tutor lines.
const (
	WelcomeText      = "Hi! I'm your AI math tutor. Start drawing or speaking, and I'll help guide you."
	InterventionText = "Hold on - let me point out something important here."
	ListeningText    = "I'm listening..."
	TranscriptText   = "[Voice transcription would appear here]"
	PlanFailedText   = "Sorry, I had trouble processing that. Could you try again?"
)

const (
	defaultPlanTTLMs = 5000
	recentIntents    = 5
	persistTimeout   = 5 * time.Second
)

// Sender delivers server messages to one client.
type Sender interface {
	Send(ctx context.Context, msg protocol.Inbound) error
}

// Service reacts to client messages for tutoring sessions.
type Service struct {
	sessions *SessionManager
	planner  Planner
	repo     store.Repository
	metrics  *metrics.Metrics
	clock    clock.Clock
	logger   *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithRepository persists session snapshots to repo.
func WithRepository(repo store.Repository) ServiceOption {
	return func(s *Service) { s.repo = repo }
}

// WithMetrics records message counters.
func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source.
func WithClock(c clock.Clock) ServiceOption {
	return func(s *Service) { s.clock = c }
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// NewService creates a service. A nil planner uses LocalPlanner.
func NewService(sessions *SessionManager, planner Planner, opts ...ServiceOption) *Service {
	if planner == nil {
		planner = LocalPlanner{}
	}
	s := &Service{
		sessions: sessions,
		planner:  planner,
		clock:    clock.RealClock{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sessions returns the session manager.
func (s *Service) Sessions() *SessionManager {
	return s.sessions
}

// Open returns the session for id. A newly created session restores its
// knowledge graph from the last persisted snapshot.
func (s *Service) Open(ctx context.Context, id string) *domain.TutorSession {
	sess, created := s.sessions.GetOrCreate(id, s.clock.Now())
	if !created {
		return sess
	}
	s.updateSessionGauge()
	if s.repo == nil {
		return sess
	}

	rec, err := s.repo.GetSession(ctx, id)
	if err != nil {
		s.logger.Warn("Failed to load session snapshot", "session_id", id, "error", err)
		return sess
	}
	if err := sess.Restore(rec); err != nil {
		s.logger.Warn("Failed to restore session snapshot", "session_id", id, "error", err)
	}
	return sess
}

// Persist writes a snapshot of sess.
func (s *Service) Persist(ctx context.Context, sess *domain.TutorSession) error {
	if s.repo == nil {
		return nil
	}
	rec, err := sess.Snapshot(s.clock.Now())
	if err != nil {
		return err
	}
	return s.repo.SaveSession(ctx, rec)
}

// PersistAll snapshots every live session and returns how many were saved.
func (s *Service) PersistAll(ctx context.Context) int {
	saved := 0
	for _, sess := range s.sessions.All() {
		if err := s.Persist(ctx, sess); err != nil {
			s.logger.Warn("Failed to persist session", "session_id", sess.ID, "error", err)
			continue
		}
		saved++
	}
	return saved
}

// Reset drops a session from memory and storage.
func (s *Service) Reset(ctx context.Context, id string) (bool, error) {
	existed := s.sessions.Delete(id)
	s.updateSessionGauge()
	if s.repo == nil {
		return existed, nil
	}
	deleted, err := s.repo.DeleteSession(ctx, id)
	if err != nil {
		return existed, err
	}
	return existed || deleted, nil
}

// Welcome greets a newly connected client.
func (s *Service) Welcome(ctx context.Context, out Sender) error {
	return s.send(ctx, out, &protocol.Subtitle{Text: WelcomeText, Mode: "hint", TTLMs: 5000})
}

// Handle processes one client message. It returns an error only when a
// reply could not be delivered.
func (s *Service) Handle(ctx context.Context, sess *domain.TutorSession, out Sender, msg protocol.Outbound) error {
	now := s.clock.Now()
	sess.Touch(now)
	if s.metrics != nil {
		s.metrics.MessagesReceived.WithLabelValues(string(msg.MessageType())).Inc()
	}

	switch m := msg.(type) {
	case *protocol.Ping:
		return s.send(ctx, out, &protocol.Pong{Echo: m.Timestamp})
	case *protocol.CanvasUpdate:
		return s.handleCanvas(ctx, sess, out, m, now)
	case *protocol.PenEvent:
		sess.Pen.Push(domain.PenStroke{
			EventType:  m.EventType,
			Points:     len(m.Points),
			Color:      m.Color,
			ReceivedAt: now,
		})
		return nil
	case *protocol.UserIntent:
		return s.handleIntent(ctx, sess, out, m, now)
	case *protocol.VoiceChunk:
		if !sess.AddVoiceChunk() {
			return nil
		}
		sess.Transcripts.Push(domain.Transcript{Text: TranscriptText, Final: true, ReceivedAt: now})
		return s.send(ctx, out, &protocol.Subtitle{Text: TranscriptText, Mode: "speak", TTLMs: 3000})
	case *protocol.Interrupt:
		sess.Interrupt()
		s.logger.Debug("Learner interrupted tutor", "session_id", sess.ID, "who", m.Who)
		return s.send(ctx, out, &protocol.Subtitle{Text: ListeningText, Mode: "hint", TTLMs: 2000})
	default:
		s.logger.Info("Unhandled message type", "session_id", sess.ID, "type", msg.MessageType())
		return nil
	}
}

func (s *Service) handleCanvas(ctx context.Context, sess *domain.TutorSession, out Sender, m *protocol.CanvasUpdate, now time.Time) error {
	sess.Canvas.Push(domain.CanvasSnapshot{Image: m.Image, Width: m.Width, Height: m.Height, ReceivedAt: now})

	stats := sess.Stats()
	decision, err := s.planner.Route(ctx, RouteRequest{
		SessionID:     sess.ID,
		Width:         m.Width,
		Height:        m.Height,
		ProblemType:   stats.ProblemType,
		RecentIntents: intentTexts(sess),
		WeakConcepts:  stats.WeakConcepts,
		Speaking:      stats.Speaking,
	})
	if err != nil {
		s.logger.Warn("Failed to route canvas update", "session_id", sess.ID, "error", err)
		return nil
	}
	if decision.ProblemType != unknownProblem {
		sess.SetProblemType(decision.ProblemType)
	}

	if decision.Interrupt == InterruptUrgent && !sess.Speaking() {
		if err := s.send(ctx, out, &protocol.Subtitle{Text: InterventionText, Mode: "urgent", TTLMs: 4000}); err != nil {
			return err
		}
	}

	if len(decision.Concepts) == 0 {
		return nil
	}
	outcome := decision.Outcome
	if outcome == "" {
		outcome = domain.OutcomeNeutral
	}
	sess.Graph.Update(decision.Concepts, outcome, now)
	return s.send(ctx, out, graphUpdate(sess.Graph))
}

func (s *Service) handleIntent(ctx context.Context, sess *domain.TutorSession, out Sender, m *protocol.UserIntent, now time.Time) error {
	sess.Intents.Push(domain.Intent{Text: m.Text, ReceivedAt: now})
	if strings.Contains(strings.ToLower(m.Text), "help") {
		sess.CountHelpRequest()
	}

	stats := sess.Stats()
	plan, err := s.planner.Plan(ctx, PlanRequest{
		SessionID:     sess.ID,
		Text:          m.Text,
		ProblemType:   stats.ProblemType,
		RecentIntents: intentTexts(sess),
		WeakConcepts:  stats.WeakConcepts,
	})
	if err != nil {
		s.logger.Warn("Failed to plan response", "session_id", sess.ID, "error", err)
		return s.send(ctx, out, &protocol.Toast{Text: PlanFailedText, Kind: protocol.ToastWarn})
	}
	return s.realize(ctx, sess, out, plan, now)
}

// realize sends the messages a plan describes in order: speech, annotations,
// cursor moves, drawings, then the knowledge graph.
func (s *Service) realize(ctx context.Context, sess *domain.TutorSession, out Sender, plan Plan, now time.Time) error {
	if plan.Say != "" {
		mode := plan.Mode
		if mode == "" {
			mode = "hint"
		}
		ttl := plan.DurationMs
		if ttl <= 0 {
			ttl = defaultPlanTTLMs
		}
		sess.SetSpeaking(true)
		if err := s.send(ctx, out, &protocol.Subtitle{Text: plan.Say, Mode: mode, TTLMs: ttl}); err != nil {
			return err
		}
	}

	for i := range plan.Annotations {
		a := plan.Annotations[i]
		if a.Kind == "" {
			continue
		}
		if a.ID == "" {
			a.ID = "ann-" + uuid.NewString()
		}
		if err := s.send(ctx, out, &a); err != nil {
			return err
		}
	}

	for _, step := range plan.CursorMoves {
		if err := s.send(ctx, out, &protocol.CursorMove{X: step.X, Y: step.Y, Duration: step.Duration, AI: true}); err != nil {
			return err
		}
	}

	for i := range plan.Drawings {
		d := plan.Drawings[i]
		if d.ActionType != protocol.DrawLatex && d.ActionType != protocol.DrawCircle {
			continue
		}
		if err := s.send(ctx, out, &d); err != nil {
			return err
		}
	}

	if len(plan.Concepts) > 0 {
		outcome := plan.Outcome
		if outcome == "" {
			outcome = domain.OutcomeSuccess
		}
		sess.Graph.Update(plan.Concepts, outcome, now)
		return s.send(ctx, out, graphUpdate(sess.Graph))
	}
	return nil
}

func (s *Service) send(ctx context.Context, out Sender, msg protocol.Inbound) error {
	if err := out.Send(ctx, msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.MessageType(), err)
	}
	if s.metrics != nil {
		s.metrics.MessagesSent.WithLabelValues(string(msg.MessageType())).Inc()
	}
	return nil
}

func (s *Service) updateSessionGauge() {
	if s.metrics == nil {
		return
	}
	n, _ := s.sessions.Count()
	s.metrics.Sessions.Set(float64(n))
}

func intentTexts(sess *domain.TutorSession) []string {
	recent := sess.Intents.Last(recentIntents)
	out := make([]string, len(recent))
	for i, in := range recent {
		out[i] = in.Text
	}
	return out
}

func graphUpdate(g *domain.KnowledgeGraph) *protocol.KnowledgeGraphUpdate {
	concepts := g.Concepts()
	rels := g.Relationships()
	msg := &protocol.KnowledgeGraphUpdate{
		Nodes: make([]protocol.GraphNode, 0, len(concepts)),
		Edges: make([]protocol.GraphEdge, 0, len(rels)),
	}
	for _, c := range concepts {
		msg.Nodes = append(msg.Nodes, protocol.GraphNode{ID: c.ID, Mastery: c.Mastery, Importance: c.Importance})
	}
	for _, r := range rels {
		msg.Edges = append(msg.Edges, protocol.GraphEdge{Source: r.Source, Target: r.Target, Strength: r.Strength})
	}
	return msg
}
