// Package tutor implements the server side of a tutoring session: the
// WebSocket endpoint, per-message handling, planner integration and idle
// session expiry.
package tutor

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/whiteboard-tutor/internal/domain"
	"github.com/ashureev/whiteboard-tutor/internal/protocol"
)

// Interrupt levels a route decision may carry.
const (
	InterruptNone   = "none"
	InterruptGentle = "gentle"
	InterruptMedium = "medium"
	InterruptHigh   = "high"
	InterruptUrgent = "urgent"
)

const (
	maxRouteConcepts  = 5
	maxReasoningChars = 100
	unknownProblem    = "unknown"
)

var (
	validInterrupts = map[string]bool{
		InterruptNone: true, InterruptGentle: true, InterruptMedium: true,
		InterruptHigh: true, InterruptUrgent: true,
	}
	validProblemTypes = map[string]bool{
		"algebra": true, "calculus": true, "geometry": true, "trigonometry": true,
		"statistics": true, "precalculus": true, unknownProblem: true,
	}
)

// RouteRequest describes a canvas change to classify.
type RouteRequest struct {
	SessionID     string   `json:"session_id"`
	Width         int      `json:"width"`
	Height        int      `json:"height"`
	ProblemType   string   `json:"problem_type"`
	RecentIntents []string `json:"recent_intents"`
	WeakConcepts  []string `json:"weak_concepts"`
	Speaking      bool     `json:"speaking"`
}

// RouteDecision says whether the tutor should step in and which concepts
// the canvas touches.
type RouteDecision struct {
	Interrupt   string         `json:"interrupt"`
	Reasoning   string         `json:"reasoning"`
	ProblemType string         `json:"problem_type"`
	Concepts    []string       `json:"concepts"`
	Outcome     domain.Outcome `json:"outcome"`
	Confidence  float64        `json:"confidence"`
}

// Normalize clamps a decision to known values.
func (d RouteDecision) Normalize() RouteDecision {
	if !validInterrupts[d.Interrupt] {
		d.Interrupt = InterruptNone
	}
	if !validProblemTypes[d.ProblemType] {
		d.ProblemType = unknownProblem
	}
	if len(d.Reasoning) > maxReasoningChars {
		d.Reasoning = d.Reasoning[:maxReasoningChars]
	}
	if len(d.Concepts) > maxRouteConcepts {
		d.Concepts = d.Concepts[:maxRouteConcepts]
	}
	switch {
	case d.Confidence < 0:
		d.Confidence = 0
	case d.Confidence > 1:
		d.Confidence = 1
	}
	return d
}

// PlanRequest asks for a response to a learner message.
type PlanRequest struct {
	SessionID     string   `json:"session_id"`
	Text          string   `json:"text"`
	ProblemType   string   `json:"problem_type"`
	RecentIntents []string `json:"recent_intents"`
	WeakConcepts  []string `json:"weak_concepts"`
}

// CursorStep is one AI cursor movement in a plan.
type CursorStep struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Duration int     `json:"duration,omitempty"`
}

// Plan is what the tutor says and draws in response to a learner message.
type Plan struct {
	Say         string                    `json:"say,omitempty"`
	Mode        string                    `json:"mode,omitempty"`
	DurationMs  int                       `json:"duration,omitempty"`
	Annotations []protocol.Annotation     `json:"annotations,omitempty"`
	CursorMoves []CursorStep              `json:"cursor_moves,omitempty"`
	Drawings    []protocol.DrawingCommand `json:"drawings,omitempty"`
	Concepts    []string                  `json:"concepts,omitempty"`
	Outcome     domain.Outcome            `json:"outcome,omitempty"`
}

// Planner decides how the tutor reacts to learner activity.
type Planner interface {
	Route(ctx context.Context, req RouteRequest) (RouteDecision, error)
	Plan(ctx context.Context, req PlanRequest) (Plan, error)
	Close() error
}

// LocalPlanner answers without a remote model. It never interrupts and
// responds to intents with a generic hint.
type LocalPlanner struct{}

var conceptKeywords = []struct {
	keyword string
	concept string
}{
	{"derivative", "derivatives"},
	{"differentiat", "derivatives"},
	{"integral", "integrals"},
	{"integrat", "integrals"},
	{"limit", "limits"},
	{"function", "functions"},
	{"fraction", "fractions"},
	{"quadratic", "quadratic_equations"},
	{"linear", "linear_equations"},
	{"triangle", "triangles"},
	{"sin", "trigonometry"},
	{"cos", "trigonometry"},
	{"tan", "trigonometry"},
	{"angle", "basic_geometry"},
}

var problemKeywords = []struct {
	keyword string
	problem string
}{
	{"derivative", "calculus"},
	{"integral", "calculus"},
	{"limit", "calculus"},
	{"triangle", "geometry"},
	{"angle", "geometry"},
	{"sin", "trigonometry"},
	{"cos", "trigonometry"},
	{"equation", "algebra"},
	{"solve", "algebra"},
	{"mean", "statistics"},
	{"probability", "statistics"},
}

// detectConcepts returns the known concepts mentioned in text, in order of
// first match and without duplicates.
func detectConcepts(text string) []string {
	lower := strings.ToLower(text)
	seen := make(map[string]bool)
	var out []string
	for _, k := range conceptKeywords {
		if strings.Contains(lower, k.keyword) && !seen[k.concept] {
			seen[k.concept] = true
			out = append(out, k.concept)
		}
	}
	return out
}

func detectProblemType(text string) string {
	lower := strings.ToLower(text)
	for _, k := range problemKeywords {
		if strings.Contains(lower, k.keyword) {
			return k.problem
		}
	}
	return unknownProblem
}

// Route classifies from the most recent intent only.
func (LocalPlanner) Route(_ context.Context, req RouteRequest) (RouteDecision, error) {
	var last string
	if n := len(req.RecentIntents); n > 0 {
		last = req.RecentIntents[n-1]
	}
	problem := detectProblemType(last)
	if problem == unknownProblem && req.ProblemType != "" {
		problem = req.ProblemType
	}
	return RouteDecision{
		Interrupt:   InterruptNone,
		Reasoning:   "local heuristic",
		ProblemType: problem,
		Concepts:    detectConcepts(last),
		Outcome:     domain.OutcomeNeutral,
		Confidence:  0.3,
	}.Normalize(), nil
}

// Plan returns a hint inviting the learner to take the next step.
func (LocalPlanner) Plan(_ context.Context, req PlanRequest) (Plan, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return Plan{}, fmt.Errorf("empty intent")
	}

	say := fmt.Sprintf("Let's work through %q together. What do you think the first step is?", text)
	if len(req.WeakConcepts) > 0 {
		say += fmt.Sprintf(" It may help to review %s first.", strings.ReplaceAll(req.WeakConcepts[0], "_", " "))
	}
	return Plan{
		Say:        say,
		Mode:       "hint",
		DurationMs: 4000,
		Concepts:   detectConcepts(text),
		Outcome:    domain.OutcomeNeutral,
	}, nil
}

// Close is a no-op.
func (LocalPlanner) Close() error { return nil }
