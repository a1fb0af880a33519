package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// Mastery thresholds.
const (
	WeakThreshold         = 0.4
	StrongThreshold       = 0.7
	PrerequisiteThreshold = 0.5
	LearningRate          = 0.1

	defaultMastery       = 0.5
	defaultImportance    = 0.5
	coOccurrenceStart    = 0.2
	coOccurrenceStep     = 0.05
	practiceRecencyLimit = time.Hour
)

// Outcome is the result of a learner interaction with a set of concepts.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
	OutcomeNeutral Outcome = "neutral"
)

// Relationship types.
const (
	RelationPrerequisite = "prerequisite"
	RelationCoOccurs     = "co_occurs"
)

// Concept tracks a learner's mastery of one topic.
type Concept struct {
	ID            string    `json:"id"`
	Mastery       float64   `json:"mastery"`
	Importance    float64   `json:"importance"`
	PracticeCount int       `json:"practice_count"`
	SuccessCount  int       `json:"success_count"`
	ErrorCount    int       `json:"error_count"`
	LastUpdated   time.Time `json:"last_updated"`
}

// SuccessRate returns the share of successful practice, 0.5 before any.
func (c Concept) SuccessRate() float64 {
	if c.PracticeCount == 0 {
		return 0.5
	}
	return float64(c.SuccessCount) / float64(c.PracticeCount)
}

func (c *Concept) apply(outcome Outcome, now time.Time) {
	c.PracticeCount++
	c.LastUpdated = now

	var delta float64
	switch outcome {
	case OutcomeSuccess:
		c.SuccessCount++
		delta = LearningRate * (1 - c.Mastery)
	case OutcomeError:
		c.ErrorCount++
		delta = -LearningRate * 0.5
	default:
		delta = LearningRate * 0.1
	}
	c.Mastery = math.Max(0, math.Min(1, c.Mastery+delta))
}

// Relationship is a directed, weighted link between concepts.
type Relationship struct {
	Source   string  `json:"source"`
	Target   string  `json:"target"`
	Strength float64 `json:"strength"`
	Type     string  `json:"type"`
}

type edgeKey struct{ source, target string }

// KnowledgeGraph tracks concept mastery and the relationships between
// concepts for one learner.
type KnowledgeGraph struct {
	mu       sync.RWMutex
	concepts map[string]*Concept
	edges    map[edgeKey]*Relationship
	order    []edgeKey
}

// NewKnowledgeGraph creates an empty graph.
func NewKnowledgeGraph() *KnowledgeGraph {
	return &KnowledgeGraph{
		concepts: make(map[string]*Concept),
		edges:    make(map[edgeKey]*Relationship),
	}
}

// AddConcept adds a concept with default mastery. Existing concepts are
// returned unchanged.
func (g *KnowledgeGraph) AddConcept(id string, importance float64, now time.Time) Concept {
	g.mu.Lock()
	defer g.mu.Unlock()
	return *g.addConceptLocked(id, importance, now)
}

func (g *KnowledgeGraph) addConceptLocked(id string, importance float64, now time.Time) *Concept {
	if c, ok := g.concepts[id]; ok {
		return c
	}
	c := &Concept{
		ID:          id,
		Mastery:     defaultMastery,
		Importance:  importance,
		LastUpdated: now,
	}
	g.concepts[id] = c
	return c
}

// AddRelationship links source to target, creating missing concepts.
func (g *KnowledgeGraph) AddRelationship(source, target string, strength float64, kind string, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addRelationshipLocked(source, target, strength, kind, now)
}

func (g *KnowledgeGraph) addRelationshipLocked(source, target string, strength float64, kind string, now time.Time) {
	g.addConceptLocked(source, defaultImportance, now)
	g.addConceptLocked(target, defaultImportance, now)

	key := edgeKey{source, target}
	if e, ok := g.edges[key]; ok {
		e.Strength = strength
		e.Type = kind
		return
	}
	g.edges[key] = &Relationship{Source: source, Target: target, Strength: strength, Type: kind}
	g.order = append(g.order, key)
}

// Update applies an interaction outcome to every concept and strengthens
// the co-occurrence link of every pair.
func (g *KnowledgeGraph) Update(concepts []string, outcome Outcome, now time.Time) {
	if len(concepts) == 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, id := range concepts {
		g.addConceptLocked(id, defaultImportance, now).apply(outcome, now)
	}

	for i := 0; i < len(concepts)-1; i++ {
		for j := i + 1; j < len(concepts); j++ {
			a, b := concepts[i], concepts[j]
			if a == b {
				continue
			}
			if a > b {
				a, b = b, a
			}
			if e, ok := g.edges[edgeKey{a, b}]; ok {
				e.Strength = math.Min(1, e.Strength+coOccurrenceStep)
				continue
			}
			g.addRelationshipLocked(a, b, coOccurrenceStart+coOccurrenceStep, RelationCoOccurs, now)
		}
	}
}

// Concept returns a copy of the named concept.
func (g *KnowledgeGraph) Concept(id string) (Concept, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.concepts[id]
	if !ok {
		return Concept{}, false
	}
	return *c, true
}

// Concepts returns every concept sorted by id.
func (g *KnowledgeGraph) Concepts() []Concept {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.conceptsLocked()
}

func (g *KnowledgeGraph) conceptsLocked() []Concept {
	out := make([]Concept, 0, len(g.concepts))
	for _, c := range g.concepts {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Relationships returns every edge in insertion order.
func (g *KnowledgeGraph) Relationships() []Relationship {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Relationship, 0, len(g.order))
	for _, k := range g.order {
		out = append(out, *g.edges[k])
	}
	return out
}

// WeakConcepts returns ids with mastery below threshold, sorted.
func (g *KnowledgeGraph) WeakConcepts(threshold float64) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []string
	for _, c := range g.conceptsLocked() {
		if c.Mastery < threshold {
			out = append(out, c.ID)
		}
	}
	return out
}

// StrongConcepts returns ids with mastery at or above threshold, sorted.
func (g *KnowledgeGraph) StrongConcepts(threshold float64) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []string
	for _, c := range g.conceptsLocked() {
		if c.Mastery >= threshold {
			out = append(out, c.ID)
		}
	}
	return out
}

// PracticeSuggestion ranks a concept for practice.
type PracticeSuggestion struct {
	Concept       string    `json:"concept"`
	Mastery       float64   `json:"mastery"`
	Importance    float64   `json:"importance"`
	PracticeScore float64   `json:"practice_score"`
	SuccessRate   float64   `json:"success_rate"`
	LastPracticed time.Time `json:"last_practiced"`
}

// SuggestPractice ranks concepts by low mastery and high importance,
// favouring those not practised in the last hour.
func (g *KnowledgeGraph) SuggestPractice(limit int, now time.Time) []PracticeSuggestion {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]PracticeSuggestion, 0, len(g.concepts))
	for _, c := range g.conceptsLocked() {
		recency := 0.5
		if now.Sub(c.LastUpdated) > practiceRecencyLimit {
			recency = 1
		}
		out = append(out, PracticeSuggestion{
			Concept:       c.ID,
			Mastery:       c.Mastery,
			Importance:    c.Importance,
			PracticeScore: (1 - c.Mastery) * c.Importance * recency,
			SuccessRate:   c.SuccessRate(),
			LastPracticed: c.LastUpdated,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PracticeScore > out[j].PracticeScore })
	if limit >= 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// PrerequisiteGaps returns the sources of edges into target whose mastery
// is below PrerequisiteThreshold.
func (g *KnowledgeGraph) PrerequisiteGaps(target string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.concepts[target]; !ok {
		return nil
	}
	var gaps []string
	for _, k := range g.order {
		if k.target != target {
			continue
		}
		if c := g.concepts[k.source]; c != nil && c.Mastery < PrerequisiteThreshold {
			gaps = append(gaps, k.source)
		}
	}
	return gaps
}

// LearningPath returns the concepts to study, prerequisites first, before
// target is mastered. Unknown targets yield a path of just the target.
func (g *KnowledgeGraph) LearningPath(target string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.concepts[target]; !ok {
		return []string{target}
	}

	var path []string
	visited := make(map[string]bool)
	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true

		var prereqs []string
		for _, k := range g.order {
			if k.target == id && g.concepts[k.source].Mastery < StrongThreshold {
				prereqs = append(prereqs, k.source)
			}
		}
		sort.SliceStable(prereqs, func(i, j int) bool {
			return g.concepts[prereqs[i]].Mastery < g.concepts[prereqs[j]].Mastery
		})
		for _, p := range prereqs {
			visit(p)
		}
		if g.concepts[id].Mastery < StrongThreshold {
			path = append(path, id)
		}
	}
	visit(target)
	return path
}

// Clusters returns the connected components, ignoring edge direction, that
// hold more than one concept.
func (g *KnowledgeGraph) Clusters() [][]string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.clustersLocked()
}

func (g *KnowledgeGraph) clustersLocked() [][]string {
	adj := make(map[string][]string, len(g.concepts))
	for _, k := range g.order {
		adj[k.source] = append(adj[k.source], k.target)
		adj[k.target] = append(adj[k.target], k.source)
	}

	ids := make([]string, 0, len(g.concepts))
	for id := range g.concepts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	seen := make(map[string]bool, len(ids))
	var clusters [][]string
	for _, id := range ids {
		if seen[id] {
			continue
		}
		var component []string
		stack := []string{id}
		seen[id] = true
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			component = append(component, n)
			for _, next := range adj[n] {
				if !seen[next] {
					seen[next] = true
					stack = append(stack, next)
				}
			}
		}
		if len(component) > 1 {
			sort.Strings(component)
			clusters = append(clusters, component)
		}
	}
	return clusters
}

// MasteryDistribution counts concepts per mastery band.
type MasteryDistribution struct {
	Low    int `json:"low"`
	Medium int `json:"medium"`
	High   int `json:"high"`
}

func (g *KnowledgeGraph) distributionLocked() MasteryDistribution {
	var d MasteryDistribution
	for _, c := range g.concepts {
		switch {
		case c.Mastery < WeakThreshold:
			d.Low++
		case c.Mastery < StrongThreshold:
			d.Medium++
		default:
			d.High++
		}
	}
	return d
}

// GraphStats summarizes the graph.
type GraphStats struct {
	TotalConcepts      int                 `json:"total_concepts"`
	TotalRelationships int                 `json:"total_relationships"`
	AverageMastery     float64             `json:"average_mastery"`
	AverageImportance  float64             `json:"average_importance"`
	WeakConcepts       int                 `json:"weak_concepts"`
	StrongConcepts     int                 `json:"strong_concepts"`
	Distribution       MasteryDistribution `json:"mastery_distribution"`
	Clusters           int                 `json:"clusters"`
	Density            float64             `json:"graph_density"`
}

// Stats returns a summary of the graph.
func (g *KnowledgeGraph) Stats() GraphStats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n := len(g.concepts)
	if n == 0 {
		return GraphStats{}
	}
	var mastery, importance float64
	for _, c := range g.concepts {
		mastery += c.Mastery
		importance += c.Importance
	}
	d := g.distributionLocked()
	stats := GraphStats{
		TotalConcepts:      n,
		TotalRelationships: len(g.edges),
		AverageMastery:     mastery / float64(n),
		AverageImportance:  importance / float64(n),
		WeakConcepts:       d.Low,
		StrongConcepts:     d.High,
		Distribution:       d,
		Clusters:           len(g.clustersLocked()),
	}
	if n > 1 {
		stats.Density = float64(len(g.edges)) / float64(n*(n-1))
	}
	return stats
}

// VisualNode is a concept prepared for rendering.
type VisualNode struct {
	ID            string  `json:"id"`
	Mastery       float64 `json:"mastery"`
	Importance    float64 `json:"importance"`
	PracticeCount int     `json:"practice_count"`
	SuccessRate   float64 `json:"success_rate"`
	Color         string  `json:"color"`
	Size          int     `json:"size"`
}

// VisualEdge is a relationship prepared for rendering.
type VisualEdge struct {
	Source   string  `json:"source"`
	Target   string  `json:"target"`
	Strength float64 `json:"strength"`
	Width    int     `json:"width"`
}

// Visualization is the graph export served to the frontend.
type Visualization struct {
	Nodes []VisualNode `json:"nodes"`
	Edges []VisualEdge `json:"edges"`
	Stats GraphStats   `json:"stats"`
}

// Export returns the graph in render-ready form.
func (g *KnowledgeGraph) Export() Visualization {
	stats := g.Stats()

	g.mu.RLock()
	defer g.mu.RUnlock()

	v := Visualization{
		Nodes: make([]VisualNode, 0, len(g.concepts)),
		Edges: make([]VisualEdge, 0, len(g.order)),
		Stats: stats,
	}
	for _, c := range g.conceptsLocked() {
		v.Nodes = append(v.Nodes, VisualNode{
			ID:            c.ID,
			Mastery:       c.Mastery,
			Importance:    c.Importance,
			PracticeCount: c.PracticeCount,
			SuccessRate:   c.SuccessRate(),
			Color:         masteryColor(c.Mastery),
			Size:          int(10 + c.Importance*20),
		})
	}
	for _, k := range g.order {
		e := g.edges[k]
		width := int(e.Strength * 5)
		if width < 1 {
			width = 1
		}
		v.Edges = append(v.Edges, VisualEdge{
			Source:   e.Source,
			Target:   e.Target,
			Strength: e.Strength,
			Width:    width,
		})
	}
	return v
}

func masteryColor(m float64) string {
	switch {
	case m < 0.3:
		return "#ff4444"
	case m < StrongThreshold:
		return "#ffaa44"
	default:
		return "#44ff44"
	}
}

var defaultMathConcepts = []struct {
	id         string
	importance float64
}{
	{"basic_arithmetic", 0.9},
	{"fractions", 0.8},
	{"linear_equations", 0.7},
	{"quadratic_equations", 0.7},
	{"functions", 0.8},
	{"limits", 0.6},
	{"derivatives", 0.7},
	{"integrals", 0.6},
	{"basic_geometry", 0.8},
	{"triangles", 0.7},
	{"trigonometry", 0.6},
}

var defaultMathRelationships = []Relationship{
	{Source: "basic_arithmetic", Target: "linear_equations", Strength: 0.8},
	{Source: "linear_equations", Target: "quadratic_equations", Strength: 0.7},
	{Source: "quadratic_equations", Target: "polynomial_equations", Strength: 0.6},
	{Source: "fractions", Target: "rational_expressions", Strength: 0.7},
	{Source: "functions", Target: "limits", Strength: 0.9},
	{Source: "limits", Target: "derivatives", Strength: 0.8},
	{Source: "derivatives", Target: "integrals", Strength: 0.7},
	{Source: "algebra", Target: "calculus", Strength: 0.6},
	{Source: "basic_geometry", Target: "triangles", Strength: 0.8},
	{Source: "triangles", Target: "trigonometry", Strength: 0.7},
	{Source: "coordinate_geometry", Target: "analytic_geometry", Strength: 0.9},
}

// NewDefaultMathGraph returns a graph seeded with common math concepts and
// their prerequisite links.
func NewDefaultMathGraph(now time.Time) *KnowledgeGraph {
	g := NewKnowledgeGraph()
	for _, c := range defaultMathConcepts {
		g.AddConcept(c.id, c.importance, now)
	}
	for _, r := range defaultMathRelationships {
		g.AddRelationship(r.Source, r.Target, r.Strength, RelationPrerequisite, now)
	}
	return g
}

type graphSnapshot struct {
	Concepts      []Concept      `json:"concepts"`
	Relationships []Relationship `json:"relationships"`
}

// MarshalJSON encodes concepts and relationships.
func (g *KnowledgeGraph) MarshalJSON() ([]byte, error) {
	return json.Marshal(graphSnapshot{
		Concepts:      g.Concepts(),
		Relationships: g.Relationships(),
	})
}

// UnmarshalJSON replaces the graph contents with a previously marshalled graph.
func (g *KnowledgeGraph) UnmarshalJSON(data []byte) error {
	var snap graphSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode knowledge graph: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.concepts = make(map[string]*Concept, len(snap.Concepts))
	g.edges = make(map[edgeKey]*Relationship, len(snap.Relationships))
	g.order = nil
	for i := range snap.Concepts {
		c := snap.Concepts[i]
		g.concepts[c.ID] = &c
	}
	for _, r := range snap.Relationships {
		g.addRelationshipLocked(r.Source, r.Target, r.Strength, r.Type, time.Time{})
	}
	return nil
}
