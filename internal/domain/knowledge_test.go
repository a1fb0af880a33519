package domain

import (
	"encoding/json"
	"math"
	"reflect"
	"testing"
	"time"
)

var epoch = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestConceptUpdateRule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		outcome Outcome
		want    float64
	}{
		{OutcomeSuccess, 0.5 + 0.1*0.5},
		{OutcomeError, 0.5 - 0.05},
		{OutcomeNeutral, 0.5 + 0.01},
		{"unknown", 0.5 + 0.01},
	}

	for _, tt := range tests {
		g := NewKnowledgeGraph()
		g.Update([]string{"x"}, tt.outcome, epoch)
		c, ok := g.Concept("x")
		if !ok {
			t.Fatalf("%s: concept not created", tt.outcome)
		}
		if !almostEqual(c.Mastery, tt.want) {
			t.Errorf("%s: mastery = %v, want %v", tt.outcome, c.Mastery, tt.want)
		}
		if c.PracticeCount != 1 {
			t.Errorf("%s: practice count = %d", tt.outcome, c.PracticeCount)
		}
	}
}

func TestConceptMasteryIsClamped(t *testing.T) {
	t.Parallel()

	g := NewKnowledgeGraph()
	for i := 0; i < 30; i++ {
		g.Update([]string{"x"}, OutcomeError, epoch)
	}
	c, _ := g.Concept("x")
	if c.Mastery != 0 {
		t.Fatalf("mastery = %v, want 0", c.Mastery)
	}
	if c.ErrorCount != 30 || c.SuccessRate() != 0 {
		t.Fatalf("unexpected counters %+v", c)
	}
}

func TestSuccessRateDefaultsToHalf(t *testing.T) {
	t.Parallel()

	if got := (Concept{}).SuccessRate(); got != 0.5 {
		t.Fatalf("SuccessRate() = %v, want 0.5", got)
	}
}

func TestCoOccurrenceStrengthens(t *testing.T) {
	t.Parallel()

	g := NewKnowledgeGraph()
	g.Update([]string{"b", "a"}, OutcomeNeutral, epoch)
	g.Update([]string{"a", "b"}, OutcomeNeutral, epoch)

	rels := g.Relationships()
	if len(rels) != 1 {
		t.Fatalf("expected one edge, got %+v", rels)
	}
	r := rels[0]
	if r.Source != "a" || r.Target != "b" || r.Type != RelationCoOccurs {
		t.Fatalf("unexpected edge %+v", r)
	}
	if !almostEqual(r.Strength, 0.3) {
		t.Fatalf("strength = %v, want 0.3", r.Strength)
	}

	for i := 0; i < 30; i++ {
		g.Update([]string{"a", "b"}, OutcomeNeutral, epoch)
	}
	if s := g.Relationships()[0].Strength; s != 1 {
		t.Fatalf("strength = %v, want capped at 1", s)
	}
}

func TestDefaultMathGraph(t *testing.T) {
	t.Parallel()

	g := NewDefaultMathGraph(epoch)
	stats := g.Stats()

	// 11 seeded concepts plus 6 only named by relationships.
	if stats.TotalConcepts != 17 {
		t.Fatalf("total concepts = %d, want 17", stats.TotalConcepts)
	}
	if stats.TotalRelationships != 11 {
		t.Fatalf("total relationships = %d, want 11", stats.TotalRelationships)
	}
	if stats.Distribution.Medium != 17 {
		t.Fatalf("distribution = %+v", stats.Distribution)
	}
	c, _ := g.Concept("basic_arithmetic")
	if c.Importance != 0.9 || c.Mastery != 0.5 {
		t.Fatalf("unexpected seed concept %+v", c)
	}
}

func TestWeakAndStrongConcepts(t *testing.T) {
	t.Parallel()

	g := NewKnowledgeGraph()
	g.AddConcept("weak", 0.5, epoch)
	g.AddConcept("strong", 0.5, epoch)
	for i := 0; i < 3; i++ {
		g.Update([]string{"weak"}, OutcomeError, epoch)
	}
	for i := 0; i < 10; i++ {
		g.Update([]string{"strong"}, OutcomeSuccess, epoch)
	}

	if got := g.WeakConcepts(WeakThreshold); !reflect.DeepEqual(got, []string{"weak"}) {
		t.Fatalf("WeakConcepts() = %v", got)
	}
	if got := g.StrongConcepts(StrongThreshold); !reflect.DeepEqual(got, []string{"strong"}) {
		t.Fatalf("StrongConcepts() = %v", got)
	}
}

func TestPrerequisiteGapsAndLearningPath(t *testing.T) {
	t.Parallel()

	g := NewDefaultMathGraph(epoch)
	// Push limits below the gap threshold.
	for i := 0; i < 3; i++ {
		g.Update([]string{"limits"}, OutcomeError, epoch)
	}

	if got := g.PrerequisiteGaps("derivatives"); !reflect.DeepEqual(got, []string{"limits"}) {
		t.Fatalf("PrerequisiteGaps() = %v", got)
	}
	if got := g.PrerequisiteGaps("missing"); got != nil {
		t.Fatalf("PrerequisiteGaps(missing) = %v", got)
	}

	want := []string{"functions", "limits", "derivatives"}
	if got := g.LearningPath("derivatives"); !reflect.DeepEqual(got, want) {
		t.Fatalf("LearningPath() = %v, want %v", got, want)
	}
	if got := g.LearningPath("topology"); !reflect.DeepEqual(got, []string{"topology"}) {
		t.Fatalf("LearningPath(unknown) = %v", got)
	}
}

func TestClusters(t *testing.T) {
	t.Parallel()

	g := NewKnowledgeGraph()
	g.AddRelationship("a", "b", 0.5, RelationPrerequisite, epoch)
	g.AddRelationship("c", "b", 0.5, RelationPrerequisite, epoch)
	g.AddRelationship("x", "y", 0.5, RelationPrerequisite, epoch)
	g.AddConcept("lonely", 0.5, epoch)

	want := [][]string{{"a", "b", "c"}, {"x", "y"}}
	if got := g.Clusters(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Clusters() = %v, want %v", got, want)
	}
}

func TestExportVisualAttributes(t *testing.T) {
	t.Parallel()

	g := NewKnowledgeGraph()
	g.AddConcept("low", 0.5, epoch)
	g.AddRelationship("low", "other", 0.1, RelationPrerequisite, epoch)
	for i := 0; i < 5; i++ {
		g.Update([]string{"low"}, OutcomeError, epoch)
	}

	v := g.Export()
	if len(v.Nodes) != 2 || len(v.Edges) != 1 {
		t.Fatalf("unexpected export %+v", v)
	}
	low := v.Nodes[0]
	if low.ID != "low" || low.Color != "#ff4444" || low.Size != 20 {
		t.Fatalf("unexpected node %+v", low)
	}
	if other := v.Nodes[1]; other.Color != "#ffaa44" {
		t.Fatalf("unexpected node %+v", other)
	}
	if v.Edges[0].Width != 1 {
		t.Fatalf("edge width = %d, want 1", v.Edges[0].Width)
	}
	if v.Stats.WeakConcepts != 1 || v.Stats.Clusters != 1 {
		t.Fatalf("unexpected stats %+v", v.Stats)
	}
}

func TestSuggestPracticeFavoursStaleWeakConcepts(t *testing.T) {
	t.Parallel()

	g := NewKnowledgeGraph()
	g.AddConcept("stale", 0.8, epoch)
	g.AddConcept("fresh", 0.8, epoch.Add(2*time.Hour))

	got := g.SuggestPractice(1, epoch.Add(2*time.Hour))
	if len(got) != 1 || got[0].Concept != "stale" {
		t.Fatalf("SuggestPractice() = %+v", got)
	}
}

func TestGraphJSONRoundTrip(t *testing.T) {
	t.Parallel()

	g := NewDefaultMathGraph(epoch)
	g.Update([]string{"limits", "derivatives"}, OutcomeSuccess, epoch)

	data, err := json.Marshal(g)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	restored := NewKnowledgeGraph()
	if err := json.Unmarshal(data, restored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if !reflect.DeepEqual(g.Relationships(), restored.Relationships()) {
		t.Fatal("relationships differ after round trip")
	}
	a, _ := g.Concept("limits")
	b, _ := restored.Concept("limits")
	if a.Mastery != b.Mastery || a.PracticeCount != b.PracticeCount {
		t.Fatalf("concept differs: %+v vs %+v", a, b)
	}
}
