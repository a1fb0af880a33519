package domain

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var outcomes = []Outcome{OutcomeSuccess, OutcomeError, OutcomeNeutral}

func TestKnowledgeGraphProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	properties.Property("mastery stays in [0,1] and counters add up", prop.ForAll(
		func(seq []int) bool {
			g := NewKnowledgeGraph()
			for _, o := range seq {
				g.Update([]string{"limits"}, outcomes[o], now)
			}
			if len(seq) == 0 {
				_, ok := g.Concept("limits")
				return !ok
			}
			c, ok := g.Concept("limits")
			if !ok || c.Mastery < 0 || c.Mastery > 1 {
				return false
			}
			neutral := c.PracticeCount - c.SuccessCount - c.ErrorCount
			return c.PracticeCount == len(seq) && neutral >= 0
		},
		gen.SliceOf(gen.IntRange(0, 2)),
	))

	properties.Property("co-occurrence strength is capped at 1", prop.ForAll(
		func(n int) bool {
			g := NewKnowledgeGraph()
			for i := 0; i < n; i++ {
				g.Update([]string{"b", "a"}, OutcomeNeutral, now)
			}
			rels := g.Relationships()
			if len(rels) != 1 {
				return false
			}
			want := math.Min(1, coOccurrenceStart+float64(n)*coOccurrenceStep)
			return rels[0].Source == "a" && math.Abs(rels[0].Strength-want) < 1e-9
		},
		gen.IntRange(1, 40),
	))

	properties.TestingRun(t)
}

func TestRingProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("ring keeps the newest min(n, cap) pushes in order", prop.ForAll(
		func(capacity int, values []int) bool {
			r := NewRing[int](capacity)
			for _, v := range values {
				r.Push(v)
			}
			want := values
			if len(want) > capacity {
				want = want[len(want)-capacity:]
			}
			got := r.Items()
			if len(got) != len(want) || r.Len() != len(want) {
				return false
			}
			for i := range got {
				if got[i] != want[i] {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 16),
		gen.SliceOf(gen.Int()),
	))

	properties.TestingRun(t)
}
