package domain

import (
	"reflect"
	"testing"
)

func TestRingOverwritesOldest(t *testing.T) {
	t.Parallel()

	r := NewRing[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}

	if got, want := r.Items(), []int{3, 4, 5}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Items() = %v, want %v", got, want)
	}
	if r.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", r.Len())
	}
	if got, want := r.Last(2), []int{4, 5}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Last(2) = %v, want %v", got, want)
	}
}

func TestRingPartialAndReset(t *testing.T) {
	t.Parallel()

	r := NewRing[string](4)
	r.Push("a")
	r.Push("b")
	if got, want := r.Items(), []string{"a", "b"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Items() = %v, want %v", got, want)
	}
	if got := r.Last(10); len(got) != 2 {
		t.Fatalf("Last(10) returned %d items", len(got))
	}

	r.Reset()
	if r.Len() != 0 || len(r.Items()) != 0 {
		t.Fatalf("ring not empty after reset: %v", r.Items())
	}
}

func TestRingDefaultCapacity(t *testing.T) {
	t.Parallel()

	if got := NewRing[int](0).Capacity(); got != 16 {
		t.Fatalf("Capacity() = %d, want 16", got)
	}
}
