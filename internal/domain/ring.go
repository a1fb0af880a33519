package domain

import (
	"sync"
)

// Ring is a fixed-capacity buffer that overwrites its oldest entry when full.
type Ring[T any] struct {
	buf  []T
	size int
	head int // write position
	tail int // oldest entry
	full bool
	mu   sync.RWMutex
}

// NewRing creates a ring holding at most size entries. Size defaults to 16.
func NewRing[T any](size int) *Ring[T] {
	if size <= 0 {
		size = 16
	}
	return &Ring[T]{
		buf:  make([]T, size),
		size: size,
	}
}

// Push appends v, dropping the oldest entry if the ring is full.
func (r *Ring[T]) Push(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.full {
		r.tail = (r.tail + 1) % r.size
	}
	r.buf[r.head] = v
	r.head = (r.head + 1) % r.size
	if r.head == r.tail {
		r.full = true
	}
}

// Items returns the entries oldest first.
func (r *Ring[T]) Items() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.lenLocked()
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, r.buf[(r.tail+i)%r.size])
	}
	return out
}

// Last returns up to n of the newest entries, oldest first.
func (r *Ring[T]) Last(n int) []T {
	items := r.Items()
	if n >= len(items) {
		return items
	}
	return items[len(items)-n:]
}

// Len returns the number of entries.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lenLocked()
}

func (r *Ring[T]) lenLocked() int {
	switch {
	case r.full:
		return r.size
	case r.head >= r.tail:
		return r.head - r.tail
	default:
		return r.size - r.tail + r.head
	}
}

// Reset clears the ring.
func (r *Ring[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head = 0
	r.tail = 0
	r.full = false
}

// Capacity returns the maximum number of entries.
func (r *Ring[T]) Capacity() int {
	return r.size
}
