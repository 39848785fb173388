// Package history provides the fixed-capacity circular buffer used to keep
// the recent floating-base kinematics for retroactive recovery.
package history

import (
	"errors"
	"fmt"
)

// ErrEmpty is returned when reading from a ring that was never appended to.
var ErrEmpty = errors.New("history: buffer is empty")

// Ring is a fixed-capacity circular buffer. Once full, each Push silently
// overwrites the oldest entry. It is not safe for concurrent use; the owner
// serialises access.
type Ring[T any] struct {
	items    []T
	capacity int
	head     int // next write position
	size     int
}

// NewRing creates a ring holding at most capacity entries. Capacities below
// one are raised to one.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Push appends v, overwriting the oldest entry if the ring is full.
func (r *Ring[T]) Push(v T) {
	r.items[r.head] = v
	r.head = (r.head + 1) % r.capacity
	if r.size < r.capacity {
		r.size++
	}
}

// Len returns the number of stored entries.
func (r *Ring[T]) Len() int { return r.size }

// Cap returns the configured capacity.
func (r *Ring[T]) Cap() int { return r.capacity }

// Full reports whether the ring reached its capacity.
func (r *Ring[T]) Full() bool { return r.size == r.capacity }

// At returns the i-th stored entry, 0 being the oldest.
func (r *Ring[T]) At(i int) (T, error) {
	var zero T
	if r.size == 0 {
		return zero, ErrEmpty
	}
	if i < 0 || i >= r.size {
		return zero, fmt.Errorf("history: index %d out of range [0,%d)", i, r.size)
	}
	start := (r.head - r.size + r.capacity) % r.capacity
	return r.items[(start+i)%r.capacity], nil
}

// Back returns the most recent entry.
func (r *Ring[T]) Back() (T, error) {
	return r.At(r.size - 1)
}

// Front returns the oldest entry.
func (r *Ring[T]) Front() (T, error) {
	return r.At(0)
}

// Previous returns the entry n steps back: Previous(1) is the most recent.
func (r *Ring[T]) Previous(n int) (T, error) {
	return r.At(r.size - n)
}

// Items returns a copy of the stored entries in append order.
func (r *Ring[T]) Items() []T {
	out := make([]T, 0, r.size)
	for i := 0; i < r.size; i++ {
		v, _ := r.At(i)
		out = append(out, v)
	}
	return out
}

// Reset drops every entry while keeping the capacity.
func (r *Ring[T]) Reset() {
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head = 0
	r.size = 0
}

// Resize reallocates the ring to a new capacity, keeping the most recent
// entries that still fit.
func (r *Ring[T]) Resize(capacity int) {
	kept := r.Items()
	*r = *NewRing[T](capacity)
	if len(kept) > r.capacity {
		kept = kept[len(kept)-r.capacity:]
	}
	for _, v := range kept {
		r.Push(v)
	}
}
