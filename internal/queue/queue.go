// Package queue provides a bounded, thread-safe FIFO that evicts the
// oldest entries once full.
package queue

import (
	"sync"
)

// Ring is a generic thread-safe queue with a fixed capacity. Pushing into
// a full ring overwrites the oldest item.
type Ring[T any] struct {
	mu      sync.Mutex
	items   []T
	head    int // index of the oldest item
	size    int
	dropped int
}

// New creates an empty ring holding at most capacity items. A capacity
// below 1 is treated as 1.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{
		items: make([]T, capacity),
	}
}

// Push appends items, evicting the oldest ones when the ring is full.
// It returns how many items were evicted.
func (q *Ring[T]) Push(items ...T) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	evicted := 0
	for _, it := range items {
		tail := (q.head + q.size) % len(q.items)
		q.items[tail] = it
		if q.size == len(q.items) {
			q.head = (q.head + 1) % len(q.items)
			evicted++
			continue
		}
		q.size++
	}
	q.dropped += evicted
	return evicted
}

// Pop removes and returns the oldest item. Returns zero value if empty.
func (q *Ring[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if q.size == 0 {
		return zero, false
	}
	item := q.items[q.head]
	q.items[q.head] = zero
	q.head = (q.head + 1) % len(q.items)
	q.size--
	return item, true
}

// Items returns a copy of the contents, oldest first.
func (q *Ring[T]) Items() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.copyLocked()
}

// GetAndEmpty returns all items and clears the ring.
func (q *Ring[T]) GetAndEmpty() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.copyLocked()
	q.clearLocked()
	return out
}

// Empty returns true if the ring has no items.
func (q *Ring[T]) Empty() bool {
	return q.Len() == 0
}

// Len returns the number of items held.
func (q *Ring[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap returns the capacity.
func (q *Ring[T]) Cap() int {
	return len(q.items)
}

// Dropped returns how many items were evicted since creation.
func (q *Ring[T]) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Clear removes all items.
func (q *Ring[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.clearLocked()
}

func (q *Ring[T]) copyLocked() []T {
	out := make([]T, q.size)
	for i := 0; i < q.size; i++ {
		out[i] = q.items[(q.head+i)%len(q.items)]
	}
	return out
}

func (q *Ring[T]) clearLocked() {
	clear(q.items)
	q.head = 0
	q.size = 0
}
