// Package inflight tracks which chunk indices currently have a fetch or
// append outstanding, so a chunk is never requested twice at once.
package inflight

import (
	"slices"
	"sync"
)

// Tracker is a concurrency-safe set of reserved chunk indices.
type Tracker struct {
	mu       sync.Mutex
	reserved map[int]struct{}
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{reserved: make(map[int]struct{})}
}

// TryReserve reserves index and reports whether the caller won it.
// Check and insert happen under one lock.
func (t *Tracker) TryReserve(index int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.reserved[index]; ok {
		return false
	}
	t.reserved[index] = struct{}{}
	return true
}

// Release drops the reservation for index. Releasing an unreserved index is a no-op.
func (t *Tracker) Release(index int) {
	t.mu.Lock()
	delete(t.reserved, index)
	t.mu.Unlock()
}

// Reserved reports whether index is currently reserved.
func (t *Tracker) Reserved(index int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.reserved[index]
	return ok
}

// Len returns the number of reserved indices.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.reserved)
}

// Indices returns the reserved indices in ascending order.
func (t *Tracker) Indices() []int {
	t.mu.Lock()
	out := make([]int, 0, len(t.reserved))
	for i := range t.reserved {
		out = append(out, i)
	}
	t.mu.Unlock()

	slices.Sort(out)
	return out
}

// Clear releases every reservation.
func (t *Tracker) Clear() {
	t.mu.Lock()
	clear(t.reserved)
	t.mu.Unlock()
}
