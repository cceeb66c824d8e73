// Package syncx provides extended synchronization primitives
package syncx

import "sync"

// Watched is a guarded value whose readers can wait for the next change.
type Watched[T any] struct {
	mu      sync.RWMutex
	value   T
	changed chan struct{}
}

// NewWatched creates a guarded value.
func NewWatched[T any](initial T) *Watched[T] {
	return &Watched[T]{value: initial, changed: make(chan struct{})}
}

// Get returns a copy of the value (T should be value type or immutable).
func (w *Watched[T]) Get() T {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.value
}

// Update mutates the value under the write lock and wakes waiters.
func (w *Watched[T]) Update(fn func(*T)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn(&w.value)
	close(w.changed)
	w.changed = make(chan struct{})
}

// Changed returns a channel closed on the next Update.
func (w *Watched[T]) Changed() <-chan struct{} {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.changed
}
