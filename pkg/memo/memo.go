// Package memo holds a single-entry cache for pure helpers that are called
// repeatedly with the same argument.
package memo

import "sync"

// Last remembers the value computed for the most recent key.
// A different key evicts it.
type Last[K comparable, V any] struct {
	mu    sync.Mutex
	valid bool
	key   K
	value V
}

// Get returns the cached value when key matches the last one, otherwise it
// calls compute and caches its result.
func (l *Last[K, V]) Get(key K, compute func(K) V) V {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.valid && l.key == key {
		return l.value
	}
	l.key = key
	l.value = compute(key)
	l.valid = true
	return l.value
}
