// Package kmutex provides mutexes keyed by value, used to serialize actions
// per user and per unordered user pair.
package kmutex

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

type KMutex[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*entry
}

func New[K comparable]() *KMutex[K] {
	return &KMutex[K]{entries: make(map[K]*entry)}
}

// Lock acquires the mutex for key and returns its unlock function.
// Entries are reference counted so the map does not grow unboundedly.
func (k *KMutex[K]) Lock(key K) func() {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}
