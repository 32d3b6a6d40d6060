// Package keylock provides a mutex per key for single-writer sections, such
// as one user's quota window or one job's export cache entry.
package keylock

import (
	"context"
	"sync"
)

// Map hands out per-key locks. Idle entries are dropped so the map does not
// grow with the number of distinct keys ever seen.
type Map[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*entry
}

type entry struct {
	// sem has capacity one; holding the token means holding the lock.
	sem     chan struct{}
	waiters int
}

// New returns an empty lock map.
func New[K comparable]() *Map[K] {
	return &Map[K]{entries: make(map[K]*entry)}
}

// Lock blocks until key is held or ctx ends. The returned func releases the
// key and is safe to call more than once.
func (m *Map[K]) Lock(ctx context.Context, key K) (func(), error) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		m.entries[key] = e
	}
	e.waiters++
	m.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		m.release(key, e, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { m.release(key, e, true) })
	}, nil
}

func (m *Map[K]) release(key K, e *entry, held bool) {
	if held {
		<-e.sem
	}
	m.mu.Lock()
	e.waiters--
	if e.waiters == 0 {
		delete(m.entries, key)
	}
	m.mu.Unlock()
}

// Len reports how many keys are currently held or awaited.
func (m *Map[K]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
