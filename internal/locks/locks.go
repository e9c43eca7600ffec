// Package locks provides a keyed mutex registry for serializing
// read-modify-write sequences on shared rows.
package locks

import (
	"sync"
)

// Registry hands out one mutex per key. Funds accounts lock on the user ID;
// position rows lock on user:exchange:symbol:product. Locks are never
// removed; the key space is bounded by users and instruments.
type Registry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRegistry creates an empty lock registry.
func NewRegistry() *Registry {
	return &Registry{
		locks: make(map[string]*sync.Mutex),
	}
}

func (r *Registry) get(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.locks[key]
	if !ok {
		l = &sync.Mutex{}
		r.locks[key] = l
	}
	return l
}

// Lock acquires the mutex for key and returns its unlock function.
func (r *Registry) Lock(key string) func() {
	l := r.get(key)
	l.Lock()
	return l.Unlock
}
