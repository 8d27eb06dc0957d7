package session

import (
	"sync"

	"github.com/stemsi/proktor/internal/model"
)

// Registry tracks the live engines on this node so HTTP and WebSocket
// handlers can reach a running aggregate. One engine per student per exam.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]*Engine
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{engines: make(map[string]*Engine)}
}

// Put registers an engine under its session key.
func (r *Registry) Put(e *Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[e.Ref().Key()] = e
}

// Get returns the engine for the given attempt, if one is live.
func (r *Registry) Get(ref model.SessionRef) (*Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[ref.Key()]
	return e, ok
}

// Remove drops the engine for the given attempt.
func (r *Registry) Remove(ref model.SessionRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.engines, ref.Key())
}

// Len returns the number of live engines.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.engines)
}
