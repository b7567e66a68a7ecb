package call

import "sync"

// Factory builds a fully wired engine for one user. The composition root
// supplies it so every engine gets the same clock, recorder construction and
// notifier fan-out.
type Factory func(userID, name string) *Service

// Registry keeps one engine per user for the lifetime of their presence
type Registry struct {
	mu      sync.RWMutex
	factory Factory
	engines map[string]*Service
}

func NewRegistry(factory Factory) *Registry {
	return &Registry{
		factory: factory,
		engines: make(map[string]*Service),
	}
}

// Get returns the user's engine, creating one on first use
func (r *Registry) Get(userID, name string) *Service {
	r.mu.RLock()
	eng, ok := r.engines[userID]
	r.mu.RUnlock()
	if ok {
		return eng
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if eng, ok := r.engines[userID]; ok {
		return eng
	}
	eng = r.factory(userID, name)
	r.engines[userID] = eng
	return eng
}

// Lookup returns the user's engine without creating one
func (r *Registry) Lookup(userID string) (*Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	eng, ok := r.engines[userID]
	return eng, ok
}

// Release ends any current call, stops the engine's timers and drops it from
// the registry. Safe to call for unknown users.
func (r *Registry) Release(userID string) {
	r.mu.Lock()
	eng, ok := r.engines[userID]
	delete(r.engines, userID)
	r.mu.Unlock()

	if ok {
		eng.EndCall()
		eng.Close()
	}
}

// Range visits every engine until fn returns false
func (r *Registry) Range(fn func(userID string, eng *Service) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, eng := range r.engines {
		if !fn(id, eng) {
			return
		}
	}
}
