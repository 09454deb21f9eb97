package intercept

import "sync"

// Registry holds the active bindings. It is safe for concurrent use;
// lookups only take a read lock.
type Registry struct {
	mu       sync.RWMutex
	bindings map[Identity][]*Binding
	count    int
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		bindings: map[Identity][]*Binding{},
	}
}

// Register makes b active. Several bindings may target the same function.
func (r *Registry) Register(b *Binding) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.bindings[b.original] = append(r.bindings[b.original], b)
	r.count++
}

// Lookup returns the binding that applies to a call of id on receiver, which
// is nil for calls without a receiver.
//
// A binding scoped to receiver takes precedence over an unscoped one. Among
// bindings of the same kind the first registered wins.
func (r *Registry) Lookup(id Identity, receiver any) (*Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var unscoped *Binding
	for _, b := range r.bindings[id] {
		if !b.Scoped() {
			if unscoped == nil {
				unscoped = b
			}
			continue
		}
		if receiver != nil && b.instance == receiver {
			return b, true
		}
	}
	return unscoped, unscoped != nil
}

// Clear removes every binding.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(r.bindings)
	r.count = 0
}

// Len returns the number of active bindings.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// noBindings never matches. Pass-through generators use it.
type noBindings struct{}

func (noBindings) Lookup(Identity, any) (*Binding, bool) {
	return nil, false
}
