package core

import (
	"fmt"
	"sort"
	"sync"
)

// ServiceDescriptor is a registered service.
type ServiceDescriptor struct {
	ID          uint32
	Name        string
	Fingerprint string
	Factory     ServiceFactory
}

// Registry maps service ids and names to their factories. Ids are assigned
// in registration order starting at 1; 0 is the session's core service.
type Registry struct {
	mu     sync.RWMutex
	byID   map[uint32]*ServiceDescriptor
	byName map[string]*ServiceDescriptor
	next   uint32
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[uint32]*ServiceDescriptor),
		byName: make(map[string]*ServiceDescriptor),
		next:   1,
	}
}

// Register adds a service.
func (r *Registry) Register(name, fingerprint string, factory ServiceFactory) (*ServiceDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceExists, name)
	}
	desc := &ServiceDescriptor{
		ID:          r.next,
		Name:        name,
		Fingerprint: fingerprint,
		Factory:     factory,
	}
	r.next++
	r.byID[desc.ID] = desc
	r.byName[name] = desc
	return desc, nil
}

// ByID returns the service registered under id.
func (r *Registry) ByID(id uint32) (*ServiceDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	return d, ok
}

// ByName returns the service registered under name.
func (r *Registry) ByName(name string) (*ServiceDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	return d, ok
}

// All returns every registered service in id order.
func (r *Registry) All() []*ServiceDescriptor {
	r.mu.RLock()
	out := make([]*ServiceDescriptor, 0, len(r.byID))
	for _, d := range r.byID {
		out = append(out, d)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
