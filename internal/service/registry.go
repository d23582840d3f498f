package service

import (
	"fmt"
	"sync"

	"github.com/vyrodovalexey/avapiclient/internal/util"
)

// Registry tracks every service known to the process so framework-level
// sweeps can reach their protocols.
type Registry struct {
	mu       sync.RWMutex
	services map[string]*Service
	order    []string
}

// NewRegistry creates an empty service registry.
func NewRegistry() *Registry {
	return &Registry{services: make(map[string]*Service)}
}

// Register adds svc. Names must be unique.
func (r *Registry) Register(svc *Service) error {
	if svc == nil {
		return fmt.Errorf("%w: service is nil", util.ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.services[svc.Name()]; ok {
		return fmt.Errorf("%w: %s", util.ErrServiceExists, svc.Name())
	}
	r.services[svc.Name()] = svc
	r.order = append(r.order, svc.Name())
	return nil
}

// Get returns the service with the given name.
func (r *Registry) Get(name string) (*Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[name]
	return svc, ok
}

// All returns every service in registration order.
func (r *Registry) All() []*Service {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Service, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.services[name])
	}
	return out
}

// Cleanup cleans up and forgets every service.
func (r *Registry) Cleanup() {
	r.mu.Lock()
	services := make([]*Service, 0, len(r.order))
	for _, name := range r.order {
		services = append(services, r.services[name])
	}
	r.services = make(map[string]*Service)
	r.order = nil
	r.mu.Unlock()

	for _, svc := range services {
		svc.Cleanup()
	}
}
