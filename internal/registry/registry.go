// Package registry holds global plugins keyed by protocol class. Every
// protocol instance of a class sees the same global plugins, subject to the
// exclusions of the service that owns it.
package registry

import (
	"sync"

	"github.com/vyrodovalexey/avapiclient/internal/observability"
	"github.com/vyrodovalexey/avapiclient/internal/plugin"
	"github.com/vyrodovalexey/avapiclient/internal/util"
)

// Registry stores one ordered plugin set per protocol class. It is an
// explicit object injected into services; there is no process-wide
// instance.
type Registry struct {
	mu      sync.RWMutex
	sets    map[plugin.Class]*plugin.Set
	classes []plugin.Class
	logger  observability.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger for the registry.
func WithLogger(logger observability.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		sets:   make(map[plugin.Class]*plugin.Set),
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add registers p for every protocol of protocolClass. Adding a plugin
// that is already registered is a no-op.
func (r *Registry) Add(protocolClass plugin.Class, p plugin.Plugin) error {
	if protocolClass == nil {
		return util.NewConfigurationError("registry", "protocol class is required")
	}
	if err := plugin.CheckIdentity(p); err != nil {
		return err
	}

	if r.set(protocolClass, true).Add(p) {
		r.logger.Debug("global plugin registered",
			observability.String("protocol_class", protocolClass.String()),
			observability.String("plugin", plugin.Name(p)),
		)
	}
	return nil
}

// Remove destroys and removes the first plugin of pluginClass registered
// for protocolClass. It returns false when none matched.
func (r *Registry) Remove(protocolClass, pluginClass plugin.Class) bool {
	s := r.set(protocolClass, false)
	if s == nil {
		return false
	}
	removed := s.Remove(pluginClass)
	if removed {
		r.logger.Debug("global plugin removed",
			observability.String("protocol_class", protocolClass.String()),
			observability.String("plugin_class", pluginClass.String()),
		)
	}
	return removed
}

// Has reports whether a plugin of pluginClass is registered for protocolClass.
func (r *Registry) Has(protocolClass, pluginClass plugin.Class) bool {
	s := r.set(protocolClass, false)
	return s != nil && s.HasClass(pluginClass)
}

// GetAll returns a snapshot of the plugins registered for protocolClass,
// in registration order.
func (r *Registry) GetAll(protocolClass plugin.Class) []plugin.Plugin {
	s := r.set(protocolClass, false)
	if s == nil {
		return nil
	}
	return s.GetAll()
}

// Clear destroys and removes every plugin registered for protocolClass.
func (r *Registry) Clear(protocolClass plugin.Class) {
	if s := r.set(protocolClass, false); s != nil {
		s.Clear()
	}
}

// Classes returns the protocol classes that have had plugins registered,
// in first-registration order.
func (r *Registry) Classes() []plugin.Class {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]plugin.Class, len(r.classes))
	copy(out, r.classes)
	return out
}

// Reset clears every protocol class.
func (r *Registry) Reset() {
	for _, class := range r.Classes() {
		r.Clear(class)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sets = make(map[plugin.Class]*plugin.Set)
	r.classes = nil
}

func (r *Registry) set(protocolClass plugin.Class, create bool) *plugin.Set {
	r.mu.RLock()
	s, ok := r.sets[protocolClass]
	r.mu.RUnlock()
	if ok || !create {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok = r.sets[protocolClass]; ok {
		return s
	}
	s = plugin.NewSet()
	r.sets[protocolClass] = s
	r.classes = append(r.classes, protocolClass)
	return s
}
