// Package service groups protocol instances under a named API service. A
// service owns service-local plugins, the set of excluded global plugin
// classes and the record of plugins registered for its protocols.
package service

import (
	"errors"
	"sync"

	"github.com/vyrodovalexey/avapiclient/internal/observability"
	"github.com/vyrodovalexey/avapiclient/internal/plugin"
	"github.com/vyrodovalexey/avapiclient/internal/protocol"
	"github.com/vyrodovalexey/avapiclient/internal/registry"
	"github.com/vyrodovalexey/avapiclient/internal/util"
)

// Service is a named API service.
type Service struct {
	name    string
	global  *registry.Registry
	logger  observability.Logger
	metrics *observability.Metrics

	local *plugin.Set

	mu         sync.RWMutex
	excluded   map[plugin.Class]struct{}
	protocols  []protocol.Protocol
	registered map[protocol.Protocol]*plugin.Set
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger for the service and its protocols.
func WithLogger(logger observability.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics records call metrics for the service's protocols.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New creates a service reading global plugins from global, which may be nil.
func New(name string, global *registry.Registry, opts ...Option) *Service {
	s := &Service{
		name:       name,
		global:     global,
		logger:     observability.NopLogger(),
		local:      plugin.NewSet(),
		excluded:   make(map[plugin.Class]struct{}),
		registered: make(map[protocol.Protocol]*plugin.Set),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(observability.String("service", name))
	return s
}

// Name returns the service name.
func (s *Service) Name() string {
	return s.name
}

// Use appends service-local plugins. They run after global plugins and
// before instance plugins, in the order added. Plugins failing
// plugin.CheckIdentity are skipped and reported.
func (s *Service) Use(plugins ...plugin.Plugin) error {
	var errs []error
	for _, p := range plugins {
		if err := plugin.CheckIdentity(p); err != nil {
			errs = append(errs, err)
			continue
		}
		s.local.Add(p)
	}
	return errors.Join(errs...)
}

// LocalPlugins returns a snapshot of the service-local plugins.
func (s *Service) LocalPlugins() []plugin.Plugin {
	return s.local.GetAll()
}

// Exclude hides every global plugin of the given classes from this
// service's protocols. Exclusions accumulate and cannot be undone.
func (s *Service) Exclude(classes ...plugin.Class) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range classes {
		if c != nil {
			s.excluded[c] = struct{}{}
		}
	}
}

// IsExcluded reports whether class is excluded on this service.
func (s *Service) IsExcluded(class plugin.Class) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.excluded[class]
	return ok
}

// Sources returns the accessors a protocol mounted on this service reads.
func (s *Service) Sources() protocol.Sources {
	return protocol.Sources{
		Service: s.name,
		Globals: func(protocolClass plugin.Class) []plugin.Plugin {
			if s.global == nil {
				return nil
			}
			return s.global.GetAll(protocolClass)
		},
		Excluded: s.IsExcluded,
		Local:    s.LocalPlugins,
	}
}

// Mount builds a protocol bound to s and records s as its owner.
//
//	users := service.New("users", reg)
//	api := service.Mount(users, rest.New)
func Mount[P protocol.Protocol](s *Service, build func(protocol.Sources, ...protocol.Option) P) P {
	opts := []protocol.Option{protocol.WithLogger(s.logger)}
	if s.metrics != nil {
		opts = append(opts, protocol.WithMetrics(s.metrics))
	}

	p := build(s.Sources(), opts...)

	s.mu.Lock()
	s.protocols = append(s.protocols, p)
	s.mu.Unlock()

	s.logger.Debug("protocol mounted", observability.String("protocol", p.Name()))
	return p
}

// RegisterPlugin records pl for p without activating it. p must have been
// mounted on this service.
func (s *Service) RegisterPlugin(p protocol.Protocol, pl plugin.Plugin) error {
	if err := plugin.CheckIdentity(pl); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.owns(p) {
		return util.NewConfigurationErrorWithCause(s.name, "protocol is not mounted on this service",
			util.ErrProtocolNotRegistered)
	}

	set, ok := s.registered[p]
	if !ok {
		set = plugin.NewSet()
		s.registered[p] = set
	}
	if set.Add(pl) {
		s.logger.Debug("plugin registered",
			observability.String("protocol", p.Name()),
			observability.String("plugin", plugin.Name(pl)),
			observability.Bool("mock", plugin.IsMock(pl)),
		)
	}
	return nil
}

// Plugins returns a snapshot of the plugins registered per protocol.
func (s *Service) Plugins() map[protocol.Protocol][]plugin.Plugin {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[protocol.Protocol][]plugin.Plugin, len(s.registered))
	for p, set := range s.registered {
		out[p] = set.GetAll()
	}
	return out
}

// Protocols returns the protocols mounted on this service.
func (s *Service) Protocols() []protocol.Protocol {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]protocol.Protocol, len(s.protocols))
	copy(out, s.protocols)
	return out
}

// Cleanup destroys every plugin the service reaches: each protocol's
// instance plugins, the service-local plugins and every registered plugin.
// A plugin present in several of these scopes is destroyed once.
func (s *Service) Cleanup() {
	s.mu.Lock()
	protocols := s.protocols
	registered := s.registered
	s.protocols = nil
	s.registered = make(map[protocol.Protocol]*plugin.Set)
	s.mu.Unlock()

	destroyed := plugin.NewSet()
	destroyOnce := func(p plugin.Plugin) {
		if destroyed.Add(p) {
			plugin.Destroy(p)
		}
	}

	for _, p := range protocols {
		for _, pl := range p.Plugins().Drain() {
			destroyOnce(pl)
		}
		p.Cleanup()
	}
	for _, pl := range s.local.Drain() {
		destroyOnce(pl)
	}
	for _, set := range registered {
		for _, pl := range set.Drain() {
			destroyOnce(pl)
		}
	}

	s.logger.Debug("service cleaned up",
		observability.Int("protocols", len(protocols)),
		observability.Int("plugins_destroyed", destroyed.Len()),
	)
}

func (s *Service) owns(p protocol.Protocol) bool {
	for _, owned := range s.protocols {
		if owned == p {
			return true
		}
	}
	return false
}
