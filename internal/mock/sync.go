package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/vyrodovalexey/avapiclient/internal/event"
	"github.com/vyrodovalexey/avapiclient/internal/observability"
	"github.com/vyrodovalexey/avapiclient/internal/plugin"
	"github.com/vyrodovalexey/avapiclient/internal/service"
	"github.com/vyrodovalexey/avapiclient/internal/util"
)

// ToggleEvent is the event bus topic carrying Toggle payloads.
const ToggleEvent = "mock/toggle"

// Toggle switches mock mode on or off.
type Toggle struct {
	Enabled bool `json:"enabled"`
}

// Emit publishes a toggle on bus.
func Emit(ctx context.Context, bus *event.Bus, enabled bool) error {
	return bus.Emit(ctx, ToggleEvent, Toggle{Enabled: enabled})
}

// SweepResult counts the changes made by one sweep.
type SweepResult struct {
	Activated   int
	Deactivated int
}

// Sync keeps the active scope of every protocol consistent with the mock
// mode flag. On each toggle it persists the flag and adds every registered
// mock plugin to (or detaches it from) its protocol's active set. Plugins
// that are not mocks are never touched.
type Sync struct {
	services *service.Registry
	bus      *event.Bus
	store    StateStore
	logger   observability.Logger
	metrics  *observability.Metrics

	mu      sync.Mutex
	enabled bool
	sub     event.Subscription
	changes Changes
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Sync.
type Option func(*Sync)

// WithStore sets the state store. The default is an in-memory store.
func WithStore(store StateStore) Option {
	return func(s *Sync) {
		s.store = store
	}
}

// WithLogger sets the logger for the sync.
func WithLogger(logger observability.Logger) Option {
	return func(s *Sync) {
		s.logger = logger
	}
}

// WithMetrics records the mock mode state on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Sync) {
		s.metrics = m
	}
}

// NewSync creates a sync over services listening on bus.
func NewSync(services *service.Registry, bus *event.Bus, opts ...Option) *Sync {
	s := &Sync{
		services: services,
		bus:      bus,
		store:    NewMemoryStore(false),
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init restores the persisted flag, sweeps once so active sets match it,
// and subscribes to toggle events. When the store is shared between
// processes, remote changes are replayed on the bus.
func (s *Sync) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sub != nil {
		return util.NewConfigurationErrorWithCause("mock", "sync already initialized", util.ErrAlreadyInitialized)
	}

	// Subscribe before loading so a remote change made in between is
	// replayed rather than lost.
	var changes Changes
	if w, ok := s.store.(Watcher); ok {
		c, err := w.Subscribe(ctx)
		if err != nil {
			return err
		}
		changes = c
	}

	enabled, err := s.store.Load(ctx)
	if err != nil {
		if changes != nil {
			_ = changes.Close()
		}
		return fmt.Errorf("failed to restore mock state: %w", err)
	}

	s.enabled = enabled
	result := s.sweep(enabled)
	s.recordMode(enabled)
	s.sub = s.bus.Subscribe(ToggleEvent, s.handle)

	if changes != nil {
		watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		s.changes, s.cancel = changes, cancel
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := changes.Run(watchCtx, s.replay); err != nil {
				s.logger.Error("mock state watch stopped", observability.Error(err))
			}
		}()
	}

	s.logger.Info("mock sync initialized",
		observability.Bool("enabled", enabled),
		observability.Int("activated", result.Activated),
		observability.Int("deactivated", result.Deactivated),
	)
	return nil
}

// Enabled returns the current mock mode flag.
func (s *Sync) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Close unsubscribes from toggle events and stops watching the store.
func (s *Sync) Close() error {
	s.mu.Lock()
	sub, changes, cancel := s.sub, s.changes, s.cancel
	s.sub, s.changes, s.cancel = nil, nil, nil
	s.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	var err error
	if changes != nil {
		err = changes.Close()
	}
	s.wg.Wait()
	return err
}

func (s *Sync) handle(ctx context.Context, payload any) error {
	var enabled bool
	switch v := payload.(type) {
	case Toggle:
		enabled = v.Enabled
	case *Toggle:
		if v == nil {
			return fmt.Errorf("%w: nil mock toggle", util.ErrInvalidInput)
		}
		enabled = v.Enabled
	case bool:
		enabled = v
	default:
		return fmt.Errorf("%w: unexpected mock toggle payload %T", util.ErrInvalidInput, payload)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	changed := enabled != s.enabled
	s.enabled = enabled

	var persistErr error
	if changed {
		if err := s.store.Save(ctx, enabled); err != nil {
			persistErr = fmt.Errorf("failed to persist mock state: %w", err)
		}
	}

	result := s.sweep(enabled)
	s.recordMode(enabled)

	s.logger.Info("mock mode toggled",
		observability.Bool("enabled", enabled),
		observability.Bool("changed", changed),
		observability.Int("activated", result.Activated),
		observability.Int("deactivated", result.Deactivated),
	)
	return persistErr
}

// replay forwards a change made by another process onto the local bus.
func (s *Sync) replay(enabled bool) {
	if s.Enabled() == enabled {
		return
	}
	if err := Emit(context.Background(), s.bus, enabled); err != nil {
		s.logger.Warn("failed to apply remote mock state", observability.Error(err))
	}
}

// sweep must be called with s.mu held.
func (s *Sync) sweep(enabled bool) SweepResult {
	var result SweepResult
	for _, svc := range s.services.All() {
		for proto, plugins := range svc.Plugins() {
			active := proto.Plugins()
			for _, p := range plugins {
				if !plugin.IsMock(p) {
					continue
				}
				if enabled {
					if active.Add(p) {
						result.Activated++
					}
				} else if active.Detach(p) {
					result.Deactivated++
				}
			}
		}
	}
	return result
}

func (s *Sync) recordMode(enabled bool) {
	if s.metrics != nil {
		s.metrics.SetMockMode(enabled)
	}
}
