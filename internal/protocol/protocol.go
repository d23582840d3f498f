// Package protocol implements the protocol instance shared by every
// transport: one-time initialization, the instance plugin scope and the
// merge of global, service-local and instance plugins into a per-call
// snapshot.
package protocol

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vyrodovalexey/avapiclient/internal/chain"
	"github.com/vyrodovalexey/avapiclient/internal/observability"
	"github.com/vyrodovalexey/avapiclient/internal/plugin"
	"github.com/vyrodovalexey/avapiclient/internal/util"
)

// Protocol is the behavior services rely on to manage protocol instances.
type Protocol interface {
	// Name returns the protocol kind, such as "rest" or "sse".
	Name() string
	// Plugins returns the active instance scope.
	Plugins() *plugin.Set
	// PluginsInOrder returns the merged plugin snapshot for one call.
	PluginsInOrder() []plugin.Plugin
	// Initialized reports whether Initialize has completed.
	Initialized() bool
	// Cleanup destroys instance plugins and releases transport resources.
	Cleanup()
}

// Config is the transport configuration of a protocol instance.
type Config struct {
	BaseURL string
	Headers map[string]string
	Timeout time.Duration
}

// Sources supplies the plugins a protocol does not own. Services fill it in
// when they mount a protocol.
type Sources struct {
	// Service is the owning service name, used for labels.
	Service string
	// Globals returns the global plugins registered for a protocol class.
	Globals func(protocolClass plugin.Class) []plugin.Plugin
	// Excluded reports whether a global plugin class is excluded.
	Excluded func(pluginClass plugin.Class) bool
	// Local returns the service-local plugins.
	Local func() []plugin.Plugin
}

// Option configures a Base.
type Option func(*Base)

// WithLogger sets the logger for the protocol.
func WithLogger(logger observability.Logger) Option {
	return func(b *Base) {
		b.logger = logger
	}
}

// WithMetrics records call metrics on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(b *Base) {
		b.metrics = m
	}
}

// Base carries the state common to every protocol. Concrete protocols
// embed it and pass their own class so global plugins can be looked up.
type Base struct {
	name    string
	class   plugin.Class
	sources Sources
	plugins *plugin.Set
	logger  observability.Logger
	metrics *observability.Metrics

	executor *chain.Executor

	mu          sync.RWMutex
	config      Config
	initialized bool
}

// NewBase creates the shared protocol state.
func NewBase(name string, class plugin.Class, sources Sources, opts ...Option) *Base {
	b := &Base{
		name:    name,
		class:   class,
		sources: sources,
		plugins: plugin.NewSet(),
		logger:  observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.logger = b.logger.With(
		observability.String("protocol", name),
		observability.String("service", sources.Service),
	)

	execOpts := []chain.Option{
		chain.WithLogger(b.logger),
		chain.WithLabels(sources.Service, name),
	}
	if b.metrics != nil {
		execOpts = append(execOpts, chain.WithMetrics(b.metrics))
	}
	b.executor = chain.New(execOpts...)

	return b
}

// Name returns the protocol kind.
func (b *Base) Name() string {
	return b.name
}

// Class returns the protocol class used to look up global plugins.
func (b *Base) Class() plugin.Class {
	return b.class
}

// Service returns the owning service name.
func (b *Base) Service() string {
	return b.sources.Service
}

// Logger returns the protocol logger.
func (b *Base) Logger() observability.Logger {
	return b.logger
}

// Plugins returns the active instance scope.
func (b *Base) Plugins() *plugin.Set {
	return b.plugins
}

// PluginsInOrder merges global plugins (minus excluded classes), then
// service-local plugins, then instance plugins. It is recomputed on every
// call and the result is never shared.
func (b *Base) PluginsInOrder() []plugin.Plugin {
	var globals, locals []plugin.Plugin
	if b.sources.Globals != nil {
		globals = b.sources.Globals(b.class)
	}
	if b.sources.Local != nil {
		locals = b.sources.Local()
	}
	instance := b.plugins.GetAll()

	merged := make([]plugin.Plugin, 0, len(globals)+len(locals)+len(instance))
	for _, p := range globals {
		if b.sources.Excluded != nil && b.sources.Excluded(plugin.ClassOf(p)) {
			continue
		}
		merged = append(merged, p)
	}
	merged = append(merged, locals...)
	merged = append(merged, instance...)
	return merged
}

// Initialize sets the transport configuration. It may be called once.
func (b *Base) Initialize(cfg Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.initialized {
		return util.NewConfigurationErrorWithCause(b.name, "Initialize called twice", util.ErrAlreadyInitialized)
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.Headers = cloneHeaders(cfg.Headers)
	b.config = cfg
	b.initialized = true

	b.logger.Debug("protocol initialized",
		observability.String("base_url", cfg.BaseURL),
		observability.Duration("timeout", cfg.Timeout),
	)
	return nil
}

// Initialized reports whether Initialize has completed.
func (b *Base) Initialized() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.initialized
}

// Config returns the transport configuration, or a ConfigurationError when
// the protocol has not been initialized.
func (b *Base) Config() (Config, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.initialized {
		return Config{}, util.NewConfigurationErrorWithCause(b.name, "used before Initialize", util.ErrNotInitialized)
	}
	cfg := b.config
	cfg.Headers = cloneHeaders(cfg.Headers)
	return cfg, nil
}

// ResolveURL joins path onto the base URL. Absolute URLs are returned as is.
func (b *Base) ResolveURL(cfg Config, path string) string {
	if strings.Contains(path, "://") || cfg.BaseURL == "" {
		return path
	}
	if path == "" {
		return cfg.BaseURL
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return cfg.BaseURL + path
}

// Execute runs req through the plugin chain around transport. The
// initialization check happens before any hook runs.
func (b *Base) Execute(
	ctx context.Context,
	req plugin.RequestContext,
	transport chain.Transport,
) (plugin.ResponseContext, error) {
	if _, err := b.Config(); err != nil {
		return plugin.ResponseContext{}, err
	}
	return b.executor.Execute(ctx, b.snapshot(), req, transport)
}

// Connect runs the connect chain around dial.
func (b *Base) Connect(
	ctx context.Context,
	c plugin.ConnectContext,
	dial chain.Dialer,
) (plugin.Connection, []plugin.Plugin, error) {
	if _, err := b.Config(); err != nil {
		return nil, nil, err
	}
	plugins := b.snapshot()
	conn, err := b.executor.Connect(ctx, plugins, c, dial)
	return conn, plugins, err
}

// Disconnect runs disconnect hooks over the snapshot used to connect.
func (b *Base) Disconnect(ctx context.Context, plugins []plugin.Plugin, connectionID string) error {
	return b.executor.Disconnect(ctx, plugins, connectionID)
}

// Cleanup destroys every instance plugin.
func (b *Base) Cleanup() {
	b.plugins.Clear()
	b.logger.Debug("protocol cleaned up")
}

func (b *Base) snapshot() []plugin.Plugin {
	plugins := b.PluginsInOrder()
	if b.metrics != nil {
		b.metrics.SetActivePlugins(b.sources.Service, b.name, len(plugins))
	}
	return plugins
}

func cloneHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
