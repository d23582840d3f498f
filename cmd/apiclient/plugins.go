package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/avapiclient/internal/config"
	"github.com/vyrodovalexey/avapiclient/internal/observability"
	"github.com/vyrodovalexey/avapiclient/internal/plugin"
	"github.com/vyrodovalexey/avapiclient/internal/plugins/auth"
	"github.com/vyrodovalexey/avapiclient/internal/plugins/circuitbreaker"
	"github.com/vyrodovalexey/avapiclient/internal/plugins/logging"
	"github.com/vyrodovalexey/avapiclient/internal/plugins/metrics"
	"github.com/vyrodovalexey/avapiclient/internal/plugins/mocker"
	"github.com/vyrodovalexey/avapiclient/internal/plugins/ratelimit"
	"github.com/vyrodovalexey/avapiclient/internal/plugins/requestid"
	"github.com/vyrodovalexey/avapiclient/internal/plugins/tracing"
)

// pluginClasses maps configuration plugin types to their classes, used for
// service exclusions.
var pluginClasses = map[string]plugin.Class{
	config.PluginLogging:        plugin.ClassFor[*logging.Plugin](),
	config.PluginRequestID:      plugin.ClassFor[*requestid.Plugin](),
	config.PluginMetrics:        plugin.ClassFor[*metrics.Plugin](),
	config.PluginTracing:        plugin.ClassFor[*tracing.Plugin](),
	config.PluginAuth:           plugin.ClassFor[*auth.Plugin](),
	config.PluginCircuitBreaker: plugin.ClassFor[*circuitbreaker.Plugin](),
	config.PluginRateLimit:      plugin.ClassFor[*ratelimit.Plugin](),
	config.PluginMocker:         plugin.ClassFor[*mocker.Plugin](),
}

// pluginFactory builds plugins from configuration. Logging, metrics and
// tracing plugins hold no per-scope state and are built once.
type pluginFactory struct {
	logger    observability.Logger
	registry  prometheus.Registerer
	namespace string
	tracer    *observability.Tracer
	shared    map[string]plugin.Plugin
}

func newPluginFactory(
	logger observability.Logger,
	reg prometheus.Registerer,
	namespace string,
	tracer *observability.Tracer,
) *pluginFactory {
	return &pluginFactory{
		logger:    logger,
		registry:  reg,
		namespace: namespace,
		tracer:    tracer,
		shared:    make(map[string]plugin.Plugin),
	}
}

// build creates the plugin described by pc. owner names the scope the
// plugin belongs to and becomes the default name of breakers and mocks.
func (f *pluginFactory) build(pc *config.PluginConfig, owner string) (plugin.Plugin, error) {
	switch pc.Type {
	case config.PluginLogging:
		return f.sharedPlugin(pc.Type, func() plugin.Plugin { return logging.New(f.logger) }), nil
	case config.PluginMetrics:
		return f.sharedPlugin(pc.Type, func() plugin.Plugin { return metrics.New(f.registry, f.namespace) }), nil
	case config.PluginTracing:
		return f.sharedPlugin(pc.Type, func() plugin.Plugin { return tracing.New(f.tracer) }), nil
	case config.PluginRequestID:
		var opts []requestid.Option
		if pc.RequestID != nil && pc.RequestID.Header != "" {
			opts = append(opts, requestid.WithHeader(pc.RequestID.Header))
		}
		return requestid.New(opts...), nil
	case config.PluginAuth:
		return f.buildAuth(pc.Auth)
	case config.PluginCircuitBreaker:
		return f.buildCircuitBreaker(pc.CircuitBreaker, owner), nil
	case config.PluginRateLimit:
		return f.buildRateLimit(pc.RateLimit)
	case config.PluginMocker:
		return f.buildMocker(pc.Mocker, owner)
	default:
		return nil, fmt.Errorf("unknown plugin type %q", pc.Type)
	}
}

func (f *pluginFactory) sharedPlugin(kind string, create func() plugin.Plugin) plugin.Plugin {
	if p, ok := f.shared[kind]; ok {
		return p
	}
	p := create()
	f.shared[kind] = p
	return p
}

func (f *pluginFactory) buildAuth(cfg *config.AuthConfig) (plugin.Plugin, error) {
	if cfg == nil {
		return nil, fmt.Errorf("auth plugin requires settings")
	}
	p, err := auth.New(auth.Config{
		Secret:   []byte(cfg.Secret),
		KeyID:    cfg.KeyID,
		Issuer:   cfg.Issuer,
		Subject:  cfg.Subject,
		Audience: cfg.Audience,
		TTL:      cfg.TTL.Duration(),
	}, auth.WithLogger(f.logger))
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (f *pluginFactory) buildCircuitBreaker(cfg *config.CircuitBreakerConfig, owner string) plugin.Plugin {
	cb := circuitbreaker.Config{Name: owner}
	if cfg != nil {
		if cfg.Name != "" {
			cb.Name = cfg.Name
		}
		cb.Threshold = cfg.Threshold
		cb.FailureRatio = cfg.FailureRatio
		cb.Timeout = cfg.Timeout.Duration()
		cb.Interval = cfg.Interval.Duration()
	}
	return circuitbreaker.New(cb, f.logger)
}

func (f *pluginFactory) buildRateLimit(cfg *config.RateLimitConfig) (plugin.Plugin, error) {
	if cfg == nil {
		return nil, fmt.Errorf("ratelimit plugin requires settings")
	}
	p, err := ratelimit.New(ratelimit.Config{
		RPS:     cfg.RPS,
		Burst:   cfg.Burst,
		Wait:    cfg.Wait,
		PerHost: cfg.PerHost,
	}, f.logger)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (f *pluginFactory) buildMocker(cfg *config.MockerConfig, owner string) (plugin.Plugin, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mocker plugin requires settings")
	}
	name := cfg.Name
	if name == "" {
		name = owner + "-mock"
	}
	p, err := mocker.New(name, cfg.Fixtures, mocker.WithLogger(f.logger))
	if err != nil {
		return nil, err
	}
	return p, nil
}
