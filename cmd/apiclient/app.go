package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vyrodovalexey/avapiclient/internal/config"
	"github.com/vyrodovalexey/avapiclient/internal/event"
	"github.com/vyrodovalexey/avapiclient/internal/health"
	"github.com/vyrodovalexey/avapiclient/internal/mock"
	"github.com/vyrodovalexey/avapiclient/internal/observability"
	"github.com/vyrodovalexey/avapiclient/internal/plugin"
	"github.com/vyrodovalexey/avapiclient/internal/protocol"
	"github.com/vyrodovalexey/avapiclient/internal/protocol/rest"
	"github.com/vyrodovalexey/avapiclient/internal/protocol/sse"
	"github.com/vyrodovalexey/avapiclient/internal/protocol/websocket"
	"github.com/vyrodovalexey/avapiclient/internal/registry"
	"github.com/vyrodovalexey/avapiclient/internal/service"
)

// endpointCheckTTL caches service reachability checks.
const endpointCheckTTL = 30 * time.Second

// endpoints holds the protocols mounted for one service.
type endpoints struct {
	rest      *rest.Protocol
	sse       *sse.Protocol
	websocket *websocket.Protocol
}

// application holds all application components.
type application struct {
	config   *config.Config
	logger   observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	global   *registry.Registry
	services *service.Registry
	bus      *event.Bus
	store    mock.StateStore
	mockSync *mock.Sync
	health   *health.Checker
	plugins  *pluginFactory

	endpoints map[string]*endpoints
	// globalMocks are mock plugins configured globally, by protocol kind.
	// They are registered on every matching protocol so the sweep reaches
	// them.
	globalMocks map[string][]plugin.Plugin
}

var protocolClasses = map[string]plugin.Class{
	rest.Name:      rest.Class,
	sse.Name:       sse.Class,
	websocket.Name: websocket.Class,
}

// newApplication builds every component described by cfg and restores the
// mock state. The caller owns the result and must close it.
func newApplication(ctx context.Context, cfg *config.Config, logger observability.Logger) (*application, error) {
	metrics := observability.NewMetrics(cfg.Metrics.Namespace)
	metrics.SetBuildInfo(version, gitCommit, buildTime)

	tracer, err := observability.NewTracer(observability.TracerConfig{
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SamplingRate: cfg.Tracing.SamplingRate,
		Enabled:      cfg.Tracing.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	app := &application{
		config:      cfg,
		logger:      logger,
		metrics:     metrics,
		tracer:      tracer,
		global:      registry.New(registry.WithLogger(logger)),
		services:    service.NewRegistry(),
		bus:         event.NewBus(event.WithLogger(logger)),
		health:      health.NewChecker(version, health.WithLogger(logger), health.WithMetrics(health.NewMetrics(metrics.Registry(), cfg.Metrics.Namespace))),
		plugins:     newPluginFactory(logger, metrics.Registry(), cfg.Metrics.Namespace, tracer),
		endpoints:   make(map[string]*endpoints),
		globalMocks: make(map[string][]plugin.Plugin),
	}

	if err := app.build(ctx); err != nil {
		_ = app.close(context.Background())
		return nil, err
	}
	return app, nil
}

func (a *application) build(ctx context.Context) error {
	if err := a.registerGlobals(); err != nil {
		return err
	}
	for i := range a.config.Services {
		if err := a.buildService(&a.config.Services[i]); err != nil {
			return err
		}
	}

	store, err := a.newStore(ctx)
	if err != nil {
		return err
	}
	a.store = store

	a.mockSync = mock.NewSync(a.services, a.bus,
		mock.WithStore(store),
		mock.WithLogger(a.logger),
		mock.WithMetrics(a.metrics),
	)
	if err := a.mockSync.Init(ctx); err != nil {
		return err
	}

	a.logger.Info("client initialized",
		observability.Int("services", len(a.config.Services)),
		observability.Int("global_plugins", len(a.config.Plugins)),
		observability.Bool("mock", a.mockSync.Enabled()),
	)
	return nil
}

func (a *application) registerGlobals() error {
	for i := range a.config.Plugins {
		gc := &a.config.Plugins[i]
		p, err := a.plugins.build(&gc.PluginConfig, "global")
		if err != nil {
			return fmt.Errorf("plugins[%d]: %w", i, err)
		}

		kinds := gc.Protocols
		if len(kinds) == 0 {
			kinds = []string{rest.Name, sse.Name, websocket.Name}
		}
		for _, kind := range kinds {
			if plugin.IsMock(p) {
				a.globalMocks[kind] = append(a.globalMocks[kind], p)
				continue
			}
			if err := a.global.Add(protocolClasses[kind], p); err != nil {
				return fmt.Errorf("plugins[%d]: %w", i, err)
			}
		}
	}
	return nil
}

func (a *application) buildService(sc *config.ServiceConfig) error {
	svc := service.New(sc.Name, a.global,
		service.WithLogger(a.logger),
		service.WithMetrics(a.metrics),
	)
	if err := a.services.Register(svc); err != nil {
		return err
	}

	for _, t := range sc.Exclude {
		svc.Exclude(pluginClasses[t])
	}

	var localMocks []plugin.Plugin
	for i := range sc.Plugins {
		p, err := a.plugins.build(&sc.Plugins[i], sc.Name)
		if err != nil {
			return fmt.Errorf("service %s: plugins[%d]: %w", sc.Name, i, err)
		}
		if plugin.IsMock(p) {
			localMocks = append(localMocks, p)
			continue
		}
		if err := svc.Use(p); err != nil {
			return fmt.Errorf("service %s: plugins[%d]: %w", sc.Name, i, err)
		}
	}

	eps := &endpoints{}
	a.endpoints[sc.Name] = eps

	if ep := sc.REST; ep != nil {
		eps.rest = service.Mount(svc, rest.New)
		if err := a.initProtocol(svc, eps.rest, eps.rest.Base, ep, localMocks); err != nil {
			return err
		}
	}
	if ep := sc.SSE; ep != nil {
		eps.sse = service.Mount(svc, sse.New)
		if err := a.initProtocol(svc, eps.sse, eps.sse.Base, ep, localMocks); err != nil {
			return err
		}
	}
	if ep := sc.WebSocket; ep != nil {
		eps.websocket = service.Mount(svc, websocket.New)
		if err := a.initProtocol(svc, eps.websocket, eps.websocket.Base, ep, localMocks); err != nil {
			return err
		}
	}
	return nil
}

// initProtocol configures transport and plugins of one mounted protocol.
// Non-mock instance plugins are activated directly; every mock plugin that
// reaches the protocol is only registered and left to the mock sweep.
func (a *application) initProtocol(
	svc *service.Service,
	p protocol.Protocol,
	base *protocol.Base,
	ep *config.EndpointConfig,
	localMocks []plugin.Plugin,
) error {
	owner := svc.Name() + "/" + p.Name()

	if err := base.Initialize(protocol.Config{
		BaseURL: ep.BaseURL,
		Headers: ep.Headers,
		Timeout: ep.Timeout.Duration(),
	}); err != nil {
		return fmt.Errorf("%s: %w", owner, err)
	}

	mocks := append([]plugin.Plugin{}, a.globalMocks[p.Name()]...)
	mocks = append(mocks, localMocks...)

	for i := range ep.Plugins {
		pl, err := a.plugins.build(&ep.Plugins[i], owner)
		if err != nil {
			return fmt.Errorf("%s: plugins[%d]: %w", owner, i, err)
		}
		if plugin.IsMock(pl) {
			mocks = append(mocks, pl)
			continue
		}
		if err := plugin.CheckIdentity(pl); err != nil {
			return fmt.Errorf("%s: plugins[%d]: %w", owner, i, err)
		}
		p.Plugins().Add(pl)
	}

	for _, m := range mocks {
		if err := svc.RegisterPlugin(p, m); err != nil {
			return fmt.Errorf("%s: %w", owner, err)
		}
	}

	a.health.Register(health.Cached(
		health.EndpointHealthCheck(owner, ep.BaseURL, 2*time.Second, health.WithCritical(false)),
		endpointCheckTTL,
	))
	return nil
}

func (a *application) newStore(ctx context.Context) (mock.StateStore, error) {
	if a.config.Mock.Store != config.StoreRedis {
		return mock.NewMemoryStore(a.config.Mock.Enabled), nil
	}

	rc := mock.DefaultRedisConfig()
	rc.Address = a.config.Mock.Redis.Address
	rc.Password = a.config.Mock.Redis.Password
	rc.DB = a.config.Mock.Redis.DB
	if a.config.Mock.Redis.Key != "" {
		rc.Key = a.config.Mock.Redis.Key
	}
	if d := a.config.Mock.Redis.DialTimeout.Duration(); d > 0 {
		rc.DialTimeout = d
	}

	store, err := mock.NewRedisStore(ctx, rc, mock.WithRedisLogger(a.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to connect mock state store: %w", err)
	}
	a.health.Register(health.RedisHealthCheck("mock-store", store))
	return store, nil
}

// applyConfig reacts to a reloaded configuration. Only the mock flag is
// applied at runtime; other changes need a restart.
func (a *application) applyConfig(ctx context.Context, previous, next *config.Config) error {
	if previous != nil && previous.Mock.Enabled == next.Mock.Enabled {
		return nil
	}
	a.logger.Info("mock mode changed in configuration",
		observability.Bool("enabled", next.Mock.Enabled),
	)
	return mock.Emit(ctx, a.bus, next.Mock.Enabled)
}

// close releases every component. Services are cleaned up before the
// global registry is reset, so each global plugin is destroyed once.
// Errors are joined.
func (a *application) close(ctx context.Context) error {
	var errs []error
	if a.mockSync != nil {
		errs = append(errs, a.mockSync.Close())
	}
	a.services.Cleanup()
	a.global.Reset()
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.tracer != nil {
		errs = append(errs, a.tracer.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
