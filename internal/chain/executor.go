// Package chain runs the onion-model plugin chain around a transport call.
package chain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/vyrodovalexey/avapiclient/internal/observability"
	"github.com/vyrodovalexey/avapiclient/internal/plugin"
	"github.com/vyrodovalexey/avapiclient/internal/util"
)

// Hook phases, used in PluginError and metrics labels.
const (
	PhaseRequest    = "request"
	PhaseResponse   = "response"
	PhaseError      = "error"
	PhaseConnect    = "connect"
	PhaseDisconnect = "disconnect"
)

// Transport performs the underlying call for a fully processed request.
type Transport func(ctx context.Context, req plugin.RequestContext) (plugin.ResponseContext, error)

// Dialer establishes a stream connection for a fully processed connect context.
type Dialer func(ctx context.Context, c plugin.ConnectContext) (plugin.Connection, error)

// Executor drives request, response and error traversal over a plugin
// snapshot. It holds no per-call state and is safe for concurrent use.
type Executor struct {
	service  string
	protocol string
	logger   observability.Logger
	metrics  *observability.Metrics
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger for the executor.
func WithLogger(logger observability.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithMetrics records call outcomes on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

// WithLabels sets the service and protocol names attached to call contexts,
// log entries and metrics.
func WithLabels(service, protocol string) Option {
	return func(e *Executor) {
		e.service = service
		e.protocol = protocol
	}
}

// New creates an executor.
func New(opts ...Option) *Executor {
	e := &Executor{
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one call through plugins.
//
// Request hooks run in order until one short-circuits. The transport runs
// only when nothing short-circuited. Response hooks then run in reverse
// over the same plugins. Any failure from a request hook, the transport or
// a response hook enters the error phase, which runs error hooks in reverse
// until one recovers. An unrecovered error is returned as it stands after
// the last error hook.
func (e *Executor) Execute(
	ctx context.Context,
	plugins []plugin.Plugin,
	req plugin.RequestContext,
	transport Transport,
) (plugin.ResponseContext, error) {
	start := time.Now()
	ctx = e.callContext(ctx, start)
	logger := e.logger.WithContext(ctx)

	original := req.Clone()
	current := req.Clone()

	var (
		resp        plugin.ResponseContext
		err         error
		shortCircBy plugin.Plugin
	)

	current, resp, shortCircBy, err = e.requestPhase(ctx, plugins, current)

	if err == nil && shortCircBy == nil {
		resp, err = transport(ctx, current.Clone())
	}

	if shortCircBy != nil {
		logger.Debug("request short-circuited",
			observability.String("plugin", plugin.Name(shortCircBy)),
			observability.String("method", current.Method),
			observability.String("url", current.URL),
		)
		if e.metrics != nil {
			e.metrics.RecordShortCircuit(e.service, e.protocol, plugin.Name(shortCircBy))
		}
	}

	if err == nil {
		resp, err = e.responsePhase(ctx, plugins, resp)
	}

	if err == nil {
		outcome := observability.OutcomeSuccess
		if shortCircBy != nil {
			outcome = observability.OutcomeShortCircuit
		}
		e.record(current.Method, outcome, start)
		return resp, nil
	}

	recovered, recoveredBy, err := e.errorPhase(ctx, plugins, err, original)
	if recoveredBy != nil {
		logger.Debug("error recovered",
			observability.String("plugin", plugin.Name(recoveredBy)),
			observability.String("method", original.Method),
		)
		if e.metrics != nil {
			e.metrics.RecordRecovery(e.service, e.protocol, plugin.Name(recoveredBy))
		}
		e.record(original.Method, observability.OutcomeRecovered, start)
		return recovered, nil
	}

	logger.Debug("call failed",
		observability.String("method", original.Method),
		observability.String("url", original.URL),
		observability.Error(err),
	)
	e.record(original.Method, observability.OutcomeError, start)
	return plugin.ResponseContext{}, err
}

func (e *Executor) requestPhase(
	ctx context.Context,
	plugins []plugin.Plugin,
	req plugin.RequestContext,
) (plugin.RequestContext, plugin.ResponseContext, plugin.Plugin, error) {
	for _, p := range plugins {
		hook, ok := p.(plugin.RequestHook)
		if !ok {
			continue
		}

		result, err := hook.OnRequest(ctx, req.Clone())
		if err != nil {
			return req, plugin.ResponseContext{}, nil, e.hookError(p, PhaseRequest, err)
		}
		if result.IsShortCircuit() {
			return req, result.Response().Clone(), p, nil
		}
		req = result.Request()
	}
	return req, plugin.ResponseContext{}, nil, nil
}

func (e *Executor) responsePhase(
	ctx context.Context,
	plugins []plugin.Plugin,
	resp plugin.ResponseContext,
) (plugin.ResponseContext, error) {
	for i := len(plugins) - 1; i >= 0; i-- {
		hook, ok := plugins[i].(plugin.ResponseHook)
		if !ok {
			continue
		}

		next, err := hook.OnResponse(ctx, resp.Clone())
		if err != nil {
			return resp, e.hookError(plugins[i], PhaseResponse, err)
		}
		resp = next
	}
	return resp, nil
}

func (e *Executor) errorPhase(
	ctx context.Context,
	plugins []plugin.Plugin,
	err error,
	original plugin.RequestContext,
) (plugin.ResponseContext, plugin.Plugin, error) {
	for i := len(plugins) - 1; i >= 0; i-- {
		hook, ok := plugins[i].(plugin.ErrorHook)
		if !ok {
			continue
		}

		recovered, next := hook.OnError(ctx, err, original.Clone())
		if recovered != nil {
			return *recovered, plugins[i], nil
		}
		if next != nil {
			err = next
		}
	}
	return plugin.ResponseContext{}, nil, err
}

// Connect runs connect hooks in order. A hook may short-circuit with its
// own connection, in which case dial is never called.
func (e *Executor) Connect(
	ctx context.Context,
	plugins []plugin.Plugin,
	c plugin.ConnectContext,
	dial Dialer,
) (plugin.Connection, error) {
	ctx = e.callContext(ctx, time.Now())
	if c.ConnectionID == "" {
		c.ConnectionID = util.CallIDFromContext(ctx)
	}
	c = c.Clone()

	for _, p := range plugins {
		hook, ok := p.(plugin.ConnectHook)
		if !ok {
			continue
		}

		result, err := hook.OnConnect(ctx, c.Clone())
		if err != nil {
			return nil, e.hookError(p, PhaseConnect, err)
		}
		if result.IsShortCircuit() {
			e.logger.WithContext(ctx).Debug("connection short-circuited",
				observability.String("plugin", plugin.Name(p)),
				observability.String("url", c.URL),
			)
			if e.metrics != nil {
				e.metrics.RecordShortCircuit(e.service, e.protocol, plugin.Name(p))
			}
			return result.Connection(), nil
		}
		c = result.Context()
	}

	return dial(ctx, c.Clone())
}

// Disconnect runs disconnect hooks in reverse order. Every hook runs; their
// failures are joined.
func (e *Executor) Disconnect(ctx context.Context, plugins []plugin.Plugin, connectionID string) error {
	var errs []error
	for i := len(plugins) - 1; i >= 0; i-- {
		hook, ok := plugins[i].(plugin.DisconnectHook)
		if !ok {
			continue
		}
		if err := hook.OnDisconnect(ctx, connectionID); err != nil {
			errs = append(errs, e.hookError(plugins[i], PhaseDisconnect, err))
		}
	}
	return errors.Join(errs...)
}

// callContext attaches a fresh call scope and the call labels to ctx.
func (e *Executor) callContext(ctx context.Context, start time.Time) context.Context {
	id := uuid.NewString()
	ctx = plugin.ContextWithScope(ctx, plugin.NewScope(id))
	ctx = util.ContextWithCallID(ctx, id)
	ctx = util.ContextWithStartTime(ctx, start)
	if e.service != "" {
		ctx = util.ContextWithService(ctx, e.service)
	}
	if e.protocol != "" {
		ctx = util.ContextWithProtocol(ctx, e.protocol)
	}
	return ctx
}

func (e *Executor) hookError(p plugin.Plugin, phase string, err error) error {
	name := plugin.Name(p)
	if e.metrics != nil {
		e.metrics.RecordHookError(name, phase)
	}
	return util.NewPluginError(name, phase, err)
}

func (e *Executor) record(method, outcome string, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordCall(e.service, e.protocol, method, outcome, time.Since(start))
}
