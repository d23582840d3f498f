// Package circuitbreaker provides a plugin that stops calls to a failing
// upstream. The breaker is consulted in the request hook and fed the
// outcome from the response or error hook of the same call.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vyrodovalexey/avapiclient/internal/observability"
	"github.com/vyrodovalexey/avapiclient/internal/plugin"
	"github.com/vyrodovalexey/avapiclient/internal/util"
)

type callKey struct{}

// call holds the breaker ticket of one call. done runs at most once.
type call struct {
	once sync.Once
	done func(success bool)
}

func (c *call) finish(success bool) {
	c.once.Do(func() { c.done(success) })
}

// Config configures the breaker.
type Config struct {
	Name string
	// Threshold is the minimum number of requests in the interval before
	// the failure ratio is evaluated. It also bounds half-open probes.
	Threshold int
	// FailureRatio opens the circuit once reached. Defaults to 0.5.
	FailureRatio float64
	// Timeout is how long the circuit stays open.
	Timeout time.Duration
	// Interval resets the closed-state counts. Zero keeps them forever.
	Interval time.Duration
}

// Plugin guards calls with a two-step circuit breaker.
type Plugin struct {
	cb     *gobreaker.TwoStepCircuitBreaker
	logger observability.Logger
}

// New creates a circuit breaker plugin.
func New(cfg Config, logger observability.Logger) *Plugin {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if cfg.Name == "" {
		cfg.Name = "circuitbreaker"
	}
	if cfg.FailureRatio <= 0 || cfg.FailureRatio > 1 {
		cfg.FailureRatio = 0.5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	p := &Plugin{logger: logger}
	threshold := safeIntToUint32(cfg.Threshold)

	p.cb = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: threshold,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= threshold && failureRatio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			p.logger.Info("circuit breaker state change",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
	})
	return p
}

// safeIntToUint32 safely converts int to uint32.
func safeIntToUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	if n > int(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n) //nolint:gosec // bounds checked above
}

// Descriptor implements plugin.Plugin.
func (p *Plugin) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{Name: "circuitbreaker"}
}

// State returns the current breaker state.
func (p *Plugin) State() gobreaker.State {
	return p.cb.State()
}

// OnRequest rejects the call while the circuit is open.
func (p *Plugin) OnRequest(ctx context.Context, req plugin.RequestContext) (plugin.RequestResult, error) {
	done, err := p.cb.Allow()
	if err != nil {
		p.logger.WithContext(ctx).Warn("circuit breaker rejected request",
			observability.String("url", req.URL),
			observability.String("state", p.cb.State().String()),
		)
		return plugin.RequestResult{}, util.NewCircuitOpenError(p.cb.Name(), p.cb.State().String())
	}

	if scope := plugin.ScopeFromContext(ctx); scope != nil {
		scope.Set(callKey{}, &call{done: done})
	} else {
		done(true)
	}
	return plugin.Continue(req), nil
}

// OnResponse counts the call as a success.
func (p *Plugin) OnResponse(ctx context.Context, resp plugin.ResponseContext) (plugin.ResponseContext, error) {
	if c := callFrom(ctx); c != nil {
		c.finish(true)
	}
	return resp, nil
}

// OnError counts network failures and 5xx responses as failures. Other
// errors do not reflect upstream health.
func (p *Plugin) OnError(ctx context.Context, err error, _ plugin.RequestContext) (*plugin.ResponseContext, error) {
	if c := callFrom(ctx); c != nil {
		c.finish(!isUpstreamFailure(err))
	}
	return nil, nil
}

func isUpstreamFailure(err error) bool {
	status := util.StatusCode(err)
	if status != 0 {
		return status >= 500
	}
	return errors.Is(err, util.ErrTransport)
}

func callFrom(ctx context.Context) *call {
	scope := plugin.ScopeFromContext(ctx)
	if scope == nil {
		return nil
	}
	v, ok := scope.Get(callKey{})
	if !ok {
		return nil
	}
	c, _ := v.(*call)
	return c
}
