// Package mocker provides the fixture plugin used in mock mode. It answers
// matching requests and stream connections without reaching the network.
// Its descriptor is marked as mock, so the mock sync sweep attaches and
// detaches it.
package mocker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/vyrodovalexey/avapiclient/internal/observability"
	"github.com/vyrodovalexey/avapiclient/internal/plugin"
	"github.com/vyrodovalexey/avapiclient/internal/util"
)

// Plugin serves fixtures.
type Plugin struct {
	name   string
	logger observability.Logger

	env *cel.Env

	mu       sync.RWMutex
	fixtures []*compiled
	hits     map[string]int
}

// Option configures the plugin.
type Option func(*Plugin)

// WithLogger sets the logger for the plugin.
func WithLogger(logger observability.Logger) Option {
	return func(p *Plugin) {
		p.logger = logger
	}
}

// New creates a mocker named name with the given fixtures. Fixtures are
// matched in order; the first match wins.
func New(name string, fixtures []Fixture, opts ...Option) (*Plugin, error) {
	if name == "" {
		name = "mocker"
	}

	env, err := cel.NewEnv(
		cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	p := &Plugin{
		name:   name,
		logger: observability.NopLogger(),
		env:    env,
		hits:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(p)
	}

	for _, f := range fixtures {
		if err := p.Add(f); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Descriptor implements plugin.Plugin. Mocker plugins are always mock.
func (p *Plugin) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{Name: p.name, Mock: true}
}

// Add compiles and appends a fixture.
func (p *Plugin) Add(f Fixture) error {
	if f.Status != 0 {
		if err := util.ValidateHTTPStatusCode(f.Status); err != nil {
			return util.NewConfigurationErrorWithCause(p.name, "fixture "+f.Name, err)
		}
	}

	c := &compiled{Fixture: f}
	c.segments, c.prefix = compilePath(f.Path)

	if f.When != "" {
		ast, issues := p.env.Compile(f.When)
		if issues != nil && issues.Err() != nil {
			return util.NewConfigurationErrorWithCause(p.name,
				"fixture "+f.Name+": failed to compile expression", issues.Err())
		}
		program, err := p.env.Program(ast)
		if err != nil {
			return util.NewConfigurationErrorWithCause(p.name, "fixture "+f.Name, err)
		}
		c.program = program
	}

	p.mu.Lock()
	p.fixtures = append(p.fixtures, c)
	p.mu.Unlock()
	return nil
}

// Fixtures returns the configured fixtures.
func (p *Plugin) Fixtures() []Fixture {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Fixture, len(p.fixtures))
	for i, c := range p.fixtures {
		out[i] = c.Fixture
	}
	return out
}

// Hits returns how many times the named fixture answered.
func (p *Plugin) Hits(name string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.hits[name]
}

// OnRequest short-circuits with the first matching request fixture.
func (p *Plugin) OnRequest(ctx context.Context, req plugin.RequestContext) (plugin.RequestResult, error) {
	f := p.match(ctx, req, false)
	if f == nil {
		return plugin.Continue(req), nil
	}

	if err := sleep(ctx, f.Delay); err != nil {
		return plugin.RequestResult{}, err
	}

	headers := make(map[string]string, len(f.Headers)+1)
	for k, v := range f.Headers {
		headers[k] = v
	}
	headers[plugin.HeaderShortCircuit] = "true"

	p.logger.WithContext(ctx).Debug("fixture served",
		observability.String("fixture", f.Name),
		observability.String("method", req.Method),
		observability.String("path", req.Path()),
	)

	return plugin.ShortCircuit(plugin.ResponseContext{
		Status:  f.status(),
		Headers: headers,
		Data:    f.Body,
	}), nil
}

// OnConnect short-circuits with a scripted connection when a stream
// fixture matches the connection URL.
func (p *Plugin) OnConnect(ctx context.Context, c plugin.ConnectContext) (plugin.ConnectResult, error) {
	req := plugin.RequestContext{Method: "GET", URL: c.URL, Headers: c.Headers}
	f := p.match(ctx, req, true)
	if f == nil {
		return plugin.ContinueConnect(c), nil
	}

	p.logger.WithContext(ctx).Debug("stream fixture served",
		observability.String("fixture", f.Name),
		observability.String("connection_id", c.ConnectionID),
	)
	return plugin.ShortCircuitConnect(NewScriptedConnection(c.ConnectionID, f.Events)), nil
}

func (p *Plugin) match(ctx context.Context, req plugin.RequestContext, stream bool) *compiled {
	path := req.Path()

	p.mu.RLock()
	fixtures := p.fixtures
	p.mu.RUnlock()

	var vars map[string]any
	for _, f := range fixtures {
		if (len(f.Events) > 0) != stream {
			continue
		}
		if !f.matchMethod(req.Method) || !f.matchPath(path) {
			continue
		}
		if f.program != nil {
			if vars == nil {
				vars = map[string]any{"request": requestVars(req, path)}
			}
			out, _, err := f.program.Eval(vars)
			if err != nil {
				p.logger.WithContext(ctx).Warn("CEL evaluation error",
					observability.String("fixture", f.Name),
					observability.Error(err),
				)
				continue
			}
			if matched, ok := out.Value().(bool); !ok || !matched {
				continue
			}
		}

		p.mu.Lock()
		p.hits[f.Name]++
		p.mu.Unlock()
		return f
	}
	return nil
}

func requestVars(req plugin.RequestContext, path string) map[string]any {
	headers := make(map[string]any, len(req.Headers))
	for k, v := range req.Headers {
		headers[strings.ToLower(k)] = v
	}
	body := req.Body
	if body == nil {
		body = map[string]any{}
	}
	return map[string]any{
		"method":  req.Method,
		"url":     req.URL,
		"path":    path,
		"headers": headers,
		"body":    body,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
