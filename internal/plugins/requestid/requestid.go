// Package requestid provides a plugin that stamps outgoing requests and
// connections with a correlation ID.
package requestid

import (
	"context"

	"github.com/google/uuid"

	"github.com/vyrodovalexey/avapiclient/internal/plugin"
)

// Header is the default header name for the request ID.
const Header = "X-Request-ID"

// Plugin sets a request ID header when the caller has not set one.
type Plugin struct {
	header    string
	generator func() string
}

// Option configures the plugin.
type Option func(*Plugin)

// WithHeader overrides the header name.
func WithHeader(name string) Option {
	return func(p *Plugin) {
		p.header = name
	}
}

// WithGenerator overrides the ID generator.
func WithGenerator(generator func() string) Option {
	return func(p *Plugin) {
		p.generator = generator
	}
}

// New creates a request ID plugin.
func New(opts ...Option) *Plugin {
	p := &Plugin{
		header:    Header,
		generator: uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Descriptor implements plugin.Plugin.
func (p *Plugin) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{Name: "requestid"}
}

// OnRequest adds the header unless it is already present.
func (p *Plugin) OnRequest(_ context.Context, req plugin.RequestContext) (plugin.RequestResult, error) {
	if req.Header(p.header) != "" {
		return plugin.Continue(req), nil
	}
	return plugin.Continue(req.WithHeader(p.header, p.generator())), nil
}

// OnConnect adds the header to the handshake unless it is already present.
func (p *Plugin) OnConnect(_ context.Context, c plugin.ConnectContext) (plugin.ConnectResult, error) {
	if _, ok := c.Headers[p.header]; ok {
		return plugin.ContinueConnect(c), nil
	}
	return plugin.ContinueConnect(c.WithHeader(p.header, p.generator())), nil
}
