// Package logging provides a plugin that logs every phase of a call.
package logging

import (
	"context"
	"time"

	"github.com/vyrodovalexey/avapiclient/internal/observability"
	"github.com/vyrodovalexey/avapiclient/internal/plugin"
	"github.com/vyrodovalexey/avapiclient/internal/util"
)

type startKey struct{}

// Plugin logs requests, responses, errors and stream lifecycle events.
// It never changes the call.
type Plugin struct {
	logger observability.Logger
}

// New creates a logging plugin.
func New(logger observability.Logger) *Plugin {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Plugin{logger: logger.With(observability.String("plugin", "logging"))}
}

// Descriptor implements plugin.Plugin.
func (p *Plugin) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{Name: "logging"}
}

// OnRequest logs the outgoing request.
func (p *Plugin) OnRequest(ctx context.Context, req plugin.RequestContext) (plugin.RequestResult, error) {
	if scope := plugin.ScopeFromContext(ctx); scope != nil {
		scope.Set(startKey{}, time.Now())
	}

	p.logger.WithContext(ctx).Info("outbound request",
		observability.String("method", req.Method),
		observability.String("url", req.URL),
	)
	return plugin.Continue(req), nil
}

// OnResponse logs the response as the caller will see it from this layer.
func (p *Plugin) OnResponse(ctx context.Context, resp plugin.ResponseContext) (plugin.ResponseContext, error) {
	p.logger.WithContext(ctx).Info("outbound response",
		observability.Int("status", resp.Status),
		observability.Bool("short_circuit", resp.ShortCircuited()),
		observability.Duration("duration", elapsed(ctx)),
	)
	return resp, nil
}

// OnError logs the failure and leaves it in place.
func (p *Plugin) OnError(ctx context.Context, err error, req plugin.RequestContext) (*plugin.ResponseContext, error) {
	p.logger.WithContext(ctx).Warn("outbound request failed",
		observability.String("method", req.Method),
		observability.String("url", req.URL),
		observability.Int("status", util.StatusCode(err)),
		observability.Duration("duration", elapsed(ctx)),
		observability.Error(err),
	)
	return nil, nil
}

// OnConnect logs a stream connection attempt.
func (p *Plugin) OnConnect(ctx context.Context, c plugin.ConnectContext) (plugin.ConnectResult, error) {
	p.logger.WithContext(ctx).Info("stream connect",
		observability.String("connection_id", c.ConnectionID),
		observability.String("url", c.URL),
	)
	return plugin.ContinueConnect(c), nil
}

// OnDisconnect logs a stream teardown.
func (p *Plugin) OnDisconnect(ctx context.Context, connectionID string) error {
	p.logger.WithContext(ctx).Info("stream disconnect",
		observability.String("connection_id", connectionID))
	return nil
}

func elapsed(ctx context.Context) time.Duration {
	if scope := plugin.ScopeFromContext(ctx); scope != nil {
		if v, ok := scope.Get(startKey{}); ok {
			return time.Since(v.(time.Time))
		}
	}
	return util.ElapsedTime(ctx)
}
