// Package tracing provides a plugin that wraps each call in an
// OpenTelemetry client span and propagates its context in request headers.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avapiclient/internal/observability"
	"github.com/vyrodovalexey/avapiclient/internal/plugin"
	"github.com/vyrodovalexey/avapiclient/internal/util"
)

type spanKey struct{}

// Plugin starts a client span on request and ends it on response or error.
type Plugin struct {
	tracer     *observability.Tracer
	propagator propagation.TextMapPropagator
}

// New creates a tracing plugin.
func New(tracer *observability.Tracer) *Plugin {
	return &Plugin{
		tracer: tracer,
		propagator: propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	}
}

// Descriptor implements plugin.Plugin.
func (p *Plugin) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{Name: "tracing"}
}

// OnRequest starts the span and injects its context into the headers.
func (p *Plugin) OnRequest(ctx context.Context, req plugin.RequestContext) (plugin.RequestResult, error) {
	scope := plugin.ScopeFromContext(ctx)
	if scope == nil {
		return plugin.Continue(req), nil
	}

	spanCtx, span := p.tracer.StartSpan(ctx, req.Method+" "+req.Path(),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.full", req.URL),
			attribute.String("apiclient.call_id", scope.ID()),
			attribute.String("apiclient.service", util.ServiceFromContext(ctx)),
		),
	)
	scope.Set(spanKey{}, span)

	headers := make(map[string]string)
	p.propagator.Inject(spanCtx, propagation.MapCarrier(headers))
	for k, v := range headers {
		req = req.WithHeader(k, v)
	}
	return plugin.Continue(req), nil
}

// OnResponse ends the span with the response status.
func (p *Plugin) OnResponse(ctx context.Context, resp plugin.ResponseContext) (plugin.ResponseContext, error) {
	if span := spanFrom(ctx); span != nil {
		span.SetAttributes(
			attribute.Int("http.response.status_code", resp.Status),
			attribute.Bool("apiclient.short_circuit", resp.ShortCircuited()),
		)
		span.End()
	}
	return resp, nil
}

// OnError records the error on the span and ends it.
func (p *Plugin) OnError(ctx context.Context, err error, _ plugin.RequestContext) (*plugin.ResponseContext, error) {
	if span := spanFrom(ctx); span != nil {
		if status := util.StatusCode(err); status != 0 {
			span.SetAttributes(attribute.Int("http.response.status_code", status))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
	}
	return nil, nil
}

func spanFrom(ctx context.Context) trace.Span {
	scope := plugin.ScopeFromContext(ctx)
	if scope == nil {
		return nil
	}
	v, ok := scope.Get(spanKey{})
	if !ok {
		return nil
	}
	span, _ := v.(trace.Span)
	return span
}
