package observability

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avapiclient/internal/util"
)

// OTLP exporter retry configuration defaults.
const (
	// DefaultOTLPRetryInitialInterval is the initial backoff interval for OTLP exporter retries.
	DefaultOTLPRetryInitialInterval = 1 * time.Second

	// DefaultOTLPRetryMaxInterval is the maximum backoff interval for OTLP exporter retries.
	DefaultOTLPRetryMaxInterval = 30 * time.Second

	// DefaultOTLPRetryMaxElapsedTime is the maximum total time for retries.
	DefaultOTLPRetryMaxElapsedTime = 1 * time.Minute

	// DefaultOTLPTimeout is the default timeout for OTLP exporter operations.
	DefaultOTLPTimeout = 10 * time.Second
)

// TracerConfig contains tracing configuration.
type TracerConfig struct {
	ServiceName  string
	OTLPEndpoint string
	SamplingRate float64
	Enabled      bool

	// Exporter overrides the OTLP exporter. Used by tests to record spans
	// in memory.
	Exporter sdktrace.SpanExporter
}

// Tracer wraps OpenTelemetry tracing functionality.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	config   TracerConfig
}

// NewTracer creates a new tracer. A disabled tracer delegates to the
// global OpenTelemetry provider, which is a no-op unless configured.
func NewTracer(cfg TracerConfig) (*Tracer, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "avapiclient"
	}

	if !cfg.Enabled {
		return &Tracer{
			config: cfg,
			tracer: otel.Tracer(cfg.ServiceName),
		}, nil
	}

	exporter := cfg.Exporter
	if exporter == nil && cfg.OTLPEndpoint != "" {
		otlpExporter, err := newOTLPExporter(context.Background(), cfg)
		if err != nil {
			return nil, err
		}
		exporter = otlpExporter
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, err
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(createSampler(cfg.SamplingRate)),
	}

	if exporter != nil {
		if cfg.Exporter != nil {
			opts = append(opts, sdktrace.WithSyncer(exporter))
		} else {
			opts = append(opts, sdktrace.WithBatcher(exporter))
		}
	}

	provider := sdktrace.NewTracerProvider(opts...)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Tracer{
		provider: provider,
		tracer:   provider.Tracer(cfg.ServiceName),
		config:   cfg,
	}, nil
}

func newOTLPExporter(ctx context.Context, cfg TracerConfig) (*otlptrace.Exporter, error) {
	return otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithTimeout(DefaultOTLPTimeout),
		otlptracegrpc.WithRetry(otlptracegrpc.RetryConfig{
			Enabled:         true,
			InitialInterval: DefaultOTLPRetryInitialInterval,
			MaxInterval:     DefaultOTLPRetryMaxInterval,
			MaxElapsedTime:  DefaultOTLPRetryMaxElapsedTime,
		}),
	)
}

// createSampler creates a sampler based on the sampling rate.
func createSampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// Shutdown flushes and shuts down the tracer provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider != nil {
		return t.provider.Shutdown(ctx)
	}
	return nil
}

// StartSpan starts a new span and records its IDs on the context for
// log correlation.
func (t *Tracer) StartSpan(
	ctx context.Context,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, name, opts...)
	return addTraceContextToContext(ctx, span), span
}

// SpanFromContext returns the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// addTraceContextToContext adds trace and span IDs to context for logging.
func addTraceContextToContext(ctx context.Context, span trace.Span) context.Context {
	sc := span.SpanContext()
	if sc.HasTraceID() {
		ctx = util.ContextWithTraceID(ctx, sc.TraceID().String())
	}
	if sc.HasSpanID() {
		ctx = util.ContextWithSpanID(ctx, sc.SpanID().String())
	}
	return ctx
}

// InjectTraceContext injects trace context into outgoing request headers.
func InjectTraceContext(ctx context.Context, r *http.Request) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(r.Header))
}

// InjectTraceHeaders injects trace context into a protocol-neutral header map.
func InjectTraceHeaders(ctx context.Context, headers map[string]string) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))
}
