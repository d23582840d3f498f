// Package observability provides logging, metrics, and tracing for the
// API client.
//
// # Logging
//
// Logger wraps zap. WithContext attaches call-scoped fields such as
// call_id, service, protocol, trace_id and span_id:
//
//	logger.WithContext(ctx).Info("call finished", observability.Int("status", 200))
//
// # Metrics
//
// Metrics owns a private Prometheus registry with call counters, duration
// histograms, short-circuit and recovery counters and the mock mode gauge.
// Handler exposes the registry for scraping.
//
// # Tracing
//
// Tracer wraps an OpenTelemetry tracer provider with an optional OTLP gRPC
// exporter. InjectTraceContext and InjectTraceHeaders propagate the W3C
// trace context on outgoing requests.
package observability
