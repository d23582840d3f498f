package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Call outcomes used as the "outcome" label value.
const (
	OutcomeSuccess      = "success"
	OutcomeError        = "error"
	OutcomeShortCircuit = "short_circuit"
	OutcomeRecovered    = "recovered"
)

// Metrics holds all Prometheus metrics for the API client.
type Metrics struct {
	callsTotal    *prometheus.CounterVec
	callDuration  *prometheus.HistogramVec
	shortCircuits *prometheus.CounterVec
	recoveries    *prometheus.CounterVec
	hookErrors    *prometheus.CounterVec
	activePlugins *prometheus.GaugeVec
	mockMode      prometheus.Gauge
	mockToggles   prometheus.Counter
	buildInfo     *prometheus.GaugeVec
	registry      *prometheus.Registry
}

// NewMetrics creates a new Metrics instance backed by its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "apiclient"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.callsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Total number of outbound calls",
		},
		[]string{"service", "protocol", "method", "outcome"},
	)

	m.callDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Outbound call duration in seconds, including plugin hooks",
			Buckets: []float64{
				.001, .005, .01, .025, .05,
				.1, .25, .5, 1, 2.5, 5, 10,
			},
		},
		[]string{"service", "protocol", "method"},
	)

	m.shortCircuits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "short_circuits_total",
			Help:      "Total number of calls answered by a plugin without reaching the transport",
		},
		[]string{"service", "protocol", "plugin"},
	)

	m.recoveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recoveries_total",
			Help:      "Total number of failed calls recovered by an error hook",
		},
		[]string{"service", "protocol", "plugin"},
	)

	m.hookErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hook_errors_total",
			Help:      "Total number of errors raised by plugin hooks",
		},
		[]string{"plugin", "phase"},
	)

	m.activePlugins = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_plugins",
			Help:      "Number of plugins active on a protocol instance",
		},
		[]string{"service", "protocol"},
	)

	m.mockMode = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mock_mode",
			Help:      "Mock mode state (1=enabled, 0=disabled)",
		},
	)

	m.mockToggles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mock_toggles_total",
			Help:      "Total number of mock toggle events applied",
		},
	)

	m.buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information for the API client",
		},
		[]string{"version", "commit", "build_time"},
	)

	m.registerCollectors()

	return m
}

// registerCollectors registers all metric collectors with the
// Prometheus registry.
func (m *Metrics) registerCollectors() {
	m.registry.MustRegister(
		m.callsTotal,
		m.callDuration,
		m.shortCircuits,
		m.recoveries,
		m.hookErrors,
		m.activePlugins,
		m.mockMode,
		m.mockToggles,
		m.buildInfo,
	)

	m.registry.MustRegister(collectors.NewGoCollector())
	m.registry.MustRegister(
		collectors.NewProcessCollector(
			collectors.ProcessCollectorOpts{},
		),
	)
}

// RecordCall records a completed call. Method should be the verb or
// operation name, not the raw path, to keep cardinality bounded.
func (m *Metrics) RecordCall(
	service, protocol, method, outcome string,
	duration time.Duration,
) {
	m.callsTotal.WithLabelValues(service, protocol, method, outcome).Inc()
	m.callDuration.WithLabelValues(service, protocol, method).Observe(duration.Seconds())
}

// RecordShortCircuit records a call answered by the named plugin.
func (m *Metrics) RecordShortCircuit(service, protocol, plugin string) {
	m.shortCircuits.WithLabelValues(service, protocol, plugin).Inc()
}

// RecordRecovery records an error recovered by the named plugin.
func (m *Metrics) RecordRecovery(service, protocol, plugin string) {
	m.recoveries.WithLabelValues(service, protocol, plugin).Inc()
}

// RecordHookError records a failure raised by a plugin hook.
func (m *Metrics) RecordHookError(plugin, phase string) {
	m.hookErrors.WithLabelValues(plugin, phase).Inc()
}

// SetActivePlugins sets the number of active plugins on a protocol.
func (m *Metrics) SetActivePlugins(service, protocol string, count int) {
	m.activePlugins.WithLabelValues(service, protocol).Set(float64(count))
}

// SetMockMode records the current mock mode state and counts the toggle.
func (m *Metrics) SetMockMode(enabled bool) {
	value := 0.0
	if enabled {
		value = 1.0
	}
	m.mockMode.Set(value)
	m.mockToggles.Inc()
}

// SetBuildInfo sets the build information metric.
func (m *Metrics) SetBuildInfo(version, commit, buildTime string) {
	m.buildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(
		m.registry,
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	)
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterCollector registers an additional collector with the custom
// registry. It returns an error if the collector is already registered
// or conflicts with an existing one.
func (m *Metrics) RegisterCollector(c prometheus.Collector) error {
	return m.registry.Register(c)
}
