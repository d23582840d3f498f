package health

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for dependency checks.
type Metrics struct {
	checksTotal   *prometheus.CounterVec
	checkStatus   *prometheus.GaugeVec
	checkDuration *prometheus.HistogramVec
}

// NewMetrics registers the health metrics with reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		checksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "checks_total",
				Help:      "Total number of dependency checks performed",
			},
			[]string{"check", "result"},
		),
		checkStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "check_status",
				Help:      "Last dependency check status (1=healthy, 0=unhealthy)",
			},
			[]string{"check"},
		),
		checkDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "check_duration_seconds",
				Help:      "Dependency check duration in seconds",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
			},
			[]string{"check"},
		),
	}
}

func (m *Metrics) record(check string, healthy bool, elapsed time.Duration) {
	result, status := "failure", 0.0
	if healthy {
		result, status = "success", 1.0
	}
	m.checksTotal.WithLabelValues(check, result).Inc()
	m.checkStatus.WithLabelValues(check).Set(status)
	m.checkDuration.WithLabelValues(check).Observe(elapsed.Seconds())
}
