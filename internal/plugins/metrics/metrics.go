// Package metrics provides a plugin that records per-request Prometheus
// metrics from inside the plugin chain.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vyrodovalexey/avapiclient/internal/plugin"
	"github.com/vyrodovalexey/avapiclient/internal/util"
)

type callKey struct{}

type callInfo struct {
	method string
	start  time.Time
}

// Plugin counts requests by method and status and observes their latency
// as seen from its position in the chain.
type Plugin struct {
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	connections prometheus.Gauge
}

// New registers the plugin collectors on reg under namespace.
func New(reg prometheus.Registerer, namespace string) *Plugin {
	if namespace == "" {
		namespace = "apiclient"
	}
	factory := promauto.With(reg)

	return &Plugin{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "plugin",
				Name:      "requests_total",
				Help:      "Total number of requests observed by the metrics plugin",
			},
			[]string{"method", "code"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "plugin",
				Name:      "request_duration_seconds",
				Help:      "Request latency observed by the metrics plugin",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		connections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "plugin",
				Name:      "open_connections",
				Help:      "Number of open stream connections",
			},
		),
	}
}

// Descriptor implements plugin.Plugin.
func (p *Plugin) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{Name: "metrics"}
}

// OnRequest remembers the method and start time for the call.
func (p *Plugin) OnRequest(ctx context.Context, req plugin.RequestContext) (plugin.RequestResult, error) {
	if scope := plugin.ScopeFromContext(ctx); scope != nil {
		scope.Set(callKey{}, callInfo{method: req.Method, start: time.Now()})
	}
	return plugin.Continue(req), nil
}

// OnResponse records a completed call.
func (p *Plugin) OnResponse(ctx context.Context, resp plugin.ResponseContext) (plugin.ResponseContext, error) {
	p.observe(ctx, "", resp.Status)
	return resp, nil
}

// OnError records a failed call. Calls without a status are counted with
// code "error".
func (p *Plugin) OnError(ctx context.Context, err error, req plugin.RequestContext) (*plugin.ResponseContext, error) {
	p.observe(ctx, req.Method, util.StatusCode(err))
	return nil, nil
}

// OnConnect counts an opening stream.
func (p *Plugin) OnConnect(_ context.Context, c plugin.ConnectContext) (plugin.ConnectResult, error) {
	p.connections.Inc()
	return plugin.ContinueConnect(c), nil
}

// OnDisconnect counts a closed stream.
func (p *Plugin) OnDisconnect(context.Context, string) error {
	p.connections.Dec()
	return nil
}

func (p *Plugin) observe(ctx context.Context, method string, status int) {
	info := callInfo{method: method}
	if scope := plugin.ScopeFromContext(ctx); scope != nil {
		if v, ok := scope.Get(callKey{}); ok {
			info = v.(callInfo)
		}
	}

	code := "error"
	if status != 0 {
		code = strconv.Itoa(status)
	}
	p.requests.WithLabelValues(info.method, code).Inc()
	if !info.start.IsZero() {
		p.duration.WithLabelValues(info.method).Observe(time.Since(info.start).Seconds())
	}
}
