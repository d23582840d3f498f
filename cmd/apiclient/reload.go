package main

import (
	"context"
	"reflect"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vyrodovalexey/avapiclient/internal/config"
	"github.com/vyrodovalexey/avapiclient/internal/observability"
)

// reloadMetrics holds Prometheus metrics for configuration reloads.
type reloadMetrics struct {
	configReloadTotal       *prometheus.CounterVec
	configReloadDuration    prometheus.Histogram
	configReloadLastSuccess prometheus.Gauge
	configWatcherStatus     prometheus.Gauge
}

func newReloadMetrics(reg prometheus.Registerer, namespace string) *reloadMetrics {
	factory := promauto.With(reg)
	return &reloadMetrics{
		configReloadTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reload_total",
				Help:      "Total number of configuration reloads",
			},
			[]string{"result"},
		),
		configReloadDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "config_reload_duration_seconds",
				Help:      "Duration of configuration reload operations",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1},
			},
		),
		configReloadLastSuccess: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "config_reload_last_success_timestamp",
				Help:      "Timestamp of last successful config reload",
			},
		),
		configWatcherStatus: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "config_watcher_running",
				Help:      "Whether the config file watcher is running (1=running, 0=stopped)",
			},
		),
	}
}

// reloader applies reloaded configurations to a running application. The
// config watcher owns the configuration in effect.
type reloader struct {
	app     *application
	metrics *reloadMetrics
}

func newReloader(app *application) *reloader {
	return &reloader{
		app:     app,
		metrics: newReloadMetrics(app.metrics.Registry(), app.config.Metrics.Namespace),
	}
}

// apply reacts to a configuration that loaded and validated. Service and
// plugin changes are reported but need a restart. An error keeps previous
// in effect.
func (r *reloader) apply(ctx context.Context, previous, next *config.Config) error {
	start := time.Now()
	logger := r.app.logger

	if pipelineChanged(previous, next) {
		logger.Warn("service or plugin configuration changed; restart to apply",
			observability.Int("old_services", len(previous.Services)),
			observability.Int("new_services", len(next.Services)),
		)
	}

	err := r.app.applyConfig(ctx, previous, next)
	r.metrics.configReloadDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		r.metrics.configReloadTotal.WithLabelValues("error").Inc()
		return err
	}

	r.metrics.configReloadTotal.WithLabelValues("success").Inc()
	r.metrics.configReloadLastSuccess.SetToCurrentTime()
	return nil
}

// pipelineChanged reports whether anything beyond the runtime-applicable
// settings differs.
func pipelineChanged(previous, next *config.Config) bool {
	return !reflect.DeepEqual(previous.Services, next.Services) ||
		!reflect.DeepEqual(previous.Plugins, next.Plugins)
}

// startConfigWatcher starts the configuration watcher. A watcher that fails
// to start is logged and serving continues without reloads.
func startConfigWatcher(ctx context.Context, r *reloader, configPath string) *config.Watcher {
	logger := r.app.logger

	watcher, err := config.NewWatcher(configPath, r.app.config, r.apply,
		config.WithLogger(logger),
		config.WithErrorCallback(func(error) {
			r.metrics.configReloadTotal.WithLabelValues("invalid").Inc()
		}),
	)
	if err != nil {
		logger.Warn("failed to create config watcher", observability.Error(err))
		r.metrics.configWatcherStatus.Set(0)
		return nil
	}

	if err := watcher.Start(ctx); err != nil {
		logger.Warn("failed to start config watcher", observability.Error(err))
		r.metrics.configWatcherStatus.Set(0)
		_ = watcher.Stop()
		return nil
	}

	r.metrics.configWatcherStatus.Set(1)
	return watcher
}
