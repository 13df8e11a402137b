// Package metrics implements the monitoring collaborator over
// Prometheus. Metric names arrive dot-separated from the stats
// aggregator (task_queue.<queue>.<stat>) and are sanitized into valid
// Prometheus gauge names, created lazily on first use.
package metrics

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder records named gauge values into its own Prometheus
// registry. It is safe for concurrent use.
type Recorder struct {
	registry *prometheus.Registry
	logger   *slog.Logger

	mu     sync.Mutex
	gauges map[string]prometheus.Gauge
}

// NewRecorder creates a Recorder with a fresh registry.
func NewRecorder(logger *slog.Logger) *Recorder {
	return &Recorder{
		registry: prometheus.NewRegistry(),
		logger:   logger.With("component", "metrics"),
		gauges:   make(map[string]prometheus.Gauge),
	}
}

// RecordMetric sets the gauge for name to value, registering it on
// first use.
func (r *Recorder) RecordMetric(name string, value float64) {
	r.mu.Lock()
	gauge, ok := r.gauges[name]
	if !ok {
		gauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: sanitizeName(name),
			Help: "Task queue gauge " + name,
		})
		if err := r.registry.Register(gauge); err != nil {
			r.mu.Unlock()
			r.logger.Error("failed to register gauge", "name", name, "error", err)
			return
		}
		r.gauges[name] = gauge
	}
	r.mu.Unlock()

	gauge.Set(value)
}

// Handler returns the HTTP handler exposing the recorder's registry
// in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Gather exposes the registry's current state. Intended for tests.
func (r *Recorder) Gather() (map[string]float64, error) {
	families, err := r.registry.Gather()
	if err != nil {
		return nil, err
	}
	values := make(map[string]float64)
	for _, family := range families {
		for _, metric := range family.Metric {
			if metric.Gauge != nil {
				values[family.GetName()] = metric.Gauge.GetValue()
			}
		}
	}
	return values, nil
}

// sanitizeName converts a dot-separated metric name into a valid
// Prometheus identifier.
func sanitizeName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}
