// Package metrics records plugin decisions and kernel build times.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Decision label values.
const (
	DecisionBuilt  = "built"
	DecisionReused = "reused"
)

// Registry holds the metrics of one or more pipeline runs.
type Registry struct {
	DecisionsTotal *prometheus.CounterVec
	BuildFailures  *prometheus.CounterVec
	BuildDuration  *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewRegistry creates a registry with all metrics initialized.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{registry: reg}

	r.DecisionsTotal = promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "tpat_plugin_decisions_total",
			Help: "Selected nodes by outcome (built or reused)",
		},
		[]string{"op_type", "decision"},
	)
	r.BuildFailures = promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "tpat_kernel_build_failures_total",
			Help: "Kernel builds that returned an error",
		},
		[]string{"op_type"},
	)
	r.BuildDuration = promauto.With(reg).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tpat_kernel_build_duration_seconds",
			Help:    "Kernel build duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 1, 10, 60, 600},
		},
		[]string{"op_type"},
	)
	return r
}

// Gatherer returns the underlying Prometheus registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// RecordReuse counts a node served by an existing plugin.
func (r *Registry) RecordReuse(opType string) {
	r.DecisionsTotal.WithLabelValues(opType, DecisionReused).Inc()
}

// RecordBuild counts a kernel build and its duration.
func (r *Registry) RecordBuild(opType string, d time.Duration, err error) {
	r.BuildDuration.WithLabelValues(opType).Observe(d.Seconds())
	if err != nil {
		r.BuildFailures.WithLabelValues(opType).Inc()
		return
	}
	r.DecisionsTotal.WithLabelValues(opType, DecisionBuilt).Inc()
}

// WriteTextfile writes all metrics in the text exposition format, for the
// node exporter textfile collector.
func (r *Registry) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics to %s: %w", path, err)
	}
	return nil
}
