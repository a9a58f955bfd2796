// Package metrics exposes PSA batch progress as Prometheus metrics. Batches
// are short-lived, so the metrics are written to a node_exporter textfile
// rather than served.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rgehrsitz/cohortsim/internal/psa"
)

const namespace = "cohortsim"

// PSAMetrics collects counters for one PSA batch on its own registry.
type PSAMetrics struct {
	registry *prometheus.Registry

	draws     *prometheus.CounterVec
	target    prometheus.Gauge
	duration  prometheus.Gauge
	drawRate  prometheus.Histogram
	completed prometheus.Gauge

	last time.Time
}

// NewPSAMetrics registers the batch metrics labeled with the model name.
func NewPSAMetrics(model string) *PSAMetrics {
	labels := prometheus.Labels{"model": model}
	m := &PSAMetrics{
		registry: prometheus.NewRegistry(),
		draws: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "psa",
			Name:        "draws_total",
			Help:        "PSA draws completed, by outcome.",
			ConstLabels: labels,
		}, []string{"status"}),
		target: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "psa",
			Name:        "draws_requested",
			Help:        "Draws requested for the batch.",
			ConstLabels: labels,
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "psa",
			Name:        "batch_duration_seconds",
			Help:        "Wall time of the last finished batch.",
			ConstLabels: labels,
		}),
		drawRate: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "psa",
			Name:        "draw_interval_seconds",
			Help:        "Time between consecutive draw completions.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
		completed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "psa",
			Name:        "last_completed_timestamp_seconds",
			Help:        "Unix time the last batch finished.",
			ConstLabels: labels,
		}),
	}
	m.registry.MustRegister(m.draws, m.target, m.duration, m.drawRate, m.completed)
	// Both outcomes appear in the output even when zero.
	m.draws.WithLabelValues("ok")
	m.draws.WithLabelValues("failed")
	return m
}

// Registry returns the registry holding the batch metrics.
func (m *PSAMetrics) Registry() *prometheus.Registry { return m.registry }

// Start records the size of a batch about to run.
func (m *PSAMetrics) Start(draws int) {
	m.target.Set(float64(draws))
	m.last = time.Now()
}

// Observe counts one completed draw. It is meant to be called from
// psa.Engine.OnDraw, which serializes calls.
func (m *PSAMetrics) Observe(p psa.Progress) {
	status := "ok"
	if p.Err != nil {
		status = "failed"
	}
	m.draws.WithLabelValues(status).Inc()

	now := time.Now()
	if !m.last.IsZero() {
		m.drawRate.Observe(now.Sub(m.last).Seconds())
	}
	m.last = now
}

// Finish records the batch wall time.
func (m *PSAMetrics) Finish(elapsed time.Duration) {
	m.duration.Set(elapsed.Seconds())
	m.completed.SetToCurrentTime()
}

// WriteTextfile writes the metrics in the text exposition format.
func (m *PSAMetrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
