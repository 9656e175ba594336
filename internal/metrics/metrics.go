// Package metrics exposes forge's counters as Prometheus collectors on a
// private registry. The CLI is short lived, so metrics are written to a
// node_exporter textfile rather than served.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/steveyegge/forge/internal/types"
)

const namespace = "forge"

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ingested     *prometheus.CounterVec
	decisions    *prometheus.CounterVec
	remediations prometheus.Counter
	passes       *prometheus.CounterVec
	passDuration prometheus.Histogram
	records      prometheus.Gauge
	clusters     prometheus.Gauge
	catalog      prometheus.Gauge
}

// New creates the collectors and registers them on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_total",
			Help:      "Artifacts offered to the indexer, by outcome.",
		}, []string{"outcome"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_decisions_total",
			Help:      "Quality gate decisions for keepers, by band.",
		}, []string{"band"}),
		remediations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remediations_total",
			Help:      "Keepers that were remediated and rescored.",
		}),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_total",
			Help:      "Curation passes, by final status.",
		}, []string{"status"}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Wall time of a curation pass.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		records: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "records",
			Help:      "Records in the snapshot of the last pass.",
		}),
		clusters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clusters",
			Help:      "Clusters produced by the last pass.",
		}),
		catalog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "catalog_entries",
			Help:      "Kept entries after the last pass.",
		}),
	}
	m.registry.MustRegister(
		m.ingested, m.decisions, m.remediations, m.passes,
		m.passDuration, m.records, m.clusters, m.catalog,
	)
	return m
}

// Registry returns the registry the collectors live on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordIngest counts one indexer outcome
func (m *Metrics) RecordIngest(outcome string) {
	if m == nil {
		return
	}
	m.ingested.WithLabelValues(outcome).Inc()
}

// RecordDecision counts one terminal gate decision
func (m *Metrics) RecordDecision(band types.Band, remediated bool) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(string(band)).Inc()
	if remediated {
		m.remediations.Inc()
	}
}

// ObservePass records the outcome of a curation pass
func (m *Metrics) ObservePass(status types.PassStatus, d time.Duration, records, clusters, kept int) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(string(status)).Inc()
	m.passDuration.Observe(d.Seconds())
	m.records.Set(float64(records))
	m.clusters.Set(float64(clusters))
	m.catalog.Set(float64(kept))
}

// WriteTextfile writes every metric in the text exposition format. The file
// is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
