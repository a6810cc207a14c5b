// Package observability provides the service logger and Prometheus metrics.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "nexgddp"

// Metrics holds the Prometheus counters and histograms for store access and
// dataset operations.
type Metrics struct {
	// Store metrics.
	StoreOpens        *prometheus.CounterVec // labels: outcome={success,error}
	ChunkReads        *prometheus.CounterVec // labels: outcome={success,missing,error}
	ChunkBytes        prometheus.Counter
	ChunkReadDuration prometheus.Histogram

	// Operation metrics.
	AssembleDuration prometheus.Histogram
	ClipDuration     prometheus.Histogram
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		StoreOpens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_opens_total",
			Help:      "Zarr store opens by outcome.",
		}, []string{"outcome"}),
		ChunkReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_reads_total",
			Help:      "Chunk fetches by outcome. Missing chunks read as fill values.",
		}, []string{"outcome"}),
		ChunkBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_bytes_total",
			Help:      "Compressed chunk bytes fetched from blob storage.",
		}),
		ChunkReadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_read_duration_seconds",
			Help:      "Duration of one chunk fetch and decode.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		AssembleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "assemble_duration_seconds",
			Help:      "Duration of opening and merging the stores of one request.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		ClipDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "clip_duration_seconds",
			Help:      "Duration of restricting a dataset to a region.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
	}

	prometheus.MustRegister(
		m.StoreOpens,
		m.ChunkReads,
		m.ChunkBytes,
		m.ChunkReadDuration,
		m.AssembleDuration,
		m.ClipDuration,
	)

	return m
}

// NewMetricsForTesting creates Metrics without registering them, to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		StoreOpens:        prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "store_opens_total"}, []string{"outcome"}),
		ChunkReads:        prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "chunk_reads_total"}, []string{"outcome"}),
		ChunkBytes:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "chunk_bytes_total"}),
		ChunkReadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "chunk_read_duration_seconds"}),
		AssembleDuration:  prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "assemble_duration_seconds"}),
		ClipDuration:      prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "clip_duration_seconds"}),
	}
}

// StoreOpened records the outcome of opening one store.
func (m *Metrics) StoreOpened(err error) {
	m.StoreOpens.WithLabelValues(outcome(err)).Inc()
}

// ChunkRead records one chunk fetch. A zero-byte success is a missing chunk.
func (m *Metrics) ChunkRead(n int, elapsed time.Duration, err error) {
	label := outcome(err)
	if err == nil && n == 0 {
		label = "missing"
	}
	m.ChunkReads.WithLabelValues(label).Inc()
	m.ChunkBytes.Add(float64(n))
	m.ChunkReadDuration.Observe(elapsed.Seconds())
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
