// Package metrics exposes the Prometheus instruments for the dataset engine.
// Instruments are registered on the default registry at init and scraped via
// the /metrics endpoint of the debug server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RowsProcessed counts rows emitted downstream, per op.
	RowsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weave",
		Name:      "rows_processed_total",
		Help:      "Number of rows emitted downstream.",
	}, []string{"op"})

	// BuffersEmitted counts buffers (data and control markers) pushed into
	// the output connector, per op.
	BuffersEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weave",
		Name:      "buffers_emitted_total",
		Help:      "Number of buffers pushed into the output connector.",
	}, []string{"op"})

	// OpErrors counts fatal worker errors, per op.
	OpErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weave",
		Name:      "op_errors_total",
		Help:      "Number of fatal worker errors.",
	}, []string{"op"})

	// FetchWait observes how long a fetch from an upstream connector blocked.
	FetchWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "weave",
		Name:      "fetch_wait_seconds",
		Help:      "Time spent blocked fetching a buffer from upstream.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"op"})

	// CacheHits counts rows served from the row cache.
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weave",
		Name:      "cache_hits_total",
		Help:      "Number of rows served from the row cache.",
	}, []string{"op"})

	// CacheMisses counts rows that had to be computed by the cached subtree.
	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weave",
		Name:      "cache_misses_total",
		Help:      "Number of rows computed by the cached subtree.",
	}, []string{"op"})

	// Epochs counts completed epochs, per op that observed the boundary.
	Epochs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weave",
		Name:      "epochs_total",
		Help:      "Number of end-of-epoch boundaries observed.",
	}, []string{"op"})
)
