package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	OperationsApplied      prometheus.Counter
	OperationApplyDuration prometheus.Histogram
	BufferedOpDepth        prometheus.Gauge
	GCBytesFreed           prometheus.Counter
	SyncFanoutLatency      prometheus.Histogram
	TreeCycleRejections    prometheus.Counter
	CacheHits              prometheus.Counter
	CacheMisses            prometheus.Counter
	ActiveConnections      prometheus.Gauge
	QueryLatency           prometheus.Histogram
	ErrorCount             prometheus.Counter
	EmbeddingIndexSize     prometheus.Gauge
}

func NewMetrics() *Metrics {
	return &Metrics{
		OperationsApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "codex_operations_applied_total",
			Help: "Total number of CRDT operations applied across all layers",
		}),
		OperationApplyDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "codex_operation_apply_duration_seconds",
			Help:    "Time taken to apply a single operation",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
		BufferedOpDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "codex_buffered_op_depth",
			Help: "Number of operations held in the causal delivery buffer awaiting dependencies",
		}),
		GCBytesFreed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "codex_gc_bytes_freed_total",
			Help: "Total bytes reclaimed by tombstone garbage collection sweeps",
		}),
		SyncFanoutLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "codex_sync_fanout_latency_seconds",
			Help:    "Time taken to fan an operation batch out to subscribed connections",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
		TreeCycleRejections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "codex_tree_cycle_rejections_total",
			Help: "Total number of tree move operations rejected for introducing a cycle",
		}),
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "codex_cache_hits_total",
			Help: "Total number of cache hits",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "codex_cache_misses_total",
			Help: "Total number of cache misses",
		}),
		ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "codex_active_connections",
			Help: "Number of active transport connections",
		}),
		QueryLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "codex_query_latency_seconds",
			Help:    "Query latency distribution",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		ErrorCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "codex_errors_total",
			Help: "Total number of errors",
		}),
		EmbeddingIndexSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "codex_embedding_index_size_bytes",
			Help: "Size of the RAG embedding index in bytes",
		}),
	}
}
