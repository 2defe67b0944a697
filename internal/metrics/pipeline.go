package metrics

import "github.com/prometheus/client_golang/prometheus"

// Discovery pipeline Prometheus metrics.
var (
	DiscoveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "discovery_duration_seconds",
			Help:      "End-to-end discovery duration in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2.5, 5, 10, 20, 40, 80},
		},
		[]string{"cached"},
	)

	DiscoveryStagePosts = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "discovery_stage_posts",
			Help:      "Number of posts surviving each pipeline stage",
			Buckets:   []float64{0, 1, 5, 10, 20, 30, 50, 100, 200},
		},
		[]string{"stage"}, // input, semantic, analyzed, output
	)

	UpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Outbound requests to content and model providers",
		},
		[]string{"upstream", "status"},
	)

	UpstreamRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_retries_total",
			Help:      "Retried outbound calls by reason",
		},
		[]string{"upstream", "reason"}, // rate_limited, timeout, unavailable
	)

	LimiterInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "limiter_in_flight",
			Help:      "Calls currently holding a limiter slot",
		},
		[]string{"limiter"},
	)

	LimiterWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "limiter_wait_seconds",
			Help:      "Time spent queued for a limiter slot",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"limiter"},
	)

	RelevanceBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relevance_batches_total",
			Help:      "Relevance scoring batches by outcome",
		},
		[]string{"status"}, // ok, fallback
	)

	ModelTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_tokens_total",
			Help:      "Chat model tokens consumed",
		},
		[]string{"model", "purpose"}, // expansion, relevance
	)

	ModelRequestsRemaining = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_requests_remaining",
			Help:      "Last observed remaining request quota reported by the model provider",
		},
	)

	CacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_total",
			Help:      "Response cache lookups by tier and result",
		},
		[]string{"tier", "result"}, // tier: remote, local; result: hit, miss, error
	)

	CacheRemoteWriteErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_remote_write_errors_total",
			Help:      "Failed background writes to the durable cache tier",
		},
	)

	CacheLocalEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_local_entries",
			Help:      "Entries held in the in-process cache tier",
		},
	)

	InboundRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_rejected_total",
			Help:      "Requests rejected by the per-identity throttle",
		},
	)
)

var pipelineMetricsRegistered bool

// RegisterPipelineMetrics registers discovery pipeline metrics. Must be called once from main.
func RegisterPipelineMetrics() {
	if pipelineMetricsRegistered {
		return
	}
	prometheus.MustRegister(
		DiscoveryDuration,
		DiscoveryStagePosts,
		UpstreamRequestsTotal,
		UpstreamRetriesTotal,
		LimiterInFlight,
		LimiterWaitDuration,
		RelevanceBatchesTotal,
		ModelTokensTotal,
		ModelRequestsRemaining,
		CacheTotal,
		CacheRemoteWriteErrorsTotal,
		CacheLocalEntries,
		InboundRejectedTotal,
	)
	pipelineMetricsRegistered = true
}
