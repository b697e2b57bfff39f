package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omnichat_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "omnichat_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	AIInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omnichat_ai_invocations_total",
			Help: "Total number of AI gateway invocations by operation kind and outcome.",
		},
		[]string{"kind", "status"},
	)

	AIRemoteLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "omnichat_ai_remote_latency_seconds",
			Help:    "Remote model call latency in seconds, including retries.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"kind"},
	)

	AIRemoteRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "omnichat_ai_remote_retries_total",
			Help: "Total number of retried remote model call attempts.",
		},
	)

	AIQuotaDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omnichat_ai_quota_denials_total",
			Help: "Total number of invocations denied before spend, by reason.",
		},
		[]string{"reason"},
	)

	AITokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omnichat_ai_tokens_total",
			Help: "Total tokens consumed by direction (input/output).",
		},
		[]string{"direction"},
	)

	AICostTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "omnichat_ai_cost_usd_total",
			Help: "Total estimated model spend in USD.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		AIInvocationsTotal,
		AIRemoteLatency,
		AIRemoteRetriesTotal,
		AIQuotaDenialsTotal,
		AITokensTotal,
		AICostTotal,
	)
}
