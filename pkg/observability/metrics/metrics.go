package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Calls counts gateway calls by operation (generate, chat, redact),
	// path (local, remote) and outcome (ok or an error kind).
	Calls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "privacy_gateway_calls_total",
			Help: "Gateway calls by operation, routing path and outcome",
		},
		[]string{"operation", "path", "outcome"},
	)

	Replacements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "privacy_gateway_replacements_total",
			Help: "Placeholders produced by redaction, by category",
		},
		[]string{"category"},
	)

	CombineConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "privacy_gateway_combine_conflicts_total",
			Help: "Placeholder keys dropped when combining restoration tables",
		},
	)

	ExtractionFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "privacy_gateway_extraction_failures_total",
			Help: "Assisted extraction calls that returned no result",
		},
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "privacy_gateway_provider_latency_seconds",
			Help:    "Model provider call latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "privacy_gateway_http_requests_total",
			Help: "HTTP requests by route and status",
		},
		[]string{"route", "status"},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}
