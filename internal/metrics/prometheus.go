package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	DownstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_downstream_requests_total",
		Help: "Total requests forwarded to downstream servers",
	}, []string{"server", "capability", "status"})

	DownstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_downstream_request_duration_seconds",
		Help:    "Downstream request duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"server"})

	ToolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_tool_calls_total",
		Help: "Total MCP tool calls",
	}, []string{"server", "tool", "status"})

	RetrievalDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_retrieval_duration_seconds",
		Help:    "Retrieval duration per modality",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"modality"})

	SummarizationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_summarizations_total",
		Help: "Total conversation summarizations",
	})

	MessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_messages_total",
		Help: "Total messages recorded",
	})

	ServersRegistered = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_servers_registered",
		Help: "Number of registered downstream servers",
	})
)
