// Package metrics defines the Prometheus collectors KubeSage exports on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route, method and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubesage_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kubesage_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"route"},
	)

	// QueriesTotal counts assistant queries; status is success or an error class.
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubesage_queries_total",
			Help: "Total number of natural-language queries",
		},
		[]string{"model", "status"},
	)

	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kubesage_query_duration_seconds",
			Help:    "Query duration in seconds, including tool calls",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2min
		},
		[]string{"model"},
	)

	LLMTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubesage_llm_tokens_total",
			Help: "Total number of LLM tokens consumed",
		},
		[]string{"model", "type"}, // type: input/output
	)

	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubesage_tool_calls_total",
			Help: "Total number of cluster tool calls",
		},
		[]string{"tool", "status"},
	)

	ToolDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kubesage_tool_duration_seconds",
			Help:    "Cluster tool execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		},
		[]string{"tool"},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kubesage_websocket_connections",
			Help: "Number of open WebSocket connections",
		},
	)
)

// ObserveTool records one tool call.
func ObserveTool(tool string, failed bool, d time.Duration) {
	status := "success"
	if failed {
		status = "error"
	}
	ToolCallsTotal.WithLabelValues(tool, status).Inc()
	ToolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// ObserveQuery records one assistant query.
func ObserveQuery(model, status string, d time.Duration) {
	QueriesTotal.WithLabelValues(model, status).Inc()
	QueryDuration.WithLabelValues(model).Observe(d.Seconds())
}

// ObserveTokens adds token usage reported by the model.
func ObserveTokens(model string, input, output int32) {
	if input > 0 {
		LLMTokensUsed.WithLabelValues(model, "input").Add(float64(input))
	}
	if output > 0 {
		LLMTokensUsed.WithLabelValues(model, "output").Add(float64(output))
	}
}

// ObserveHTTP records one HTTP request.
func ObserveHTTP(route, method string, code int, d time.Duration) {
	HTTPRequestsTotal.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	HTTPRequestDuration.WithLabelValues(route).Observe(d.Seconds())
}
