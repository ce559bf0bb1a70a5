// Package metrics registers the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequests counts handled HTTP requests by method, path, and status.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mundi_http_requests_total",
		Help: "HTTP requests handled, by method, route, and status code.",
	}, []string{"method", "route", "status"})

	// LoopIterations observes how many iterations each agent turn took.
	LoopIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mundi_agent_loop_iterations",
		Help:    "Iterations per agent loop turn.",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 25},
	})

	// ToolInvocations counts tool calls by tool name and result status.
	ToolInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mundi_tool_invocations_total",
		Help: "Tool invocations, by tool and status.",
	}, []string{"tool", "status"})

	// WSSubscribers gauges the live WebSocket subscriber count.
	WSSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mundi_ws_subscribers",
		Help: "Currently connected WebSocket subscribers.",
	})
)
