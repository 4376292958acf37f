package observability

import (
	"context"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine collectors.
type Metrics struct {
	NodeVisits   *prometheus.CounterVec
	ToolCalls    *prometheus.CounterVec
	ToolDuration *prometheus.HistogramVec
	Runs         *prometheus.CounterVec
	Compressions prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		NodeVisits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tendril_node_visits_total",
				Help: "Total number of node visits",
			},
			[]string{"node"},
		),
		ToolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tendril_tool_calls_total",
				Help: "Tool invocations by outcome",
			},
			[]string{"tool", "status"},
		),
		ToolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tendril_tool_duration_seconds",
				Help:    "Duration of tool executions",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
			[]string{"tool"},
		),
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tendril_runs_total",
				Help: "Completed turns by outcome",
			},
			[]string{"outcome"},
		),
		Compressions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tendril_compressions_total",
			Help: "History compression passes",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.NodeVisits, m.ToolCalls, m.ToolDuration, m.Runs, m.Compressions)
	}
	return m
}

// Hooks returns lifecycle hooks that record into m.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeEnter: func(_ context.Context, e *domain.NodeEvent) {
			m.NodeVisits.WithLabelValues(string(e.NodeID)).Inc()
		},
		OnToolReturn: func(_ context.Context, e *domain.ToolEvent) {
			status := "ok"
			if e.IsError {
				status = "error"
			}
			m.ToolCalls.WithLabelValues(e.ToolName, status).Inc()
			m.ToolDuration.WithLabelValues(e.ToolName).Observe(e.Duration.Seconds())
		},
		OnCompress: func(context.Context, *domain.CompressEvent) {
			m.Compressions.Inc()
		},
		OnRunEnd: func(_ context.Context, e *domain.RunEvent) {
			m.Runs.WithLabelValues(e.Outcome).Inc()
		},
	}
}
