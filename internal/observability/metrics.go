package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the run harness. The registry is
// in-process only; nothing is exported over the network.
type Metrics struct {
	registry        *prometheus.Registry
	RunsTotal       *prometheus.CounterVec
	ToolInvocations *prometheus.CounterVec
	ToolDuration    *prometheus.HistogramVec
	StepsJournaled  prometheus.Counter
}

// NewMetrics constructs a registry with harness collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grayline_runs_total",
		Help: "Runs by terminal status",
	}, []string{"status"})

	toolCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grayline_tool_invocations_total",
		Help: "Tool host invocations by tool and outcome",
	}, []string{"tool", "outcome"})

	toolDurs := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "grayline_tool_duration_seconds",
		Help:    "Tool invocation duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"tool"})

	steps := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grayline_steps_journaled_total",
		Help: "Pipeline steps written to the artifact log",
	})

	reg.MustRegister(runs, toolCalls, toolDurs, steps)

	return &Metrics{
		registry:        reg,
		RunsTotal:       runs,
		ToolInvocations: toolCalls,
		ToolDuration:    toolDurs,
		StepsJournaled:  steps,
	}
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRun counts a run reaching a terminal status.
func (m *Metrics) RecordRun(status string) {
	if m == nil {
		return
	}
	if status == "" {
		status = "unknown"
	}
	m.RunsTotal.WithLabelValues(status).Inc()
}

// RecordToolInvocation counts a capability call and observes its duration.
func (m *Metrics) RecordToolInvocation(tool string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.ToolInvocations.WithLabelValues(tool, outcome).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordStep counts a journaled pipeline step.
func (m *Metrics) RecordStep() {
	if m == nil {
		return
	}
	m.StepsJournaled.Inc()
}
