// Package metrics defines the Prometheus instruments the service exports.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the collectors. A nil *Metrics is safe to call.
type Metrics struct {
	ChatStreams    *prometheus.CounterVec
	ToolExecutions *prometheus.CounterVec
	StageDuration  *prometheus.HistogramVec
	IngestJobs     *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ChatStreams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "health",
			Subsystem: "chat",
			Name:      "streams_total",
			Help:      "Chat message streams by outcome.",
		}, []string{"outcome"}),
		ToolExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "health",
			Subsystem: "chat",
			Name:      "tool_executions_total",
			Help:      "Tool dispatches by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "health",
			Subsystem: "ingest",
			Name:      "stage_duration_seconds",
			Help:      "Ingestion pipeline stage durations.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"stage"}),
		IngestJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "health",
			Subsystem: "ingest",
			Name:      "jobs_total",
			Help:      "Ingestion jobs by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.ChatStreams, m.ToolExecutions, m.StageDuration, m.IngestJobs)
	}
	return m
}

// ObserveChatStream records one finished chat stream.
func (m *Metrics) ObserveChatStream(outcome string) {
	if m == nil {
		return
	}
	m.ChatStreams.WithLabelValues(outcome).Inc()
}

// ObserveToolExecution records one tool dispatch.
func (m *Metrics) ObserveToolExecution(tool, outcome string) {
	if m == nil {
		return
	}
	m.ToolExecutions.WithLabelValues(tool, outcome).Inc()
}

// ObserveStage records one pipeline stage duration in seconds.
func (m *Metrics) ObserveStage(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(seconds)
}

// ObserveIngestJob records one finished ingestion job.
func (m *Metrics) ObserveIngestJob(outcome string) {
	if m == nil {
		return
	}
	m.IngestJobs.WithLabelValues(outcome).Inc()
}
