// Package metrics exposes Prometheus instrumentation for tool invocations
// and background tasks. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Tool invocation outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeTimeout = "timeout"
)

type Metrics struct {
	registry *prometheus.Registry

	toolRuns     *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
	toolLines    *prometheus.CounterVec

	tasksTotal   *prometheus.CounterVec
	tasksRunning *prometheus.GaugeVec
	tasksQueued  *prometheus.GaugeVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		toolRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reconflow",
			Name:      "tool_runs_total",
			Help:      "External tool invocations by tool and outcome.",
		}, []string{"tool", "outcome"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "reconflow",
			Name:      "tool_duration_seconds",
			Help:      "Wall time of external tool invocations.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		}, []string{"tool"}),
		toolLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reconflow",
			Name:      "tool_output_lines_total",
			Help:      "Lines of standard output collected from external tools.",
		}, []string{"tool"}),
		tasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reconflow",
			Name:      "tasks_total",
			Help:      "Background tasks completed by kind and outcome.",
		}, []string{"kind", "outcome"}),
		tasksRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "reconflow",
			Name:      "tasks_running",
			Help:      "Background tasks currently holding a worker slot.",
		}, []string{"kind"}),
		tasksQueued: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "reconflow",
			Name:      "tasks_queued",
			Help:      "Background tasks waiting for a worker slot.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.toolRuns, m.toolDuration, m.toolLines,
		m.tasksTotal, m.tasksRunning, m.tasksQueued,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the registry backing the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveTool(tool, outcome string, took time.Duration, lines int) {
	if m == nil {
		return
	}
	m.toolRuns.WithLabelValues(tool, outcome).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(took.Seconds())
	if lines > 0 {
		m.toolLines.WithLabelValues(tool).Add(float64(lines))
	}
}

func (m *Metrics) TaskQueued(kind string) {
	if m == nil {
		return
	}
	m.tasksQueued.WithLabelValues(kind).Inc()
}

func (m *Metrics) TaskStarted(kind string) {
	if m == nil {
		return
	}
	m.tasksQueued.WithLabelValues(kind).Dec()
	m.tasksRunning.WithLabelValues(kind).Inc()
}

// TaskAbandoned is recorded for a queued task that never got a slot.
func (m *Metrics) TaskAbandoned(kind string) {
	if m == nil {
		return
	}
	m.tasksQueued.WithLabelValues(kind).Dec()
	m.tasksTotal.WithLabelValues(kind, "cancelled").Inc()
}

func (m *Metrics) TaskFinished(kind, outcome string) {
	if m == nil {
		return
	}
	m.tasksRunning.WithLabelValues(kind).Dec()
	m.tasksTotal.WithLabelValues(kind, outcome).Inc()
}
