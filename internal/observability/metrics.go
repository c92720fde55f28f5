// Package observability holds the Prometheus metrics and OpenTelemetry
// tracing helpers used by the explorer.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pageexplorer"

// Instruction results.
const (
	ResultOK           = "ok"
	ResultElementLocal = "element_local"
	ResultFatal        = "fatal"
)

// Navigation results.
const (
	NavigationOK          = "ok"
	NavigationUnreachable = "unreachable"
	NavigationError       = "error"
)

// Metrics is the explorer's metric set. A nil *Metrics records nothing.
type Metrics struct {
	Instructions       *prometheus.CounterVec
	InstructionLatency *prometheus.HistogramVec
	Explores           *prometheus.CounterVec
	Navigations        *prometheus.CounterVec
	ElementErrors      prometheus.Counter
	Sessions           *prometheus.CounterVec
	SelectedElements   prometheus.Gauge
}

// NewMetrics registers the metric set with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Instructions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "instruction",
				Name:      "executed_total",
				Help:      "Total number of instructions executed",
			},
			[]string{"action", "result"},
		),
		InstructionLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "instruction",
				Name:      "duration_seconds",
				Help:      "Instruction execution time in seconds, waits included",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4m
			},
			[]string{"action"},
		),
		Explores: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "explore",
				Name:      "runs_total",
				Help:      "Total number of explore runs",
			},
			[]string{"outcome"}, // "success" or "failure"
		),
		Navigations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "navigations_total",
				Help:      "Total number of navigations",
			},
			[]string{"result"},
		),
		ElementErrors: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "explore",
				Name:      "element_errors_total",
				Help:      "Element-local failures absorbed while sending keys to a selection",
			},
		),
		Sessions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "events_total",
				Help:      "Session lifecycle events",
			},
			[]string{"event"}, // created, creation_failed, shutdown
		),
		SelectedElements: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "explore",
				Name:      "selected_elements",
				Help:      "Size of the current element selection",
			},
		),
	}
}

// ObserveInstruction records one executed instruction.
func (m *Metrics) ObserveInstruction(action, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Instructions.WithLabelValues(action, result).Inc()
	m.InstructionLatency.WithLabelValues(action).Observe(elapsed.Seconds())
}

// ObserveExplore records the outcome of a run.
func (m *Metrics) ObserveExplore(success bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.Explores.WithLabelValues(outcome).Inc()
}

// ObserveNavigation records a navigation result.
func (m *Metrics) ObserveNavigation(result string) {
	if m == nil {
		return
	}
	m.Navigations.WithLabelValues(result).Inc()
}

// ObserveElementError records an absorbed element-local failure.
func (m *Metrics) ObserveElementError() {
	if m == nil {
		return
	}
	m.ElementErrors.Inc()
}

// ObserveSession records a session lifecycle event.
func (m *Metrics) ObserveSession(event string) {
	if m == nil {
		return
	}
	m.Sessions.WithLabelValues(event).Inc()
}

// SetSelected records the current selection size.
func (m *Metrics) SetSelected(n int) {
	if m == nil {
		return
	}
	m.SelectedElements.Set(float64(n))
}
