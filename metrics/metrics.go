// Package metrics exports execution and sandbox lifecycle metrics to
// Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/houyanchao/coderun/sandbox"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeTimeout = "timeout"
)

// Metrics implements sandbox.Observer.
type Metrics struct {
	Executions         *prometheus.CounterVec
	ExecutionDuration  *prometheus.HistogramVec
	Timeouts           *prometheus.CounterVec
	ActiveSandboxes    *prometheus.GaugeVec
	ProtocolViolations *prometheus.CounterVec
}

// New registers the collectors with reg. Passing nil registers with the
// default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Executions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coderun_executions_total",
				Help: "Total number of executions by language and outcome",
			},
			[]string{"language", "outcome"},
		),
		ExecutionDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coderun_execution_duration_seconds",
				Help:    "Execution duration from dispatch to result",
				Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"language"},
		),
		Timeouts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coderun_execution_timeouts_total",
				Help: "Total number of executions that hit their timeout",
			},
			[]string{"language"},
		),
		ActiveSandboxes: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "coderun_active_sandboxes",
				Help: "Number of live guest frames",
			},
			[]string{"language"},
		),
		ProtocolViolations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coderun_protocol_violations_total",
				Help: "Messages dropped because they did not belong to the active execution",
			},
			[]string{"language"},
		),
	}
}

func (m *Metrics) SandboxStarted(language string) {
	m.ActiveSandboxes.WithLabelValues(language).Inc()
}

func (m *Metrics) SandboxStopped(language string) {
	m.ActiveSandboxes.WithLabelValues(language).Dec()
}

func (m *Metrics) ExecutionFinished(language string, r sandbox.Result) {
	outcome := OutcomeFailure
	switch {
	case r.Success:
		outcome = OutcomeSuccess
	case r.TimedOut:
		outcome = OutcomeTimeout
		m.Timeouts.WithLabelValues(language).Inc()
	}
	m.Executions.WithLabelValues(language, outcome).Inc()
	m.ExecutionDuration.WithLabelValues(language).Observe(r.Duration.Seconds())
}

func (m *Metrics) ProtocolViolation(language string) {
	m.ProtocolViolations.WithLabelValues(language).Inc()
}

var _ sandbox.Observer = (*Metrics)(nil)
