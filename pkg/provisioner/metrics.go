package provisioner

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the provisioning Prometheus metrics
type Metrics struct {
	AttemptsTotal     *prometheus.CounterVec
	StepFailuresTotal *prometheus.CounterVec
	StepDuration      *prometheus.HistogramVec
}

// NewMetrics creates and registers the metrics on registry. A nil registry
// leaves them unregistered.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		AttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provisioner_attempts_total",
				Help: "Total number of provisioning attempts by outcome",
			},
			[]string{"outcome"},
		),
		StepFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provisioner_step_failures_total",
				Help: "Total number of provisioning failures by step",
			},
			[]string{"step"},
		),
		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "provisioner_step_duration_seconds",
				Help:    "Duration of provisioning steps that perform I/O",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 15},
			},
			[]string{"step"},
		),
	}

	if registry != nil {
		registry.MustRegister(m.AttemptsTotal, m.StepFailuresTotal, m.StepDuration)
	}
	return m
}

// RecordOutcome counts one finished attempt.
func (m *Metrics) RecordOutcome(outcome Outcome, failedStep Step) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(string(outcome)).Inc()
	if failedStep != "" {
		m.StepFailuresTotal.WithLabelValues(string(failedStep)).Inc()
	}
}

// ObserveStep records how long a step took.
func (m *Metrics) ObserveStep(step Step, start time.Time) {
	if m == nil {
		return
	}
	m.StepDuration.WithLabelValues(string(step)).Observe(time.Since(start).Seconds())
}
