package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gantry"

// Metrics holds the Prometheus collectors of one process. Each instance
// owns its registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	// PolicyViolations counts gate rejections.
	// Labels: rule (forbidden_pattern, stack, file_count, ...)
	PolicyViolations *prometheus.CounterVec

	// BuildAttempts counts concluded attempts.
	// Labels: outcome (pass, audit_failed, timeout, error)
	BuildAttempts *prometheus.CounterVec

	// BuildDuration tracks how long attempts take.
	// Labels: outcome
	BuildDuration *prometheus.HistogramVec

	// HealAttempts counts manifests sent back for healing.
	HealAttempts prometheus.Counter

	// Missions counts missions by terminal status.
	// Labels: status
	Missions *prometheus.CounterVec

	// MissionsInFlight is the number of running mission goroutines.
	MissionsInFlight prometheus.Gauge
}

// NewMetrics registers every collector, plus the Go and process collectors,
// on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		PolicyViolations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "policy",
				Name:      "violations_total",
				Help:      "Total number of manifests rejected by the policy gate",
			},
			[]string{"rule"},
		),
		BuildAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "build",
				Name:      "attempts_total",
				Help:      "Total number of build attempts by outcome",
			},
			[]string{"outcome"},
		),
		BuildDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "build",
				Name:      "duration_seconds",
				Help:      "Duration of build attempts in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 90, 120, 180, 240},
			},
			[]string{"outcome"},
		),
		HealAttempts: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "heal",
				Name:      "attempts_total",
				Help:      "Total number of healing requests sent to the architect",
			},
		),
		Missions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "missions_total",
				Help:      "Total number of missions by terminal status",
			},
			[]string{"status"},
		),
		MissionsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "missions_in_flight",
				Help:      "Number of missions currently being processed",
			},
		),
	}
}

// RecordViolation counts a policy violation.
func (m *Metrics) RecordViolation(rule string) {
	if m == nil {
		return
	}
	m.PolicyViolations.WithLabelValues(rule).Inc()
}

// ObserveBuild records a concluded build attempt.
func (m *Metrics) ObserveBuild(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.BuildAttempts.WithLabelValues(outcome).Inc()
	m.BuildDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordHeal counts a healing request.
func (m *Metrics) RecordHeal() {
	if m == nil {
		return
	}
	m.HealAttempts.Inc()
}

// RecordMission counts a mission reaching a terminal status.
func (m *Metrics) RecordMission(status string) {
	if m == nil {
		return
	}
	m.Missions.WithLabelValues(status).Inc()
}

// MissionStarted and MissionFinished track in-flight missions.
func (m *Metrics) MissionStarted() {
	if m != nil {
		m.MissionsInFlight.Inc()
	}
}

func (m *Metrics) MissionFinished() {
	if m != nil {
		m.MissionsInFlight.Dec()
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
