package telemetry

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig controls the Prometheus registry and its optional HTTP
// exposition.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	// Addr is the listen address for /metrics, e.g. ":9464". Empty disables
	// the HTTP server even when metrics are enabled.
	Addr string `yaml:"addr"`
}

// DefaultMetricsConfig enables the registry without an HTTP listener.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{Enabled: true, Namespace: "microcell"}
}

// Metrics holds the orchestrator's Prometheus instruments. A disabled
// instance is a no-op so engines never branch on configuration.
type Metrics struct {
	config   MetricsConfig
	registry *prometheus.Registry

	transitionsTaken    *prometheus.CounterVec
	operationEvents     *prometheus.CounterVec
	plansComputed       *prometheus.CounterVec
	planLength          prometheus.Histogram
	planningDuration    prometheus.Histogram
	replans             prometheus.Counter
	goalsScheduled      prometheus.Gauge
	goalsCompleted      *prometheus.CounterVec
	storeRoundtripError prometheus.Counter
	engineTicks         *prometheus.CounterVec
}

// NewMetrics creates the metric set.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return &Metrics{config: cfg}
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = "microcell"
	}
	registry := prometheus.NewRegistry()
	m := &Metrics{
		config:   cfg,
		registry: registry,
		transitionsTaken: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "auto_transitions_taken_total",
			Help:      "Automatic transitions fired, by transition name",
		}, []string{"transition"}),
		operationEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "operation_events_total",
			Help:      "Operation state machine edges taken, by target state",
		}, []string{"operation", "to"}),
		plansComputed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "plans_computed_total",
			Help:      "Planner invocations, by outcome (found, not_found, already_in_goal)",
		}, []string{"outcome"}),
		planLength: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "plan_length",
			Help:      "Length of found plans",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21, 34},
		}),
		planningDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "planning_duration_seconds",
			Help:      "Wall-clock duration of planner invocations",
			Buckets:   prometheus.DefBuckets,
		}),
		replans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "replans_total",
			Help:      "Replan triggers honored",
		}),
		goalsScheduled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "goals_scheduled",
			Help:      "Goals currently waiting in the schedule",
		}),
		goalsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "goals_finished_total",
			Help:      "Goals finished, by terminal state",
		}, []string{"state"}),
		storeRoundtripError: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "store_roundtrip_errors_total",
			Help:      "State store round trips that failed and were skipped",
		}),
		engineTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "engine_ticks_total",
			Help:      "Ticks executed per engine",
		}, []string{"engine"}),
	}
	registry.MustRegister(
		m.transitionsTaken, m.operationEvents, m.plansComputed, m.planLength,
		m.planningDuration, m.replans, m.goalsScheduled, m.goalsCompleted,
		m.storeRoundtripError, m.engineTicks,
	)
	return m
}

func (m *Metrics) enabled() bool { return m != nil && m.registry != nil }

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() (http.Handler, error) {
	if !m.enabled() {
		return nil, fmt.Errorf("metrics are disabled")
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}), nil
}

// Serve exposes /metrics on the configured address; it blocks, so callers
// run it in its own goroutine.
func (m *Metrics) Serve() error {
	if !m.enabled() || m.config.Addr == "" {
		return nil
	}
	handler, err := m.Handler()
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	return http.ListenAndServe(m.config.Addr, mux)
}

func (m *Metrics) AutoTransitionTaken(name string) {
	if m.enabled() {
		m.transitionsTaken.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) OperationEvent(operation, to string) {
	if m.enabled() {
		m.operationEvents.WithLabelValues(operation, to).Inc()
	}
}

func (m *Metrics) PlanComputed(outcome string, length int, seconds float64) {
	if m.enabled() {
		m.plansComputed.WithLabelValues(outcome).Inc()
		m.planningDuration.Observe(seconds)
		if outcome == "found" {
			m.planLength.Observe(float64(length))
		}
	}
}

func (m *Metrics) Replan() {
	if m.enabled() {
		m.replans.Inc()
	}
}

func (m *Metrics) SetGoalsScheduled(n int) {
	if m.enabled() {
		m.goalsScheduled.Set(float64(n))
	}
}

func (m *Metrics) GoalFinished(state string) {
	if m.enabled() {
		m.goalsCompleted.WithLabelValues(state).Inc()
	}
}

func (m *Metrics) StoreRoundtripError() {
	if m.enabled() {
		m.storeRoundtripError.Inc()
	}
}

func (m *Metrics) EngineTick(engine string) {
	if m.enabled() {
		m.engineTicks.WithLabelValues(engine).Inc()
	}
}
