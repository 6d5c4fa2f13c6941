// Package metrics exposes the engine's Prometheus instruments. A Recorder
// plugs into the coordinator, the HTTP client, the failure simulator and the
// event pipeline through their observer interfaces.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tracewright/internal/core"
)

const namespace = "tracewright"

type Recorder struct {
	activeUsers     prometheus.Gauge
	sessionsTotal   *prometheus.CounterVec
	stepsTotal      *prometheus.CounterVec
	stepDuration    *prometheus.HistogramVec
	httpCallsTotal  *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	scenarioActive  *prometheus.GaugeVec
	scenarioStarts  *prometheus.CounterVec
	scenarioRuntime *prometheus.HistogramVec
}

// NewRecorder creates the instruments and registers them on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		activeUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_users",
			Help:      "Virtual users currently running a journey.",
		}),
		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Finished synthetic sessions by journey and end reason.",
		}, []string{"journey", "reason"}),
		stepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Executed journey steps by action and outcome.",
		}, []string{"action", "outcome"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of journey steps in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"action"}),
		httpCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_calls_total",
			Help:      "Collaborator API calls by method, path and status.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_call_duration_seconds",
			Help:      "Duration of collaborator API calls in seconds.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method", "path"}),
		scenarioActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "failure_scenario_active",
			Help:      "1 while the named failure scenario is active.",
		}, []string{"scenario"}),
		scenarioStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failure_scenario_starts_total",
			Help:      "Failure scenarios started.",
		}, []string{"scenario"}),
		scenarioRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "failure_scenario_runtime_seconds",
			Help:      "How long failure scenarios ran before stopping.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"scenario"}),
	}
	reg.MustRegister(
		r.activeUsers, r.sessionsTotal,
		r.stepsTotal, r.stepDuration,
		r.httpCallsTotal, r.httpDuration,
		r.scenarioActive, r.scenarioStarts, r.scenarioRuntime,
	)
	return r
}

// Report implements core.Reporter.
func (r *Recorder) Report(e core.Event) {
	outcome := "success"
	if !e.Success {
		outcome = "failure"
	}
	r.stepsTotal.WithLabelValues(e.Action, outcome).Inc()
	r.stepDuration.WithLabelValues(e.Action).Observe(e.Duration.Seconds())
}

func (r *Recorder) UserStarted() {
	r.activeUsers.Inc()
}

func (r *Recorder) UserFinished(s core.SessionSummary) {
	r.activeUsers.Dec()
	reason := s.EndReason
	if reason == "" {
		reason = "unknown"
	}
	r.sessionsTotal.WithLabelValues(s.Journey, reason).Inc()
}

// ObserveHTTP records one collaborator call. A status of 0 means the call
// never got a response.
func (r *Recorder) ObserveHTTP(method, path string, status int, failed bool, d time.Duration) {
	code := strconv.Itoa(status)
	if status == 0 {
		code = "error"
	}
	r.httpCallsTotal.WithLabelValues(method, normalizePath(path), code).Inc()
	r.httpDuration.WithLabelValues(method, normalizePath(path)).Observe(d.Seconds())
}

func (r *Recorder) ScenarioStarted(name string) {
	r.scenarioActive.WithLabelValues(name).Set(1)
	r.scenarioStarts.WithLabelValues(name).Inc()
}

func (r *Recorder) ScenarioStopped(name string, runTime time.Duration) {
	r.scenarioActive.WithLabelValues(name).Set(0)
	r.scenarioRuntime.WithLabelValues(name).Observe(runTime.Seconds())
}

// normalizePath collapses /products/{id} so ids do not explode label
// cardinality.
func normalizePath(path string) string {
	const products = "/products/"
	if len(path) > len(products) && path[:len(products)] == products {
		return products + "{id}"
	}
	return path
}
