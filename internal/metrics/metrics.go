// Package metrics exposes Prometheus collectors for decisions, model
// calls, dispatches, HTTP requests, session store operations and
// dependency health.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nugget/alfred/internal/buildinfo"
	"github.com/nugget/alfred/internal/engine"
	"github.com/nugget/alfred/internal/integration"
)

const namespace = "alfred"

// Metrics owns a registry and the collectors registered on it. It
// implements [engine.Observer] and [integration.DispatchObserver].
type Metrics struct {
	registry *prometheus.Registry

	decisions        *prometheus.CounterVec
	decisionFailures *prometheus.CounterVec
	repairs          *prometheus.CounterVec
	modelCalls       *prometheus.HistogramVec
	dispatches       *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	storeOps         *prometheus.CounterVec
	dependencyUp     *prometheus.GaugeVec
}

// New creates the collectors on a fresh registry, together with the Go
// runtime and process collectors and a build info gauge.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Decisions produced, by engine and intent.",
		}, []string{"engine", "intent"}),
		decisionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decision_failures_total",
			Help:      "Requests that ended without a decision, by engine and failure kind.",
		}, []string{"engine", "kind"}),
		repairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repair_attempts_total",
			Help:      "Repair calls made, by engine and whether they produced a decision.",
		}, []string{"engine", "result"}),
		modelCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_call_duration_seconds",
			Help:      "Model call latency, by engine, stage and result.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}, []string{"engine", "stage", "result"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Commands dispatched to integrations, by tool and status.",
		}, []string{"tool", "status"}),
		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Integration execute latency, by tool.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by method, route and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency, by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		storeOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_store_operations_total",
			Help:      "Session store operations, by operation and result.",
		}, []string{"op", "result"}),
		dependencyUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dependency_up",
			Help:      "Whether a watched dependency answered its last probe (1) or not (0).",
		}, []string{"service"}),
	}

	buildInfo := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "build_info",
		Help:        "Build metadata; always 1.",
		ConstLabels: prometheus.Labels{"version": buildinfo.Version, "commit": buildinfo.GitCommit},
	})
	buildInfo.Set(1)

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		buildInfo,
		m.decisions,
		m.decisionFailures,
		m.repairs,
		m.modelCalls,
		m.dispatches,
		m.dispatchDuration,
		m.httpRequests,
		m.httpDuration,
		m.storeOps,
		m.dependencyUp,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ModelInvoked implements [engine.Observer].
func (m *Metrics) ModelInvoked(inv engine.Invocation) {
	m.modelCalls.WithLabelValues(inv.Engine, string(inv.Stage), result(inv.Err)).
		Observe(inv.Duration.Seconds())
}

// DecisionMade implements [engine.Observer].
func (m *Metrics) DecisionMade(out engine.Outcome) {
	if out.RepairAttempted {
		m.repairs.WithLabelValues(out.Engine, result(out.Err)).Inc()
	}
	if out.Err != nil {
		m.decisionFailures.WithLabelValues(out.Engine, FailureKind(out.Err)).Inc()
		return
	}
	m.decisions.WithLabelValues(out.Engine, out.Intent).Inc()
}

// Dispatched implements [integration.DispatchObserver].
func (m *Metrics) Dispatched(tool string, resp *integration.CommandResponse, err error, elapsed time.Duration) {
	status := "failed"
	if err == nil && resp != nil {
		status = resp.Status
	}
	m.dispatches.WithLabelValues(tool, status).Inc()
	m.dispatchDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// ObserveHTTP records one served request. route is the mux pattern, not
// the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveHTTP(method, route string, code int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveStoreOp records one session store operation.
func (m *Metrics) ObserveStoreOp(op string, err error) {
	m.storeOps.WithLabelValues(op, result(err)).Inc()
}

// DependencyChanged records a dependency going up or down. Its signature
// matches the connwatch change callback.
func (m *Metrics) DependencyChanged(service string, up bool, _ error) {
	v := 0.0
	if up {
		v = 1
	}
	m.dependencyUp.WithLabelValues(service).Set(v)
}

// FailureKind names the failure class of an engine error for labels.
func FailureKind(err error) string {
	switch {
	case errors.Is(err, engine.ErrRepairFailed):
		return "repair_failed"
	case errors.Is(err, engine.ErrSchemaValidation):
		return "schema_validation"
	case errors.Is(err, engine.ErrMalformedOutput):
		return "malformed_output"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "backend"
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

var (
	_ engine.Observer              = (*Metrics)(nil)
	_ integration.DispatchObserver = (*Metrics)(nil)
)
