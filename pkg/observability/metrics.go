package observability

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aretw0/vellora/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vellora"

// Metrics holds the Prometheus collectors for one Vellora process.
type Metrics struct {
	registry *prometheus.Registry

	// Conversation metrics
	EventsTotal      *prometheus.CounterVec
	StepTransitions  *prometheus.CounterVec
	CompletionsTotal prometheus.Counter
	CommitConflicts  prometheus.Counter

	// Code metrics
	CodesGenerated *prometheus.CounterVec
	CodesConfirmed prometheus.Counter

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Store metrics
	StoreOperationDuration *prometheus.HistogramVec
}

// NewMetrics creates all collectors on a fresh registry. Go runtime and
// process collectors are registered alongside.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{registry: reg}

	m.EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Total number of inbound events by outcome",
		},
		[]string{"outcome"},
	)

	m.StepTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_transitions_total",
			Help:      "Accepted transitions by source step",
		},
		[]string{"from"},
	)

	m.CompletionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "onboardings_completed_total",
			Help:      "Total number of conversations that reached the final step",
		},
	)

	m.CommitConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commit_conflicts_total",
			Help:      "Optimistic concurrency conflicts observed while committing",
		},
	)

	m.CodesGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "codes_generated_total",
			Help:      "Activation codes generated by plan",
		},
		[]string{"plan"},
	)

	m.CodesConfirmed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "codes_confirmed_total",
			Help:      "Activation codes confirmed after payment",
		},
	)

	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	m.StoreOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Duration of session store operations in seconds",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation", "status"},
	)

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.EventsTotal,
		m.StepTransitions,
		m.CompletionsTotal,
		m.CommitConflicts,
		m.CodesGenerated,
		m.CodesConfirmed,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.StoreOperationDuration,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Hooks returns controller hooks that record transitions and completions.
// Extra hooks are chained after the metrics ones.
func (m *Metrics) Hooks(next ...domain.LifecycleHooks) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnTransition: func(ctx context.Context, ev *domain.TransitionEvent) {
			m.EventsTotal.WithLabelValues(string(ev.Outcome)).Inc()
			if ev.Outcome == domain.OutcomeAccepted {
				m.StepTransitions.WithLabelValues(ev.From.String()).Inc()
			}
			for _, h := range next {
				if h.OnTransition != nil {
					h.OnTransition(ctx, ev)
				}
			}
		},
		OnCompleted: func(ctx context.Context, rec *domain.Record) {
			m.CompletionsTotal.Inc()
			for _, h := range next {
				if h.OnCompleted != nil {
					h.OnCompleted(ctx, rec)
				}
			}
		},
		OnConflict: func(ctx context.Context, op string) {
			m.CommitConflicts.Inc()
			for _, h := range next {
				if h.OnConflict != nil {
					h.OnConflict(ctx, op)
				}
			}
		},
	}
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// ObserveStore records one store operation. Expected outcomes such as a
// missing record or a lost version race get their own status label.
func (m *Metrics) ObserveStore(operation string, err error, elapsed time.Duration) {
	m.StoreOperationDuration.WithLabelValues(operation, storeStatus(err)).Observe(elapsed.Seconds())
}

func storeStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrRecordNotFound), errors.Is(err, domain.ErrCodeNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrCodeExists),
		errors.Is(err, domain.ErrCodeUnavailable), errors.Is(err, domain.ErrInvalidTransition):
		return "conflict"
	default:
		return "error"
	}
}
