/*
Package metrics exposes Prometheus instrumentation for the points engine.

Counters and histograms are registered on a private registry so tests can
create isolated instances without collisions on the default registry.
*/
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	TransactionsTotal  *prometheus.CounterVec
	TransactionsFailed *prometheus.CounterVec
	OperationDuration  *prometheus.HistogramVec
	DisputesOpened     prometheus.Counter
	DisputesResolved   *prometheus.CounterVec
	EventsDropped      prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.TransactionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "points",
		Name:      "transactions_total",
		Help:      "Ledger transactions appended, by type.",
	}, []string{"type"})

	m.TransactionsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "points",
		Name:      "transactions_failed_total",
		Help:      "Rejected ledger operations, by error code.",
	}, []string{"code"})

	m.OperationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "points",
		Name:      "operation_duration_seconds",
		Help:      "Latency of engine operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	m.DisputesOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "points",
		Name:      "disputes_opened_total",
		Help:      "Disputes opened.",
	})

	m.DisputesResolved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "points",
		Name:      "disputes_resolved_total",
		Help:      "Disputes moved to a terminal state, by outcome.",
	}, []string{"outcome"})

	m.EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "points",
		Name:      "events_dropped_total",
		Help:      "Domain events dropped because the dispatch queue was full.",
	})

	m.registry.MustRegister(
		m.TransactionsTotal,
		m.TransactionsFailed,
		m.OperationDuration,
		m.DisputesOpened,
		m.DisputesResolved,
		m.EventsDropped,
	)
	return m
}

// ObserveOp records one engine operation with its duration and outcome.
func (m *Metrics) ObserveOp(op string, start time.Time, err error, code string) {
	m.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		m.TransactionsFailed.WithLabelValues(code).Inc()
	}
}

// Handler serves the /metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
