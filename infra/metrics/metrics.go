// Package metrics exposes prometheus collectors for the order service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stockbook"

type Metrics struct {
	Registry *prometheus.Registry

	OrdersAdded      *prometheus.CounterVec
	OrdersRejected   prometheus.Counter
	Executions       prometheus.Counter
	ExecutedQuantity prometheus.Counter
	MatchDuration    prometheus.Histogram
	Reclaimed        prometheus.Counter
	OutboxErrors     prometheus.Counter
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		OrdersAdded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_added_total",
			Help:      "Orders added to the book, by side.",
		}, []string{"side"}),
		OrdersRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_rejected_total",
			Help:      "Orders refused because no order slot was free.",
		}),
		Executions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Execution records emitted by matching.",
		}),
		ExecutedQuantity: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executed_quantity_total",
			Help:      "Sum of executed quantities.",
		}),
		MatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "match_duration_seconds",
			Help:      "Wall time of one matching pass, gate wait excluded.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
		}),
		Reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reclaimed_orders_total",
			Help:      "Order slots returned to the arena.",
		}),
		OutboxErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_errors_total",
			Help:      "Failed outbox appends.",
		}),
	}
	m.Registry.MustRegister(
		m.OrdersAdded,
		m.OrdersRejected,
		m.Executions,
		m.ExecutedQuantity,
		m.MatchDuration,
		m.Reclaimed,
		m.OutboxErrors,
	)
	return m
}

// Gauge registers a gauge read from fn at scrape time.
func (m *Metrics) Gauge(name, help string, fn func() float64) {
	m.Registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Counter registers a monotonic counter read from fn at scrape time.
func (m *Metrics) Counter(name, help string, fn func() float64) {
	m.Registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
