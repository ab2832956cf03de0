// Package metrics exposes the Prometheus counters scraped from /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hanko-field/orderflow/internal/services"
)

const namespace = "orderflow"

// Recorder implements the order lifecycle and auth verification hooks.
type Recorder struct {
	gatherer prometheus.Gatherer

	ordersCreated      prometheus.Counter
	transitions        *prometheus.CounterVec
	stockRestoreFailed *prometheus.CounterVec
	sweepOrderFailed   *prometheus.CounterVec
	verifications      *prometheus.CounterVec
	verifyLatency      *prometheus.HistogramVec
}

var _ services.OrderMetrics = (*Recorder)(nil)

// New registers the collectors on a fresh registry that also carries the Go and process
// collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers the collectors on reg and serves them from gatherer.
func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		gatherer: gatherer,
		ordersCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Total number of orders successfully created.",
		}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "Order status transitions by origin and target status and by source.",
		}, []string{"from", "to", "source"}),
		stockRestoreFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_restore_failures_total",
			Help:      "Stock increments that failed after a cancellation.",
		}, []string{"product_id"}),
		sweepOrderFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "automation_order_failures_total",
			Help:      "Orders that an automation sweep failed to advance.",
		}, []string{"sweep"}),
		verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_verifications_total",
			Help:      "Token verification outcomes.",
		}, []string{"kind", "result", "reason"}),
		verifyLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "auth_verification_seconds",
			Help:      "Token verification latency.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 7),
		}, []string{"kind"}),
	}
}

func (r *Recorder) OrderCreated() {
	r.ordersCreated.Inc()
}

func (r *Recorder) OrderTransitioned(from, to services.OrderStatus, source string) {
	r.transitions.WithLabelValues(from.String(), to.String(), source).Inc()
}

// StockRestoreFailed is labelled by product; the catalogue is small enough that cardinality
// stays bounded.
func (r *Recorder) StockRestoreFailed(productID string) {
	r.stockRestoreFailed.WithLabelValues(productID).Inc()
}

func (r *Recorder) SweepOrderFailed(sweep string) {
	r.sweepOrderFailed.WithLabelValues(sweep).Inc()
}

// RecordVerification counts an auth verification outcome.
func (r *Recorder) RecordVerification(kind string, success bool, reason string, duration time.Duration) {
	result := "failure"
	if success {
		result = "success"
	}
	r.verifications.WithLabelValues(kind, result, reason).Inc()
	r.verifyLatency.WithLabelValues(kind).Observe(duration.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
