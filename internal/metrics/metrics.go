// Package metrics holds the prometheus collectors for the checkout and
// payment pipeline. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	reconciled *prometheus.CounterVec
	webhooks   *prometheus.CounterVec
	initiate   *prometheus.HistogramVec
	released   prometheus.Counter
	checkouts  *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "artmarket", Subsystem: "payment", Name: "reconciled_total",
			Help: "Reconciliation outcomes by provider.",
		}, []string{"provider", "outcome"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "artmarket", Subsystem: "payment", Name: "webhooks_total",
			Help: "Webhook deliveries by provider and handling result.",
		}, []string{"provider", "result"}),
		initiate: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "artmarket", Subsystem: "payment", Name: "initiate_duration_seconds",
			Help:    "Latency of provider session creation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "result"}),
		released: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "artmarket", Subsystem: "inventory", Name: "reservations_released_total",
			Help: "Expired artwork reservations returned to sale.",
		}),
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "artmarket", Subsystem: "order", Name: "checkouts_total",
			Help: "Checkout attempts by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.reconciled, m.webhooks, m.initiate, m.released, m.checkouts)
	return m
}

func (m *Metrics) PaymentReconciled(provider, outcome string) {
	if m == nil {
		return
	}
	m.reconciled.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) WebhookHandled(provider, result string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) ObserveInitiate(provider string, err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.initiate.WithLabelValues(provider, result).Observe(d.Seconds())
}

func (m *Metrics) ReservationsReleased(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.released.Add(float64(n))
}

func (m *Metrics) Checkout(result string) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(result).Inc()
}
