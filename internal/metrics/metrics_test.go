package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.PaymentReconciled("stripe", "success")
	m.PaymentReconciled("stripe", "success")
	m.PaymentReconciled("pesapal", "duplicate")
	m.ReservationsReleased(3)
	m.ReservationsReleased(0)
	m.WebhookHandled("stripe", "signature_failed")
	m.Checkout("ok")
	m.ObserveInitiate("dpo", errors.New("timeout"), 2*time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.reconciled.WithLabelValues("stripe", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconciled.WithLabelValues("pesapal", "duplicate")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.released))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.webhooks.WithLabelValues("stripe", "signature_failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.checkouts.WithLabelValues("ok")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.initiate))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.PaymentReconciled("stripe", "success")
	m.WebhookHandled("stripe", "ok")
	m.ObserveInitiate("stripe", nil, time.Second)
	m.ReservationsReleased(1)
	m.Checkout("ok")
}
