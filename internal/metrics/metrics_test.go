package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveWebhook("invoice.paid", "activate", "ok", 10*time.Millisecond)
	m.ObserveWebhook("invoice.paid", "activate", "ok", 10*time.Millisecond)
	m.GateDecision("granted", true)
	m.SessionsInvalidated(3)
	m.SessionsInvalidated(0)
	m.PlanChanged("deactivate", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.webhookEvents.WithLabelValues("invoice.paid", "activate", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.gateDecisions.WithLabelValues("granted", "true")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.sessionInvalidations))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.planChanges.WithLabelValues("deactivate", "false")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveWebhook("x", "ignore", "ok", time.Second)
		m.GateDecision("redirecting", false)
		m.SessionsInvalidated(1)
		m.PlanChanged("activate", true)
	})
}
