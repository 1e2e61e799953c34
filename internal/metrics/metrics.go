// Package metrics содержит счётчики Prometheus сервиса. Все методы безопасны
// для nil-получателя, поэтому компоненты можно собирать без метрик в тестах.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "billing_sync"

// Metrics набор метрик, зарегистрированных в одном реестре.
type Metrics struct {
	webhookEvents        *prometheus.CounterVec
	webhookDuration      *prometheus.HistogramVec
	gateDecisions        *prometheus.CounterVec
	sessionInvalidations prometheus.Counter
	planChanges          *prometheus.CounterVec
}

// New регистрирует метрики в reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		webhookEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Webhook events by event type, intent and outcome.",
		}, []string{"event_type", "intent", "outcome"}),
		webhookDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "duration_seconds",
			Help:      "Webhook processing duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),
		gateDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "decisions_total",
			Help:      "Plan gate decisions by result and whether the cycle was forced.",
		}, []string{"result", "forced"}),
		sessionInvalidations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "invalidations_total",
			Help:      "Sessions deleted after plan changes.",
		}),
		planChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "plan",
			Name:      "changes_total",
			Help:      "Plan writes by intent and whether a user row was updated.",
		}, []string{"intent", "matched"}),
	}
}

// ObserveWebhook учитывает обработанное событие.
func (m *Metrics) ObserveWebhook(eventType, intent, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventType, intent, outcome).Inc()
	m.webhookDuration.WithLabelValues(eventType).Observe(took.Seconds())
}

// GateDecision учитывает итог проверки тарифа.
func (m *Metrics) GateDecision(result string, forced bool) {
	if m == nil {
		return
	}
	f := "false"
	if forced {
		f = "true"
	}
	m.gateDecisions.WithLabelValues(result, f).Inc()
}

// SessionsInvalidated учитывает удалённые сессии.
func (m *Metrics) SessionsInvalidated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionInvalidations.Add(float64(n))
}

// PlanChanged учитывает запись тарифа.
func (m *Metrics) PlanChanged(intent string, matched bool) {
	if m == nil {
		return
	}
	v := "true"
	if !matched {
		v = "false"
	}
	m.planChanges.WithLabelValues(intent, v).Inc()
}
