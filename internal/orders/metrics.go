package orders

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is nil-safe: a nil *Metrics records nothing.
type Metrics struct {
	created     *prometheus.CounterVec
	failures    *prometheus.CounterVec
	conflicts   *prometheus.CounterVec
	transitions *prometheus.CounterVec
	restocked   prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		created: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nilasense", Subsystem: "orders", Name: "created_total",
			Help: "Orders committed, by payment method.",
		}, []string{"payment_method"}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nilasense", Subsystem: "orders", Name: "failures_total",
			Help: "Order operations that failed, by operation and reason.",
		}, []string{"op", "reason"}),
		conflicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nilasense", Subsystem: "orders", Name: "conflict_retries_total",
			Help: "Units of work re-run after a concurrent conflict.",
		}, []string{"op"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nilasense", Subsystem: "orders", Name: "status_transitions_total",
			Help: "Committed status changes.",
		}, []string{"from", "to"}),
		restocked: f.NewCounter(prometheus.CounterOpts{
			Namespace: "nilasense", Subsystem: "orders", Name: "stock_restorations_total",
			Help: "Order items whose quantity was returned to inventory.",
		}),
	}
}

func (m *Metrics) orderCreated(pm PaymentMethod) {
	if m == nil {
		return
	}
	m.created.WithLabelValues(string(pm)).Inc()
}

func (m *Metrics) failed(op, reason string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(op, reason).Inc()
}

func (m *Metrics) conflictRetry(op string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(op).Inc()
}

func (m *Metrics) transition(from, to Status) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) restock(n int) {
	if m == nil || n == 0 {
		return
	}
	m.restocked.Add(float64(n))
}
