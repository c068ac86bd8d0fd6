// Package metrics holds the Prometheus collectors for the service.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Shivanand-hulikatti/event-registration/internal/apperr"
)

// Metrics groups the service's collectors.
type Metrics struct {
	operations      *prometheus.CounterVec
	ordersCreated   prometheus.Counter
	reconciliations *prometheus.CounterVec
	published       prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "registration_operations_total",
			Help: "Registration operations by operation and result.",
		}, []string{"op", "result"}),
		ordersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payment_orders_created_total",
			Help: "Payment orders created.",
		}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_reconciliations_total",
			Help: "Provider callbacks by reported outcome and result.",
		}, []string{"outcome", "result"}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outbox_messages_published_total",
			Help: "Outbox messages published to the broker.",
		}),
	}
	reg.MustRegister(m.operations, m.ordersCreated, m.reconciliations, m.published)
	return m
}

// NewNop returns collectors registered nowhere.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// Result is the label value for err: "ok" or the lower-cased error kind.
func Result(err error) string {
	if err == nil {
		return "ok"
	}
	return strings.ToLower(string(apperr.KindOf(err)))
}

// Operation counts one gateway operation.
func (m *Metrics) Operation(op string, err error) {
	m.operations.WithLabelValues(op, Result(err)).Inc()
}

// OrderCreated counts a new payment order.
func (m *Metrics) OrderCreated() {
	m.ordersCreated.Inc()
}

// Reconciliation counts one provider callback. result is "ok", "replayed",
// "duplicate" or an error kind.
func (m *Metrics) Reconciliation(outcome, result string) {
	m.reconciliations.WithLabelValues(outcome, result).Inc()
}

// Published counts messages handed to the broker.
func (m *Metrics) Published(n int) {
	m.published.Add(float64(n))
}
