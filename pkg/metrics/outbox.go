package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Delivery outcomes recorded by the outbox.
const (
	OutcomeAcked     = "acked"
	OutcomeReplayed  = "replayed"
	OutcomeDeferred  = "deferred"
	OutcomeDead      = "dead"
	OutcomeWithdrawn = "withdrawn"
)

// OutboxMetrics records ledger delivery results per company.
type OutboxMetrics struct {
	deliveries *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	backlog    *prometheus.GaugeVec
	requeued   *prometheus.CounterVec
}

// NewOutboxMetrics registers the outbox metrics on the provided registerer.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_outbox_deliveries_total",
		Help: "Ledger delivery attempts by outcome.",
	}, []string{"company", "outcome"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pos_outbox_delivery_duration_seconds",
		Help:    "Duration of ledger delivery attempts in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"company"})
	backlog := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pos_outbox_backlog",
		Help: "Outbox rows waiting per status.",
	}, []string{"company", "status"})
	requeued := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_outbox_requeued_total",
		Help: "Dead rows requeued by a manager.",
	}, []string{"company"})
	reg.MustRegister(deliveries, latency, backlog, requeued)
	return &OutboxMetrics{
		deliveries: deliveries,
		latency:    latency,
		backlog:    backlog,
		requeued:   requeued,
	}
}

// ObserveDelivery records one delivery attempt.
func (m *OutboxMetrics) ObserveDelivery(company, outcome string, duration time.Duration) {
	if m == nil || m.deliveries == nil {
		return
	}
	company = normalizeLabel(company)
	m.deliveries.WithLabelValues(company, normalizeLabel(outcome)).Inc()
	m.latency.WithLabelValues(company).Observe(duration.Seconds())
}

// SetBacklog publishes the number of rows in a status.
func (m *OutboxMetrics) SetBacklog(company, status string, count int64) {
	if m == nil || m.backlog == nil {
		return
	}
	m.backlog.WithLabelValues(normalizeLabel(company), normalizeLabel(status)).Set(float64(count))
}

// IncRequeued counts a manual requeue.
func (m *OutboxMetrics) IncRequeued(company string) {
	if m == nil || m.requeued == nil {
		return
	}
	m.requeued.WithLabelValues(normalizeLabel(company)).Inc()
}
