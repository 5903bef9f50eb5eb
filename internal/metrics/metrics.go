// Package metrics exposes Prometheus collectors for the battle lifecycle,
// payment confirmations and refunds.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SweepBuckets covers sweeper and archiver runs, from a quick empty scan to
// a long refund batch.
var SweepBuckets = []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300}

// BattleMetrics collects battle service metrics. A nil *BattleMetrics is
// valid and records nothing.
type BattleMetrics struct {
	// Status transitions, labelled by target status.
	TransitionsTotal *prometheus.CounterVec

	// Payment requests created, by purpose.
	PaymentRequestsTotal *prometheus.CounterVec

	// Terminal payment outcomes, by purpose and status.
	PaymentsResolvedTotal *prometheus.CounterVec

	// Confirmations skipped because the transaction was already applied.
	PaymentDuplicatesTotal prometheus.Counter

	// Party refund attempts, by party and outcome.
	RefundsTotal *prometheus.CounterVec

	// Fees that could not be applied and were queued for refund.
	OrphanRefundsTotal *prometheus.CounterVec

	// Duration of scheduled jobs, by job.
	JobDuration *prometheus.HistogramVec
}

// NewBattleMetrics registers collectors on the default registerer.
func NewBattleMetrics(namespace string) *BattleMetrics {
	return NewBattleMetricsWithRegistry(namespace, prometheus.DefaultRegisterer)
}

// NewBattleMetricsWithRegistry registers collectors on registerer.
func NewBattleMetricsWithRegistry(namespace string, registerer prometheus.Registerer) *BattleMetrics {
	factory := promauto.With(registerer)

	return &BattleMetrics{
		TransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "battle",
				Name:      "transitions_total",
				Help:      "Battle status transitions by target status",
			},
			[]string{"status"},
		),

		PaymentRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payment",
				Name:      "requests_total",
				Help:      "Payment requests created by purpose",
			},
			[]string{"purpose"},
		),

		PaymentsResolvedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payment",
				Name:      "resolved_total",
				Help:      "Terminal payment outcomes by purpose and status",
			},
			[]string{"purpose", "status"},
		),

		PaymentDuplicatesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payment",
				Name:      "duplicates_total",
				Help:      "Signed confirmations whose transaction was already applied",
			},
		),

		RefundsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "refund",
				Name:      "attempts_total",
				Help:      "Party refund attempts by party and outcome",
			},
			[]string{"party", "outcome"},
		),

		OrphanRefundsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "refund",
				Name:      "orphans_total",
				Help:      "Collected fees queued for refund by purpose",
			},
			[]string{"purpose"},
		),

		JobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "jobs",
				Name:      "duration_seconds",
				Help:      "Scheduled job duration in seconds",
				Buckets:   SweepBuckets,
			},
			[]string{"job"},
		),
	}
}

// RecordTransition counts a status change.
func (m *BattleMetrics) RecordTransition(status string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(status).Inc()
}

// RecordPaymentRequest counts a created payment request.
func (m *BattleMetrics) RecordPaymentRequest(purpose string) {
	if m == nil {
		return
	}
	m.PaymentRequestsTotal.WithLabelValues(purpose).Inc()
}

// RecordPaymentResolved counts a terminal payment outcome.
func (m *BattleMetrics) RecordPaymentResolved(purpose, status string) {
	if m == nil {
		return
	}
	m.PaymentsResolvedTotal.WithLabelValues(purpose, status).Inc()
}

// RecordPaymentDuplicate counts a confirmation that was already applied.
func (m *BattleMetrics) RecordPaymentDuplicate() {
	if m == nil {
		return
	}
	m.PaymentDuplicatesTotal.Inc()
}

// RecordRefund counts a party refund attempt.
func (m *BattleMetrics) RecordRefund(party, outcome string) {
	if m == nil {
		return
	}
	m.RefundsTotal.WithLabelValues(party, outcome).Inc()
}

// RecordOrphan counts a fee queued for refund.
func (m *BattleMetrics) RecordOrphan(purpose string) {
	if m == nil {
		return
	}
	m.OrphanRefundsTotal.WithLabelValues(purpose).Inc()
}

// ObserveJob records how long a scheduled job took.
func (m *BattleMetrics) ObserveJob(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.JobDuration.WithLabelValues(job).Observe(d.Seconds())
}
