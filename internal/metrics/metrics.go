package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the notifier
type Metrics struct {
	DeliveriesTotal             *prometheus.CounterVec
	NotificationsProcessedTotal *prometheus.CounterVec
	ClaimConflictsTotal         prometheus.Counter
	DueBacklog                  prometheus.Gauge
	ProcessDurationSeconds      prometheus.Histogram

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		DeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifier_deliveries_total",
				Help: "Total number of per-recipient delivery attempts",
			},
			[]string{"channel", "status"},
		),
		NotificationsProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifier_notifications_processed_total",
				Help: "Total number of scheduled notifications processed",
			},
			[]string{"outcome"},
		),
		ClaimConflictsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "notifier_claim_conflicts_total",
				Help: "Total number of claim attempts lost to a concurrent invocation",
			},
		),
		DueBacklog: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "notifier_due_backlog",
				Help: "Number of due notifications found by the last scan",
			},
		),
		ProcessDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "notifier_process_duration_seconds",
				Help:    "Duration of single-notification process runs",
				Buckets: prometheus.DefBuckets,
			},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.DeliveriesTotal,
		m.NotificationsProcessedTotal,
		m.ClaimConflictsTotal,
		m.DueBacklog,
		m.ProcessDurationSeconds,
	)

	return m
}

// Registry returns the underlying Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
