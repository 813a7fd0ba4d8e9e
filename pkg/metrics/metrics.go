package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Items handled by the workflow, by final status.
	ItemProcessedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailflow_items_processed_total",
			Help: "Total number of items handled by the workflow",
		},
		[]string{"status"}, // succeeded, analysis_failed, skipped
	)

	// One increment per model attempt.
	ModelAttemptCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailflow_model_attempts_total",
			Help: "AI completion attempts by model and outcome",
		},
		[]string{"model", "outcome"}, // success, empty, unavailable, error
	)

	AICallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailflow_ai_call_latency_ms",
			Help:    "AI completion call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~100s
		},
		[]string{"model", "outcome"},
	)

	DeliveryAttemptCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailflow_delivery_attempts_total",
			Help: "Notification delivery attempts by tier, transport and outcome",
		},
		[]string{"tier", "transport", "outcome"}, // delivered, queued, paused, failed
	)

	CalendarOutcomeCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailflow_calendar_outcomes_total",
			Help: "Calendar reconciliation outcomes per event request",
		},
		[]string{"status"}, // created, exists, failed
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mailflow_run_duration_seconds",
			Help:    "Duration of a full workflow run",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1h
		},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailflow_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation"},
	)

	SlowQueryCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailflow_db_slow_queries_total",
			Help: "Queries slower than the configured threshold",
		},
	)

	OutboxEventCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailflow_outbox_events_total",
			Help: "Outbox events handled by the dispatcher",
		},
		[]string{"routing_key", "outcome"},
	)

	OutboxBacklog = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mailflow_outbox_backlog",
			Help: "Outbox events still pending after the last dispatch",
		},
	)
)

func IncrementItemProcessed(status string) {
	ItemProcessedCount.WithLabelValues(status).Inc()
}

func RecordModelAttempt(model, outcome string, duration time.Duration) {
	ModelAttemptCount.WithLabelValues(model, outcome).Inc()
	AICallLatency.WithLabelValues(model, outcome).Observe(float64(duration.Milliseconds()))
}

func IncrementDeliveryAttempt(tier, transport, outcome string) {
	DeliveryAttemptCount.WithLabelValues(tier, transport, outcome).Inc()
}

func IncrementCalendarOutcome(status string) {
	CalendarOutcomeCount.WithLabelValues(status).Inc()
}

func RecordRunDuration(duration time.Duration) {
	RunDuration.Observe(duration.Seconds())
}

// RecordSlowQuery records a query that exceeded the slow threshold.
func RecordSlowQuery(operation string, duration time.Duration) {
	SlowQueryCount.Inc()
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func IncrementOutboxEvent(routingKey, outcome string) {
	OutboxEventCount.WithLabelValues(routingKey, outcome).Inc()
}

func SetOutboxBacklog(n int64) {
	OutboxBacklog.Set(float64(n))
}
