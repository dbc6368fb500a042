package app

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/transfa/ledger-service/internal/domain"
)

var (
	// operationsTotal counts engine operations by outcome ("ok" or the error kind).
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Total number of ledger operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_operation_duration_seconds",
			Help:    "Duration of ledger operations in seconds, including lock wait",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"operation"},
	)

	lockTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_lock_timeouts_total",
			Help: "Number of account lock acquisitions that timed out",
		},
	)

	ruleExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_rule_executions_total",
			Help: "Scheduled executions by job and outcome",
		},
		[]string{"job", "outcome"},
	)

	tickDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheduler_tick_duration_seconds",
			Help:    "Duration of scheduler ticks in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		},
		[]string{"job"},
	)
)

func recordOperation(operation string, started time.Time, err error) {
	operationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
	outcome := "ok"
	if err != nil {
		outcome = string(domain.KindOf(err))
	}
	operationsTotal.WithLabelValues(operation, outcome).Inc()
}
