// Package metrics exposes Prometheus collectors for vault operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "vault"

var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "core",
			Name:      "operations_total",
			Help:      "Vault operations by name and outcome",
		},
		[]string{"operation", "outcome"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "core",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vault operations",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"operation"},
	)

	settlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "results_total",
			Help:      "Settlement calls by result",
		},
		[]string{"result"},
	)

	notifyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "failures_total",
			Help:      "Events that could not be delivered to every sink",
		},
		[]string{"kind"},
	)

	pendingWithdrawals = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "withdrawal",
			Name:      "pending",
			Help:      "Withdrawal intents without a recorded transfer outcome",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests",
		},
		[]string{"method", "route"},
	)
)

// Outcome labels.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// ObserveOperation records one finished vault operation.
func ObserveOperation(operation string, err error, started time.Time) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	operationsTotal.WithLabelValues(operation, outcome).Inc()
	operationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// ObserveSettlement counts one settlement result.
func ObserveSettlement(result string) {
	settlementsTotal.WithLabelValues(result).Inc()
}

// NotifyFailed counts an event that failed delivery.
func NotifyFailed(kind string) {
	notifyFailures.WithLabelValues(kind).Inc()
}

// SetPendingWithdrawals sets the pending withdrawal gauge.
func SetPendingWithdrawals(n int) {
	pendingWithdrawals.Set(float64(n))
}

// ObserveHTTP records one served HTTP request.
func ObserveHTTP(method, route, status string, elapsed time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
