package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DesignTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "set_design_transitions_total",
		Help: "Total number of applied set design transitions",
	}, []string{"event", "to"})

	DesignTransitionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "set_design_transitions_rejected_total",
		Help: "Total number of set design transitions rejected by a guard",
	}, []string{"event"})

	PaymentAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_attempts_total",
		Help: "Total number of payment attempts begun",
	}, []string{"gateway", "target"})

	PaymentsFinalizedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_finalized_total",
		Help: "Total number of payments leaving pending",
	}, []string{"gateway", "status"})

	DuplicateCallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_duplicate_callbacks_total",
		Help: "Total number of callbacks absorbed because the attempt was already settled",
	}, []string{"gateway"})

	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlements_total",
		Help: "Total number of settlement requests by result",
	}, []string{"gateway", "result"})

	SettlementLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_latency_seconds",
		Help:    "Latency of settlement requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"gateway"})

	GatewayVerifyLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_verify_latency_seconds",
		Help:    "Latency of provider verify calls including retries",
		Buckets: prometheus.DefBuckets,
	}, []string{"gateway"})

	GatewayRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_retries_total",
		Help: "Total number of retried provider calls",
	}, []string{"gateway"})

	LockBusyTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "target_lock_busy_total",
		Help: "Total number of lock acquisitions that timed out",
	})

	LockWaitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "target_lock_wait_seconds",
		Help:    "Time spent waiting for a target lock",
		Buckets: prometheus.DefBuckets,
	})

	StaleAttemptsCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_stale_attempts_cancelled_total",
		Help: "Total number of pending attempts cancelled by the sweeper",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
