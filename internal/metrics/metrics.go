package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every grip metric
const Namespace = "grip"

var (
	// RequestsSubmittedCounter tracks requests accepted by the queue
	RequestsSubmittedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "queue_requests_submitted_total",
		Help:      "Total number of requests accepted by the request queue",
	})

	// RequestsCompletedCounter tracks requests that produced a response
	RequestsCompletedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "queue_requests_completed_total",
		Help:      "Total number of requests that produced a response",
	})

	// RequestsFailedCounter tracks requests dropped after a transport error
	RequestsFailedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "queue_requests_failed_total",
		Help:      "Total number of requests dropped after a transport error",
	})

	// RequestsDroppedCounter tracks submissions discarded because the queue was shutting down
	RequestsDroppedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "queue_requests_dropped_total",
		Help:      "Total number of submissions discarded during shutdown",
	})

	// RequestsRejectedCounter tracks host calls rejected by input validation
	RequestsRejectedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "module_requests_rejected_total",
		Help:      "Total number of host requests rejected by input validation",
	})

	// CallbacksInvokedCounter tracks callbacks delivered on the host thread
	CallbacksInvokedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "queue_callbacks_invoked_total",
		Help:      "Total number of completion callbacks invoked during drains",
	})

	// InFlightGauge tracks requests currently being performed
	InFlightGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "queue_requests_in_flight",
		Help:      "Current number of requests being performed by the worker",
	})

	// PendingCompletionsGauge tracks completions waiting for a drain
	PendingCompletionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "queue_pending_completions",
		Help:      "Current number of completed requests waiting to be drained",
	})

	// LiveHandlesGauge tracks occupied response handle slots
	LiveHandlesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "module_live_response_handles",
		Help:      "Current number of response handles exposed to the host",
	})

	// RequestDurationHistogram tracks transport latency of successful requests
	RequestDurationHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "queue_request_duration_seconds",
		Help:      "Time spent performing a request, from dispatch to response body read",
		Buckets:   prometheus.DefBuckets,
	})
)
