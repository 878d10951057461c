// SPDX-License-Identifier: MIT

// Package metrics holds the Prometheus instruments shared across lsdvr components.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	webhookRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lsdvr_webhook_requests_total",
		Help: "Webhook deliveries by message kind and outcome",
	}, []string{"kind", "outcome"}) // kind=challenge|notification|revocation|unknown

	verificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lsdvr_webhook_verification_failures_total",
		Help: "Webhook signature verification failures by reason",
	}, []string{"reason"})

	activeCaptures = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lsdvr_captures_active",
		Help: "Number of capture processes currently running",
	})

	vodTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lsdvr_vod_transitions_total",
		Help: "VOD lifecycle transitions",
	}, []string{"from", "to"})

	postProcessDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lsdvr_postprocess_duration_seconds",
		Help:    "Duration of VOD post-processing (remux + finalize)",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1h
	}, []string{"outcome"})

	providerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lsdvr_provider_requests_total",
		Help: "Provider API requests by endpoint and outcome",
	}, []string{"endpoint", "outcome"})

	procTerminate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lsdvr_proc_terminate_total",
		Help: "Signals sent to supervised process groups",
	}, []string{"signal", "result"})

	procWait = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lsdvr_proc_wait_total",
		Help: "Observed exits of supervised process groups",
	}, []string{"result"})

	logLines = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lsdvr_log_lines_total",
		Help: "Lines written to the day-partitioned operator log",
	}, []string{"level"})

	broadcastFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lsdvr_log_broadcast_flushes_total",
		Help: "Debounced log broadcast flushes by observer and outcome",
	}, []string{"observer", "outcome"})

	notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lsdvr_notifications_total",
		Help: "Operator notifications by category and outcome",
	}, []string{"category", "outcome"})

	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lsdvr_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
	}, []string{"name"})

	breakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lsdvr_circuit_breaker_trips_total",
		Help: "Circuit breaker trips by reason",
	}, []string{"name", "reason"})
)

// IncWebhook records a webhook delivery.
func IncWebhook(kind, outcome string) {
	webhookRequests.WithLabelValues(kind, outcome).Inc()
}

// IncVerificationFailure records a rejected signature check.
func IncVerificationFailure(reason string) {
	verificationFailures.WithLabelValues(reason).Inc()
}

// CaptureStarted increments the active capture gauge.
func CaptureStarted() { activeCaptures.Inc() }

// CaptureEnded decrements the active capture gauge.
func CaptureEnded() { activeCaptures.Dec() }

// IncVODTransition records a lifecycle transition.
func IncVODTransition(from, to string) {
	vodTransitions.WithLabelValues(from, to).Inc()
}

// ObservePostProcess records how long post-processing took.
func ObservePostProcess(outcome string, d time.Duration) {
	postProcessDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// IncProviderRequest records a provider API call.
func IncProviderRequest(endpoint, outcome string) {
	providerRequests.WithLabelValues(endpoint, outcome).Inc()
}

// IncProcTerminate records a signal delivery attempt.
func IncProcTerminate(signal, result string) {
	procTerminate.WithLabelValues(signal, result).Inc()
}

// IncProcWait records a process exit classification.
func IncProcWait(result string) {
	procWait.WithLabelValues(result).Inc()
}

// IncLogLine records a persisted operator log line.
func IncLogLine(level string) {
	logLines.WithLabelValues(level).Inc()
}

// IncBroadcastFlush records a debounced broadcast flush.
func IncBroadcastFlush(observer, outcome string) {
	broadcastFlushes.WithLabelValues(observer, outcome).Inc()
}

// IncNotification records an operator notification attempt.
func IncNotification(category, outcome string) {
	notifications.WithLabelValues(category, outcome).Inc()
}

// SetCircuitBreakerState publishes the breaker state as a gauge value.
func SetCircuitBreakerState(name, state string) {
	v := 0.0
	switch state {
	case "half-open":
		v = 1
	case "open":
		v = 2
	}
	breakerState.WithLabelValues(name).Set(v)
}

// RecordCircuitBreakerTrip records a transition into the open state.
func RecordCircuitBreakerTrip(name, reason string) {
	breakerTrips.WithLabelValues(name, reason).Inc()
}
