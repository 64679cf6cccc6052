// Package metrics provides Prometheus instrumentation for the Greenlight
// service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// itemTransitionsTotal counts item status writes that reached the store.
	// Labels: source ("manual", "automated"), status (terminal item status).
	itemTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "greenlight_item_transitions_total",
			Help: "Total number of cycle item status transitions applied",
		},
		[]string{"source", "status"},
	)

	// executionReportsTotal counts inbound worker callbacks by outcome of
	// handling them ("applied", "rejected", "not_found", "error").
	executionReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "greenlight_execution_reports_total",
			Help: "Total number of automated execution reports received",
		},
		[]string{"outcome"},
	)

	// notifyFailuresTotal counts dropped best-effort notifications.
	// Labels: channel ("bridge", "slack", "discord", "ws").
	notifyFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "greenlight_notify_failures_total",
			Help: "Total number of notification delivery failures",
		},
		[]string{"channel"},
	)

	// wsClients tracks currently connected WebSocket subscribers.
	wsClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "greenlight_ws_clients",
			Help: "Number of connected WebSocket clients",
		},
	)

	// requestDuration records REST handler latency by route and code.
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "greenlight_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"route", "code"},
	)
)

func init() {
	prometheus.MustRegister(
		itemTransitionsTotal,
		executionReportsTotal,
		notifyFailuresTotal,
		wsClients,
		requestDuration,
	)
}

// RecordItemTransition records an applied item status write.
func RecordItemTransition(source, status string) {
	itemTransitionsTotal.WithLabelValues(source, status).Inc()
}

// RecordExecutionReport records the outcome of one worker callback.
func RecordExecutionReport(outcome string) {
	executionReportsTotal.WithLabelValues(outcome).Inc()
}

// RecordNotifyFailure records a dropped best-effort notification.
func RecordNotifyFailure(channel string) {
	notifyFailuresTotal.WithLabelValues(channel).Inc()
}

// WSClientConnected adjusts the connected-clients gauge upward.
func WSClientConnected() { wsClients.Inc() }

// WSClientDisconnected adjusts the connected-clients gauge downward.
func WSClientDisconnected() { wsClients.Dec() }

// ObserveRequest records one handled HTTP request.
func ObserveRequest(route, code string, seconds float64) {
	requestDuration.WithLabelValues(route, code).Observe(seconds)
}
