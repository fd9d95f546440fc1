// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks bridge HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memhub_bridge_request_duration_seconds",
			Help:    "Bridge HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total bridge HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memhub_bridge_requests_total",
			Help: "Total bridge HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// BackendCallDuration tracks calls made to the Memory Hub backend.
	BackendCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memhub_backend_call_duration_seconds",
			Help:    "Backend call duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"op", "status"},
	)

	// StreamsTotal tracks chat streams by outcome.
	StreamsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memhub_chat_streams_total",
			Help: "Chat streams by outcome",
		},
		[]string{"outcome"},
	)

	// StreamsActive tracks chat streams currently being read.
	StreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "memhub_chat_streams_active",
			Help: "Number of chat streams being read",
		},
	)

	// StreamFramesTotal tracks decoded stream frames by event type.
	StreamFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memhub_stream_frames_total",
			Help: "Decoded stream frames by event type",
		},
		[]string{"type"},
	)

	// StreamFramesDropped tracks malformed or unknown frames.
	StreamFramesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "memhub_stream_frames_dropped_total",
			Help: "Stream frames dropped because they could not be decoded",
		},
	)

	// PartialSavesTotal tracks partial-save attempts.
	PartialSavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memhub_partial_saves_total",
			Help: "Partial-save attempts by reason and status",
		},
		[]string{"reason", "status"},
	)

	// SSEConnectionsActive tracks active bridge SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "memhub_bridge_sse_connections_active",
			Help: "Number of active bridge SSE connections",
		},
	)

	// AuthFailuresTotal tracks sign-outs caused by 401/403 responses.
	AuthFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "memhub_auth_failures_total",
			Help: "Backend responses that forced a sign-out",
		},
	)
)

// RecordRequest records metrics for a bridge HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordBackendCall records metrics for a backend call.
func RecordBackendCall(op, status string, duration float64) {
	BackendCallDuration.WithLabelValues(op, status).Observe(duration)
}

// RecordStream records the outcome of a chat stream.
func RecordStream(outcome string) {
	StreamsTotal.WithLabelValues(outcome).Inc()
}

// RecordFrame records a decoded stream frame.
func RecordFrame(eventType string) {
	StreamFramesTotal.WithLabelValues(eventType).Inc()
}

// RecordDroppedFrame records a frame that could not be decoded.
func RecordDroppedFrame() {
	StreamFramesDropped.Inc()
}

// RecordPartialSave records a partial-save attempt.
func RecordPartialSave(reason, status string) {
	PartialSavesTotal.WithLabelValues(reason, status).Inc()
}

// IncrementStreams increments the active stream count.
func IncrementStreams() {
	StreamsActive.Inc()
}

// DecrementStreams decrements the active stream count.
func DecrementStreams() {
	StreamsActive.Dec()
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}

// RecordAuthFailure records a forced sign-out.
func RecordAuthFailure() {
	AuthFailuresTotal.Inc()
}
