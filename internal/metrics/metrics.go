// Package metrics exposes Prometheus instruments for the capture loop and
// the status server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Iteration outcomes.
const (
	OutcomeDelivered     = "delivered"
	OutcomeDeliveryError = "delivery_failed"
	OutcomeCaptureError  = "capture_failed"
	OutcomeEncodeError   = "encode_failed"
	OutcomeUnchanged     = "unchanged"
	OutcomePanic         = "panic"
)

var (
	// Iterations counts loop iterations by outcome.
	Iterations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autocapture_iterations_total",
			Help: "Capture loop iterations by outcome",
		},
		[]string{"outcome"},
	)

	// StageDuration times each pipeline stage.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autocapture_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"stage"},
	)

	// UploadBytes tracks encoded upload sizes.
	UploadBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "autocapture_upload_bytes",
			Help:    "Size of encoded images sent to the webhook",
			Buckets: prometheus.ExponentialBuckets(64<<10, 2, 10),
		},
	)

	// OversizeUploads counts encodings that could not meet the size ceiling.
	OversizeUploads = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "autocapture_oversize_uploads_total",
			Help: "Encodings still above the size ceiling at the floor quality",
		},
	)

	// Locations counts lookups by whether they succeeded.
	Locations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autocapture_location_lookups_total",
			Help: "Geolocation lookups by result",
		},
		[]string{"result"},
	)

	// BreakerState reports the location breaker (0 closed, 1 open, 2 half-open).
	BreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "autocapture_location_breaker_state",
			Help: "Location circuit breaker state",
		},
	)

	// Captures mirrors the session counter.
	Captures = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "autocapture_session_captures",
			Help: "Completed captures in the current session",
		},
	)

	// WSClients is the number of connected status websocket clients.
	WSClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "autocapture_ws_clients",
			Help: "Connected status websocket clients",
		},
	)
)

// ObserveLocation records a lookup result.
func ObserveLocation(ok bool) {
	if ok {
		Locations.WithLabelValues("success").Inc()
		return
	}
	Locations.WithLabelValues("failure").Inc()
}
