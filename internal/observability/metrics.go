package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fd",
		Name:      "frames_processed_total",
		Help:      "Total number of stream frames processed by C9",
	}, []string{"org"})

	FacesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fd",
		Name:      "faces_detected_total",
		Help:      "Total number of faces detected by C1",
	}, []string{"org"})

	FacesRecognized = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fd",
		Name:      "faces_recognized_total",
		Help:      "Total number of faces matched against the identity index (excluding Unknown)",
	}, []string{"org"})

	AttendanceMarked = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fd",
		Name:      "attendance_marked_total",
		Help:      "Total number of admitted attendance events",
	}, []string{"org"})

	AttendanceBlocked = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fd",
		Name:      "attendance_blocked_total",
		Help:      "Total number of sightings the admission gate refused",
	}, []string{"org", "code"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fd",
		Name:      "inference_duration_seconds",
		Help:      "Duration of ML inference stages (detect, embed)",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fd",
		Name:      "queue_depth",
		Help:      "Number of pending write-through attendance messages",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fd",
		Name:      "active_sessions",
		Help:      "Number of currently connected streaming recognizer sessions",
	})

	EnrollmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fd",
		Name:      "enrollments_total",
		Help:      "Total number of successful C8 enrollments",
	}, []string{"org"})

	ReconcilerEnrolled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fd",
		Name:      "reconciler_enrolled_total",
		Help:      "Total number of identities enrolled by C10's directory reconciler",
	}, []string{"org"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fd",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fd",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
