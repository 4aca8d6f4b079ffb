package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stream Ingestor metrics, one series per camera_id (bounded by the
// cameras.yaml roster, so cardinality stays low).

var (
	FramesReadTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_frames_read_total",
			Help: "Total frames successfully decoded from a camera stream",
		},
		[]string{"camera_id"},
	)

	FramesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_frames_dropped_total",
			Help: "Total frames dropped before publish, by reason",
		},
		[]string{"camera_id", "reason"}, // reason: backpressure, corrupt, sampled, burst_suppressed, encode_failed, publish_failed
	)

	AdaptiveSampleRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingest_adaptive_sample_rate_hz",
			Help: "Current effective sampling rate after adaptive throttling",
		},
		[]string{"camera_id"},
	)

	FrameBusPublishLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_framebus_publish_latency_ms",
			Help:    "Latency of XADD publish to the FrameBus",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		},
		[]string{"camera_id"},
	)

	CameraReaderUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingest_camera_reader_up",
			Help: "1 if the per-camera reader goroutine has a live connection, else 0",
		},
		[]string{"camera_id"},
	)

	ReconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_reconnects_total",
			Help: "Total RTSP reader reconnect attempts after a read failure",
		},
		[]string{"camera_id"},
	)

	IngestFrameLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_frame_latency_ms",
			Help:    "End-to-end latency from decode to FrameBus publish",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"camera_id"},
	)
)

func RecordFrameRead(cameraID string) { FramesReadTotal.WithLabelValues(cameraID).Inc() }

func RecordFrameDropped(cameraID, reason string) {
	FramesDroppedTotal.WithLabelValues(cameraID, reason).Inc()
}

func SetAdaptiveSampleRate(cameraID string, hz float64) {
	AdaptiveSampleRate.WithLabelValues(cameraID).Set(hz)
}

func RecordPublishLatency(cameraID string, ms float64) {
	FrameBusPublishLatency.WithLabelValues(cameraID).Observe(ms)
}

func RecordReconnect(cameraID string) { ReconnectsTotal.WithLabelValues(cameraID).Inc() }

func RecordIngestFrameLatency(cameraID string, ms float64) {
	IngestFrameLatency.WithLabelValues(cameraID).Observe(ms)
}

func SetCameraReaderUp(cameraID string, up bool) {
	v := 0.0
	if up {
		v = 1.0
	}
	CameraReaderUp.WithLabelValues(cameraID).Set(v)
}
