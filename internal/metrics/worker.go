package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Inference Worker metrics. Labels stay low-cardinality: camera_id (bounded
// roster) and model (detector/embedder), never track_id or customer_id.

var (
	InferenceLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "worker_inference_latency_ms",
			Help:    "Detector/embedder inference latency in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2000},
		},
		[]string{"model"}, // "detector", "embedder"
	)

	BatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "worker_micro_batch_size",
			Help:    "Number of frames accumulated per inference batch",
			Buckets: []float64{1, 2, 4, 8, 16, 32},
		},
		[]string{"camera_id"},
	)

	DetectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_detections_total",
			Help: "Total detections produced after confidence filtering",
		},
		[]string{"camera_id"},
	)

	FramesConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_frames_consumed_total",
			Help: "Total frames read off the FrameBus consumer group",
		},
		[]string{"camera_id"},
	)

	FramesAckedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_frames_acked_total",
			Help: "Total FrameBus entries XACKed after successful processing",
		},
		[]string{"camera_id"},
	)

	PendingBacklog = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_pending_backlog",
			Help: "FrameBus XPENDING depth observed for this worker's consumer group",
		},
		[]string{"camera_id"},
	)

	ReclaimedEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_reclaimed_entries_total",
			Help: "Total FrameBus entries reclaimed via XCLAIM after consumer idle timeout",
		},
		[]string{"camera_id"},
	)

	PublishErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "worker_publish_errors_total",
			Help: "Total DetectionEvent publishes that exhausted retries (accepted loss)",
		},
	)

	BatchFillRatio = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "worker_batch_fill_ratio",
			Help:    "Fraction of BATCH_SIZE actually filled when a micro-batch flushed",
			Buckets: []float64{0.1, 0.25, 0.5, 0.75, 1.0},
		},
	)

	// GPU utilization gauges: the shipped operator backends (mock, ONNX
	// CPU execution provider) don't expose real VRAM/utilization
	// counters, so these stay at 0 unless a future CUDA-backed operator
	// sets them. Kept so the metric names exist on the scrape endpoint
	// regardless of backend.
	GPUVRAMUsedMB = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_gpu_vram_used_mb",
			Help: "GPU VRAM used by the inference operator, if the backend reports it",
		},
	)

	GPUUtilizationPct = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_gpu_utilization_pct",
			Help: "GPU utilization percent, if the backend reports it",
		},
	)
)

func RecordInferenceLatency(model string, ms float64) {
	InferenceLatency.WithLabelValues(model).Observe(ms)
}

func RecordBatchSize(cameraID string, n int) {
	BatchSize.WithLabelValues(cameraID).Observe(float64(n))
}

func RecordDetections(cameraID string, n int) {
	DetectionsTotal.WithLabelValues(cameraID).Add(float64(n))
}

func RecordFrameConsumed(cameraID string) { FramesConsumedTotal.WithLabelValues(cameraID).Inc() }
func RecordFrameAcked(cameraID string)    { FramesAckedTotal.WithLabelValues(cameraID).Inc() }

func SetPendingBacklog(cameraID string, depth int) {
	PendingBacklog.WithLabelValues(cameraID).Set(float64(depth))
}

func RecordReclaim(cameraID string, n int) {
	ReclaimedEntriesTotal.WithLabelValues(cameraID).Add(float64(n))
}

func RecordPublishError()                { PublishErrorsTotal.Inc() }
func RecordBatchFillRatio(ratio float64) { BatchFillRatio.Observe(ratio) }
