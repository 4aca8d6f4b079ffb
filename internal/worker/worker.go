package worker

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/retailvision/trinetra/internal/eventlog"
	"github.com/retailvision/trinetra/internal/framebus"
	"github.com/retailvision/trinetra/internal/metrics"
	"github.com/retailvision/trinetra/internal/operator"
	"github.com/retailvision/trinetra/internal/tracker"
)

// reclaimIdleMS is the startup-recovery idle threshold: Reclaim runs
// against each stream with idle_ms=60000 before the consume loop starts.
const reclaimIdleMS = 60000

// checkpointInterval is how often the tracker manager's in-memory state
// gets persisted; not spec-mandated exactly, chosen to bound how much
// track history a crash between checkpoints can lose.
const checkpointInterval = 30 * time.Second

// Consumer is the subset of framebus.Bus the Worker needs to read and
// acknowledge frames.
type Consumer interface {
	EnsureGroup(ctx context.Context, cameraID, group string) error
	Consume(ctx context.Context, group, consumer string, cameraIDs []string, count int, blockMS int) ([]framebus.Entry, error)
	Ack(ctx context.Context, cameraID, group string, entryIDs []string) error
	Reclaim(ctx context.Context, cameraID, group, consumer string, idleMS int64) ([]framebus.Entry, error)
}

// Publisher is the subset of eventlog.Log the Worker needs to emit
// DetectionEvents.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, data []byte, maxRetries int) error
}

// Trackers is the subset of *tracker.Manager the Worker depends on,
// narrowed so tests can supply a fake.
type Trackers interface {
	Update(ctx context.Context, cameraID string, detections []operator.Detection) ([]tracker.TrackedDetection, error)
	Checkpoint(ctx context.Context) error
}

var (
	_ Consumer = (*framebus.Bus)(nil)
	_ Publisher = (*eventlog.Log)(nil)
	_ Trackers  = (*tracker.Manager)(nil)
)

// Worker is one Inference Worker process: a single consume -> micro-batch
// -> infer -> publish loop per process, scaled horizontally by running
// several processes in the same FrameBus consumer group.
type Worker struct {
	bus      Consumer
	log      Publisher
	detector operator.Detector
	embedder operator.Embedder
	trackers Trackers

	cameraIDs      []string
	billingCameras map[string]bool

	group         string
	consumerName  string
	batchSize     int
	detectionMode string

	acc *MicroBatchAccumulator
}

// Config bundles the wiring a Worker needs beyond its dependency
// interfaces.
type Config struct {
	CameraIDs      []string
	BillingCameras map[string]bool
	Group          string
	BatchSize      int
	BatchTimeoutMS int
	DetectionMode  string
}

func New(bus Consumer, log Publisher, detector operator.Detector, embedder operator.Embedder, trackers Trackers, cfg Config) *Worker {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	timeoutMS := cfg.BatchTimeoutMS
	if timeoutMS <= 0 {
		timeoutMS = DefaultBatchTimeoutMS
	}

	consumerName, err := os.Hostname()
	if err != nil || consumerName == "" {
		consumerName = "worker-unknown"
	}

	billing := cfg.BillingCameras
	if billing == nil {
		billing = map[string]bool{}
	}

	return &Worker{
		bus:            bus,
		log:            log,
		detector:       detector,
		embedder:       embedder,
		trackers:       trackers,
		cameraIDs:      cfg.CameraIDs,
		billingCameras: billing,
		group:          cfg.Group,
		consumerName:   consumerName,
		batchSize:      batchSize,
		detectionMode:  cfg.DetectionMode,
		acc:            NewMicroBatchAccumulator(batchSize, timeoutMS),
	}
}

// Run ensures each camera's consumer group exists, reclaims any entries
// stranded by a prior crash, then loops consume -> accumulate -> flush
// until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for _, id := range w.cameraIDs {
		if err := w.bus.EnsureGroup(ctx, id, w.group); err != nil {
			return err
		}
	}
	w.recoverPending(ctx)

	checkpointTicker := time.NewTicker(checkpointInterval)
	defer checkpointTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-checkpointTicker.C:
			if err := w.trackers.Checkpoint(ctx); err != nil {
				log.Printf("worker: tracker checkpoint failed: %v", err)
			}
		default:
		}

		blockMS := int(w.acc.TimeUntilTimeout().Milliseconds())
		if blockMS <= 0 {
			blockMS = 1
		}

		entries, err := w.bus.Consume(ctx, w.group, w.consumerName, w.cameraIDs, w.batchSize, blockMS)
		if err != nil {
			log.Printf("worker: consume failed: %v", err)
			if !sleepCtx(ctx, time.Second) {
				return nil
			}
			continue
		}

		for _, e := range entries {
			metrics.RecordFrameConsumed(e.CameraID)
		}
		w.acc.Add(entries)

		if w.acc.ReadyToFlush() {
			w.flush(ctx, w.acc.Flush())
		}
	}
}

// recoverPending reclaims entries left pending by a consumer that went
// idle for longer than reclaimIdleMS, feeding them straight into the
// accumulator so a restart doesn't strand in-flight frames.
func (w *Worker) recoverPending(ctx context.Context) {
	for _, id := range w.cameraIDs {
		entries, err := w.bus.Reclaim(ctx, id, w.group, w.consumerName, reclaimIdleMS)
		if err != nil {
			log.Printf("worker: startup reclaim failed for %s: %v", id, err)
			continue
		}
		if len(entries) == 0 {
			continue
		}
		metrics.RecordReclaim(id, len(entries))
		w.acc.Add(entries)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
