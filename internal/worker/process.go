package worker

import (
	"bytes"
	"context"
	"image/jpeg"
	"log"
	"strconv"
	"time"

	"github.com/retailvision/trinetra/internal/eventlog"
	"github.com/retailvision/trinetra/internal/events"
	"github.com/retailvision/trinetra/internal/framebus"
	"github.com/retailvision/trinetra/internal/metrics"
	"github.com/retailvision/trinetra/internal/operator"
)

// maxEmbedSubBatch is the embedder sub-batch ceiling: crops are chunked
// to at most this many per Embed call.
const maxEmbedSubBatch = 16

// operatorTimeout is the hard inference deadline; exceeding it is
// treated the same as an operator OOM.
const operatorTimeout = 500 * time.Millisecond

// eventPublishTimeout bounds how long a single DetectionEvent publish
// attempt (including its internal retries) may take before the worker
// gives up and acks anyway.
const eventPublishTimeout = 2 * time.Second

const publishMaxRetries = 3

// faceLabel is the detector label treated as face-crop eligible; the
// shipped detectors (internal/operator) also emit non-face labels such
// as "bag" that have no embedding to compute.
const faceLabel = "person"

// frameWork carries one flushed frame through detect -> embed -> publish,
// plus the embedding the embed stage assigns to each of its detections
// (parallel to detections, not folded into operator.Detection, since that
// type is the operator's own contract and shouldn't grow a worker-only
// field).
type frameWork struct {
	entry      framebus.Entry
	detections []operator.Detection
	embeddings [][]float32 // nil entry means "no embedding for this detection"
	dropped    bool        // decode failure: ack silently, no event
}

// flush runs one micro-batch through detect -> crop -> embed -> track ->
// publish -> ack. The detector is invoked once across the whole batch
// (one tensor assembled from every surviving frame) rather than once
// per frame, so the GPU-efficiency point of accumulating a micro-batch
// upstream actually reaches the operator call.
func (w *Worker) flush(ctx context.Context, batch []framebus.Entry) {
	metrics.RecordBatchFillRatio(float64(len(batch)) / float64(w.batchSize))

	work := make([]*frameWork, 0, len(batch))
	var frames [][]byte
	var cameraIDs []string
	var detectable []int // index into work for each entry in frames/cameraIDs

	for _, e := range batch {
		fw := &frameWork{entry: e}
		work = append(work, fw)

		if _, err := jpeg.Decode(bytes.NewReader(e.FrameData)); err != nil {
			fw.dropped = true
			continue
		}

		detectable = append(detectable, len(work)-1)
		frames = append(frames, e.FrameData)
		cameraIDs = append(cameraIDs, e.CameraID)
	}

	if len(frames) > 0 {
		detsByFrame, err := w.detectWithRecovery(ctx, frames, cameraIDs)
		if err != nil {
			log.Printf("worker: detector exhausted retry for %d-frame batch, emitting empty detections: %v", len(frames), err)
			detsByFrame = make([][]operator.Detection, len(frames))
		}
		for i, workIdx := range detectable {
			fw := work[workIdx]
			fw.detections = detsByFrame[i]
			fw.embeddings = make([][]float32, len(fw.detections))
		}
	}

	w.embedFaces(ctx, work)

	for _, fw := range work {
		if fw.dropped {
			w.ackOne(ctx, fw.entry)
			continue
		}
		w.publishAndAck(ctx, fw)
	}
}

// detectWithRecovery invokes the detector across the whole batch with a
// hard timeout. If it fails or times out (operator.OOM path), it
// retries once against the same batch; if that also fails every frame
// in the batch still gets an (empty) DetectionEvent rather than being
// silently lost.
func (w *Worker) detectWithRecovery(ctx context.Context, frames [][]byte, cameraIDs []string) ([][]operator.Detection, error) {
	dets, err := w.runDetect(ctx, frames, cameraIDs)
	if err == nil {
		return dets, nil
	}
	log.Printf("worker: detector failed for %d-frame batch, retrying once: %v", len(frames), err)

	dets, err = w.runDetect(ctx, frames, cameraIDs)
	if err != nil {
		return nil, err
	}
	return dets, nil
}

func (w *Worker) runDetect(ctx context.Context, frames [][]byte, cameraIDs []string) ([][]operator.Detection, error) {
	start := time.Now()
	detCtx, cancel := context.WithTimeout(ctx, operatorTimeout)
	defer cancel()

	dets, err := w.detector.DetectBatch(detCtx, frames, cameraIDs)
	metrics.RecordInferenceLatency("detector", float64(time.Since(start).Milliseconds()))
	return dets, err
}

// embedFaces crops every face-eligible detection across the whole
// flushed batch, chunks crops into sub-batches of at most
// maxEmbedSubBatch, and writes each embedding back onto its source
// frameWork in the same slot as its detection.
func (w *Worker) embedFaces(ctx context.Context, work []*frameWork) {
	type ref struct {
		fwIdx, detIdx int
	}
	var crops [][]float32
	var refs []ref

	for fi, fw := range work {
		if fw.dropped {
			continue
		}
		img, err := jpeg.Decode(bytes.NewReader(fw.entry.FrameData))
		if err != nil {
			continue
		}
		for di, d := range fw.detections {
			if d.Label != faceLabel {
				continue
			}
			crop := operator.CropRegion(img, d.BBox)
			crops = append(crops, operator.CropToNormalizedCHW(crop))
			refs = append(refs, ref{fi, di})
		}
	}

	for start := 0; start < len(crops); start += maxEmbedSubBatch {
		end := start + maxEmbedSubBatch
		if end > len(crops) {
			end = len(crops)
		}
		sub := crops[start:end]

		embedStart := time.Now()
		embedCtx, cancel := context.WithTimeout(ctx, operatorTimeout)
		embeddings, err := w.embedder.Embed(embedCtx, sub)
		cancel()
		metrics.RecordInferenceLatency("embedder", float64(time.Since(embedStart).Milliseconds()))
		if err != nil {
			log.Printf("worker: embedder failed for sub-batch: %v", err)
			continue
		}

		for i, emb := range embeddings {
			r := refs[start+i]
			work[r.fwIdx].embeddings[r.detIdx] = emb
		}
	}
}

func (w *Worker) publishAndAck(ctx context.Context, fw *frameWork) {
	e := fw.entry
	cameraID := e.CameraID
	effectiveTS := parseFloatMeta(e.Metadata, "effective_ts")
	frameIndex := parseIntMeta(e.Metadata, "frame_index")

	tracked, err := w.trackers.Update(ctx, cameraID, fw.detections)
	if err != nil {
		log.Printf("worker: camera %s tracker update failed: %v", cameraID, err)
		tracked = nil
	}

	wireDets := make([]events.Detection, 0, len(tracked))
	for i, td := range tracked {
		wd := events.Detection{
			BBox:    [4]float64{td.BBox.X1, td.BBox.Y1, td.BBox.X2, td.BBox.Y2},
			Conf:    td.Confidence,
			TrackID: td.TrackID,
		}
		if i < len(fw.embeddings) {
			wd.Embedding = fw.embeddings[i]
		}
		wireDets = append(wireDets, wd)
	}

	metrics.RecordDetections(cameraID, len(wireDets))

	evt := events.DetectionEvent{
		CameraID:    cameraID,
		FrameIndex:  frameIndex,
		EffectiveTS: effectiveTS,
		Detections:  wireDets,
	}
	data, err := evt.Marshal()
	if err != nil {
		log.Printf("worker: camera %s event marshal failed: %v", cameraID, err)
		w.ackOne(ctx, e)
		return
	}

	for _, topic := range w.detectionsTopics(cameraID) {
		pubCtx, cancel := context.WithTimeout(ctx, eventPublishTimeout)
		err = w.log.Publish(pubCtx, topic, cameraID, data, publishMaxRetries)
		cancel()
		if err != nil {
			// Accepted loss: ack anyway, count the error, don't block the
			// stream on a log backbone outage.
			metrics.RecordPublishError()
			log.Printf("worker: camera %s publish to %s exhausted retries: %v", cameraID, topic, err)
		}
	}

	w.ackOne(ctx, e)
}

func (w *Worker) ackOne(ctx context.Context, e framebus.Entry) {
	if err := w.bus.Ack(ctx, e.CameraID, w.group, []string{e.EntryID}); err != nil {
		log.Printf("worker: camera %s ack failed: %v", e.CameraID, err)
		return
	}
	metrics.RecordFrameAcked(e.CameraID)
}

// detectionsTopics handles billing-path prioritization: when
// DETECTIONS_TOPIC_MODE=dual, a billing camera's event is additionally
// mirrored onto a dedicated topic so a Resolver pool can be partitioned
// to prioritize billing traffic, while still landing on the normal
// topic so nothing about the single-topic behavior changes for
// consumers that don't care about the split.
func (w *Worker) detectionsTopics(cameraID string) []string {
	topics := []string{eventlog.TopicDetections}
	if w.detectionMode == "dual" && w.billingCameras[cameraID] {
		topics = append(topics, eventlog.TopicDetectionsBilling)
	}
	return topics
}

func parseFloatMeta(meta map[string]string, key string) float64 {
	v, err := strconv.ParseFloat(meta[key], 64)
	if err != nil {
		return 0
	}
	return v
}

func parseIntMeta(meta map[string]string, key string) int64 {
	v, err := strconv.ParseInt(meta[key], 10, 64)
	if err != nil {
		return 0
	}
	return v
}
