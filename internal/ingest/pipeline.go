package ingest

import (
	"context"
	"image"
	"log"
	"strconv"
	"time"

	"github.com/retailvision/trinetra/internal/camera"
	"github.com/retailvision/trinetra/internal/metrics"
)

// readTimeout bounds a single RTSP read attempt.
const readTimeout = 5 * time.Second

// queueCapacity is the bounded in-process queue between the blocking
// reader and the non-blocking resizer/publisher: the reader is the only
// place a goroutine blocks on network I/O.
const queueCapacity = 30

// Publisher is the subset of framebus.Bus the pipeline needs: publish a
// resized frame and read back the stream's current fill ratio for the
// adaptive sampler.
type Publisher interface {
	Publish(ctx context.Context, cameraID string, frame []byte, meta map[string]string) (string, error)
	FillRatio(ctx context.Context, cameraID string) (float64, error)
}

// CameraPipeline runs one camera's independent task group: a dedicated
// reader goroutine doing blocking RTSP I/O, handing decoded frames to a
// non-blocking validate/sample/suppress/resize/publish stage through a
// bounded queue. State (reader handle, frame counter, skip interval,
// motion-diff history, token bucket) lives entirely here and is lost on
// restart, same as internal/nvr.NVRMonitor's per-target state.
type CameraPipeline struct {
	cam     camera.Camera
	factory ReaderFactory
	bus     Publisher

	queue      chan image.Image
	frameIndex int64
}

// NewCameraPipeline wires one camera's pipeline against a reader factory
// and the shared FrameBus publisher.
func NewCameraPipeline(cam camera.Camera, factory ReaderFactory, bus Publisher) *CameraPipeline {
	return &CameraPipeline{
		cam:     cam,
		factory: factory,
		bus:     bus,
		queue:   make(chan image.Image, queueCapacity),
	}
}

// Run blocks until ctx is cancelled, running the reader loop and the
// publish loop concurrently.
func (p *CameraPipeline) Run(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.readLoop(ctx)
	}()
	p.publishLoop(ctx)
	<-done
}

// readLoop owns the only blocking-on-network-I/O thread for this camera:
// open, read, reconnect with an exponential backoff ladder on failure.
func (p *CameraPipeline) readLoop(ctx context.Context) {
	bo := &backoff{}

	for {
		if ctx.Err() != nil {
			return
		}

		reader, err := p.factory(ctx, p.cam.RTSPURL)
		if err != nil {
			metrics.SetCameraReaderUp(p.cam.CameraID, false)
			metrics.RecordReconnect(p.cam.CameraID)
			if !sleepCtx(ctx, bo.next()) {
				return
			}
			continue
		}

		metrics.SetCameraReaderUp(p.cam.CameraID, true)
		bo.reset()
		p.readUntilFailure(ctx, reader)
		reader.Close()
		metrics.SetCameraReaderUp(p.cam.CameraID, false)

		if ctx.Err() != nil {
			return
		}
		metrics.RecordReconnect(p.cam.CameraID)
		if !sleepCtx(ctx, bo.next()) {
			return
		}
	}
}

func (p *CameraPipeline) readUntilFailure(ctx context.Context, r Reader) {
	for {
		readCtx, cancel := context.WithTimeout(ctx, readTimeout)
		img, err := r.ReadFrame(readCtx)
		cancel()

		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Printf("ingest: camera %s read failed, reconnecting: %v", p.cam.CameraID, err)
			return
		}

		metrics.RecordFrameRead(p.cam.CameraID)

		select {
		case p.queue <- img:
		default:
			// Bounded queue full: tail-drop, recency wins.
			metrics.RecordFrameDropped(p.cam.CameraID, "backpressure")
		}
	}
}

// publishLoop is the non-blocking validate/sample/suppress/resize/publish
// stage, one per camera, fed by readLoop's queue.
func (p *CameraPipeline) publishLoop(ctx context.Context) {
	samp := newSampler(p.cam.CameraType)
	bucket := newTokenBucket(p.cam.TargetFPS)

	for {
		select {
		case <-ctx.Done():
			return
		case img := <-p.queue:
			p.processFrame(ctx, samp, bucket, img)
		}
	}
}

func (p *CameraPipeline) processFrame(ctx context.Context, samp *sampler, bucket *tokenBucket, img image.Image) {
	ingestTS := time.Now()

	if !validateFrame(img) {
		metrics.RecordFrameDropped(p.cam.CameraID, "corrupt")
		return
	}

	fillRatio, err := p.bus.FillRatio(ctx, p.cam.CameraID)
	if err != nil {
		// Transient FrameBus I/O error: treat as unknown fill (0), sampler
		// falls back to base/motion-driven behavior rather than stalling
		// the camera on a bus hiccup.
		fillRatio = 0
	}
	metrics.SetAdaptiveSampleRate(p.cam.CameraID, p.cam.TargetFPS/float64(samp.currentSkipInterval()))

	if !samp.admit(img, fillRatio) {
		metrics.RecordFrameDropped(p.cam.CameraID, "sampled")
		return
	}

	if !bucket.allow(time.Now()) {
		metrics.RecordFrameDropped(p.cam.CameraID, "burst_suppressed")
		return
	}

	jpegData, err := resizeAndEncode(img)
	if err != nil {
		metrics.RecordFrameDropped(p.cam.CameraID, "encode_failed")
		return
	}

	p.frameIndex++
	effectiveTS := float64(ingestTS.UnixNano()) / 1e9
	meta := map[string]string{
		"frame_index":  strconv.FormatInt(p.frameIndex, 10),
		"ingest_ts":    strconv.FormatFloat(effectiveTS, 'f', -1, 64),
		"effective_ts": strconv.FormatFloat(effectiveTS, 'f', -1, 64),
	}

	publishStart := time.Now()
	_, err = p.bus.Publish(ctx, p.cam.CameraID, jpegData, meta)
	metrics.RecordPublishLatency(p.cam.CameraID, float64(time.Since(publishStart).Milliseconds()))
	if err != nil {
		log.Printf("ingest: camera %s publish failed: %v", p.cam.CameraID, err)
		metrics.RecordFrameDropped(p.cam.CameraID, "publish_failed")
		return
	}

	metrics.RecordIngestFrameLatency(p.cam.CameraID, time.Since(ingestTS).Seconds()*1000)
}

// sleepCtx sleeps for d or returns false early if ctx is cancelled first.
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
