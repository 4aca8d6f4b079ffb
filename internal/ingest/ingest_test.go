package ingest

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/retailvision/trinetra/internal/camera"
	"github.com/retailvision/trinetra/internal/config"
)

func uniformImage(size int, v uint8) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func noisyImage(size int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			v := uint8((x*7 + y*13) % 256)
			img.Set(x, y, color.RGBA{R: v, G: 255 - v, B: v / 2, A: 255})
		}
	}
	return img
}

func TestValidateFrame_RejectsBlankAndAcceptsNoisy(t *testing.T) {
	if validateFrame(uniformImage(64, 0)) {
		t.Fatal("near-black uniform frame should be rejected")
	}
	if validateFrame(uniformImage(64, 255)) {
		t.Fatal("near-white uniform frame should be rejected")
	}
	if validateFrame(uniformImage(64, 128)) {
		t.Fatal("flat mid-gray frame (low stddev) should be rejected")
	}
	if !validateFrame(noisyImage(64)) {
		t.Fatal("varied frame should pass validation")
	}
	if validateFrame(nil) {
		t.Fatal("nil image should be rejected")
	}
}

func TestSampler_BillingCameraExemptFromDrop(t *testing.T) {
	s := newSampler(config.CameraBilling)
	for i := 0; i < 5; i++ {
		if !s.admit(noisyImage(32), 0.95) {
			t.Fatalf("billing camera frame %d should always be admitted by the sampler", i)
		}
	}
}

func TestSampler_HighFillRatioClampsToCeiling(t *testing.T) {
	s := newSampler(config.CameraTracking)
	s.skipInterval = baseSkipInterval*maxSkipIntervalFactor + 5
	for i := 0; i < 20; i++ {
		s.admit(uniformImage(32, 100), 0.95)
	}
	if s.currentSkipInterval() > baseSkipInterval*maxSkipIntervalFactor {
		t.Fatalf("high fill ratio should clamp skip interval to the 3x-base ceiling, got %d", s.currentSkipInterval())
	}
}

func TestSampler_HighMotionShrinksSkipInterval(t *testing.T) {
	s := newSampler(config.CameraTracking)
	s.skipInterval = 3

	dark := uniformImage(32, 0)
	bright := uniformImage(32, 255)
	s.lastFrame = dark
	s.admit(bright, 0.1)

	if s.currentSkipInterval() >= 3 {
		t.Fatalf("high motion should shrink skip interval toward 1, got %d", s.currentSkipInterval())
	}
}

func TestTokenBucket_CapacityAndRefill(t *testing.T) {
	b := newTokenBucket(1) // 1 token/sec refill
	now := time.Now()

	allowed := 0
	for i := 0; i < 10; i++ {
		if b.allow(now) {
			allowed++
		}
	}
	if allowed != tokenBucketCapacity {
		t.Fatalf("expected exactly %d tokens available at burst, got %d", tokenBucketCapacity, allowed)
	}

	if b.allow(now) {
		t.Fatal("bucket should be empty immediately after burst")
	}
	if !b.allow(now.Add(1100 * time.Millisecond)) {
		t.Fatal("bucket should refill one token after ~1s at 1 token/sec")
	}
}

func TestResizeAndEncode_ProducesCorrectDimensions(t *testing.T) {
	data, err := resizeAndEncode(noisyImage(100))
	if err != nil {
		t.Fatalf("resizeAndEncode failed: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not valid jpeg: %v", err)
	}
	b := img.Bounds()
	if b.Dx() != OutputSize || b.Dy() != OutputSize {
		t.Fatalf("expected %dx%d, got %dx%d", OutputSize, OutputSize, b.Dx(), b.Dy())
	}
}

// fakeReader produces a fixed number of noisy frames then returns an error.
type fakeReader struct {
	mu       sync.Mutex
	n        int
	produced int
	closed   bool
}

func (r *fakeReader) ReadFrame(ctx context.Context) (image.Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.produced >= r.n {
		return nil, context.DeadlineExceeded
	}
	r.produced++
	return noisyImage(32), nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published int
}

func (p *fakePublisher) Publish(ctx context.Context, cameraID string, frame []byte, meta map[string]string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published++
	return "0-0", nil
}

func (p *fakePublisher) FillRatio(ctx context.Context, cameraID string) (float64, error) {
	return 0.1, nil
}

func TestCameraPipeline_PublishesValidFrames(t *testing.T) {
	reader := &fakeReader{n: 20}
	pub := &fakePublisher{}

	cam := camera.Camera{CameraID: "cam_01", RTSPURL: "rtsp://example", CameraType: config.CameraBilling, TargetFPS: 100}
	factory := func(ctx context.Context, rtspURL string) (Reader, error) { return reader, nil }

	p := NewCameraPipeline(cam, factory, pub)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if pub.published == 0 {
		t.Fatal("expected at least one frame published")
	}
}
