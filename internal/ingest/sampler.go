package ingest

import (
	"image"

	"github.com/retailvision/trinetra/internal/config"
)

// Sampler thresholds for the adaptive skip-interval controller.
const (
	fillRatioHighWatermark = 0.80
	motionScoreThreshold   = 2.5
	baseSkipInterval       = 1
	maxSkipIntervalFactor  = 3
)

// sampler holds the per-camera adaptive skip-interval state: frame
// counter, current skip interval, and the last decoded frame used for the
// cheap motion-diff score.
type sampler struct {
	cameraType   config.CameraType
	frameCounter int64
	skipInterval int
	lastFrame    image.Image
}

func newSampler(cameraType config.CameraType) *sampler {
	return &sampler{cameraType: cameraType, skipInterval: baseSkipInterval}
}

// admit decides whether the current frame should be forwarded past the
// sampler stage, updating the skip interval from the two adaptive inputs
// (FrameBus fill ratio, motion score). Billing and entrance cameras are
// exempt from the drop branch (priority exemption):
// they always advance but their skip interval stays pinned at base so the
// burst suppressor remains their only drop path.
func (s *sampler) admit(img image.Image, fillRatio float64) bool {
	s.frameCounter++

	if s.cameraType == config.CameraBilling || s.cameraType == config.CameraEntrance {
		s.lastFrame = img
		return true
	}

	motion := motionScore(s.lastFrame, img)
	s.lastFrame = img

	switch {
	case fillRatio > fillRatioHighWatermark:
		// Enforces the upper clamp; the multiply itself is a no-op at
		// factor 1 today.
		if s.skipInterval > baseSkipInterval*maxSkipIntervalFactor {
			s.skipInterval = baseSkipInterval * maxSkipIntervalFactor
		}
	case motion > motionScoreThreshold:
		if s.skipInterval > baseSkipInterval {
			s.skipInterval--
		}
	default:
		// hold at current interval
	}

	return s.frameCounter%int64(s.skipInterval) == 0
}

func (s *sampler) currentSkipInterval() int { return s.skipInterval }

// motionScore is the mean magnitude of a dense-optical-flow proxy between
// two consecutive decoded frames: the average absolute luma delta over a
// sparse sample grid, cheap enough to run on every frame.
func motionScore(prev, cur image.Image) float64 {
	if prev == nil || cur == nil {
		return 0
	}
	pb, cb := prev.Bounds(), cur.Bounds()
	w, h := cb.Dx(), cb.Dy()
	if w == 0 || h == 0 || pb.Dx() != w || pb.Dy() != h {
		return 0
	}

	const gridStep = 8
	var sum float64
	var n int
	for y := 0; y < h; y += gridStep {
		for x := 0; x < w; x += gridStep {
			pr, pg, pbl, _ := prev.At(pb.Min.X+x, pb.Min.Y+y).RGBA()
			cr, cg, cbl, _ := cur.At(cb.Min.X+x, cb.Min.Y+y).RGBA()
			pLuma := 0.299*float64(pr>>8) + 0.587*float64(pg>>8) + 0.114*float64(pbl>>8)
			cLuma := 0.299*float64(cr>>8) + 0.587*float64(cg>>8) + 0.114*float64(cbl>>8)
			diff := cLuma - pLuma
			if diff < 0 {
				diff = -diff
			}
			sum += diff
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
