package operator

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"math"
	"math/rand"
)

// cocoLabels mirrors the small label set the teacher's mock detector
// reported; TRINETRA only cares about "person" for the face-crop path.
// smartMock does not read this list: it emits "person" and, sometimes,
// "bag" detections directly.
var cocoLabels = []string{"person", "person", "person", "bag", "vehicle"}

// MockDetector produces detections from coarse image-property heuristics
// rather than a real model, for environments with no ONNX runtime model
// files available. Grounded on the teacher's smartMockDetection: image
// size drives how many "people" are plausible: one per frame, sometimes
// two on frames larger than 640x640. The RNG seed is the only setting.
type MockDetector struct {
	rng *rand.Rand
}

func NewMockDetector(seed int64) *MockDetector {
	return &MockDetector{rng: rand.New(rand.NewSource(seed))}
}

// DetectBatch runs smartMock once per frame; a real GPU backend would
// assemble these into one tensor, but the heuristic mock has no tensor
// to batch, so it just loops.
func (d *MockDetector) DetectBatch(ctx context.Context, frames [][]byte, cameraIDs []string) ([][]Detection, error) {
	out := make([][]Detection, len(frames))
	for i, jpegFrame := range frames {
		img, err := jpeg.Decode(bytes.NewReader(jpegFrame))
		if err != nil {
			// Leave it to the caller to decide whether to drop the frame
			// or alert; this just surfaces the decode failure.
			return nil, err
		}
		out[i] = d.smartMock(img, cameraIDs[i])
	}
	return out, nil
}

func (d *MockDetector) smartMock(img image.Image, cameraID string) []Detection {
	bounds := img.Bounds()
	area := bounds.Dx() * bounds.Dy()

	// Busier (larger) frames get a slightly higher chance of a second
	// person, purely so downstream batching/tracking logic sees varied
	// detection counts in tests without a live model.
	numPeople := 1
	if area > 640*640 && d.rng.Float32() < 0.4 {
		numPeople = 2
	}

	var out []Detection
	for i := 0; i < numPeople; i++ {
		out = append(out, Detection{
			BBox:       d.randomBBox(),
			Label:      "person",
			Confidence: 0.7 + d.rng.Float64()*0.25,
		})
	}

	if d.rng.Float32() < 0.15 {
		out = append(out, Detection{
			BBox:       d.randomBBox(),
			Label:      "bag",
			Confidence: 0.5 + d.rng.Float64()*0.4,
		})
	}

	return out
}

func (d *MockDetector) randomBBox() BBox {
	x := d.rng.Float64() * 0.7
	y := d.rng.Float64() * 0.7
	w := 0.1 + d.rng.Float64()*0.2
	h := 0.15 + d.rng.Float64()*0.25
	if x+w > 1 {
		w = 1 - x
	}
	if y+h > 1 {
		h = 1 - y
	}
	return BBox{X1: x, Y1: y, X2: x + w, Y2: y + h}
}

func (d *MockDetector) Close() error { return nil }

// MockEmbedder produces deterministic, L2-normalized embeddings from a
// crop's own pixel content (a cheap hash-to-vector, not a real face
// embedding) so repeated calls on the same crop return the same vector —
// important for gallery-match tests that expect a stable cosine score.
type MockEmbedder struct{}

func NewMockEmbedder() *MockEmbedder { return &MockEmbedder{} }

func (e *MockEmbedder) Embed(ctx context.Context, crops [][]float32) ([][]float32, error) {
	out := make([][]float32, len(crops))
	for i, crop := range crops {
		out[i] = e.hashToEmbedding(crop)
	}
	return out, nil
}

func (e *MockEmbedder) hashToEmbedding(crop []float32) []float32 {
	v := make([]float32, EmbeddingDim)
	if len(crop) == 0 {
		v[0] = 1
		return v
	}
	// Fold the crop into EmbeddingDim buckets by summing, giving a
	// deterministic function of crop content without any real model.
	for i, px := range crop {
		v[i%EmbeddingDim] += px
	}
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		v[0] = 1
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

func (e *MockEmbedder) Close() error { return nil }
