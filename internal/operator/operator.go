// Package operator defines the GPU-operator contracts the Inference
// Worker invokes: a Detector that turns a batch of JPEG frames into
// per-frame bounding boxes, and an Embedder that turns a face crop into
// a 512-dim L2-normalized embedding. Both are black-box, in-process
// interfaces — no wire protocol, no generated stubs.
package operator

import "context"

// BBox is a normalized bounding box, coordinates in [0,1] relative to
// frame width/height.
type BBox struct {
	X1, Y1, X2, Y2 float64
}

// Detection is one raw detector output, before track-id assignment
// (that happens in internal/tracker) and before embedding (that happens
// only for boxes the worker decides are face-crop eligible).
type Detection struct {
	BBox       BBox
	Label      string
	Confidence float64
}

// Detector runs object/person detection over a batch of decoded frames
// in a single call, so a GPU-backed implementation can assemble one
// (B, 3, 640, 640) tensor across an entire flushed micro-batch instead
// of paying per-frame launch overhead.
type Detector interface {
	// DetectBatch returns one detection slice per entry in frames, same
	// order and length. cameraIDs is passed through for per-camera
	// heuristics (e.g. a weapon-detection camera class) and for
	// latency-metric labeling; len(cameraIDs) == len(frames).
	DetectBatch(ctx context.Context, frames [][]byte, cameraIDs []string) ([][]Detection, error)
	Close() error
}

// Embedder turns a batch of already-cropped, already-normalized 112x112
// face crops into L2-normalized 512-dim embeddings, one per crop, same
// order as input.
type Embedder interface {
	Embed(ctx context.Context, crops [][]float32) ([][]float32, error)
	Close() error
}

const (
	EmbeddingDim  = 512
	CropSize      = 112
	CropChannels  = 3
	CropFloatSize = CropSize * CropSize * CropChannels
)
