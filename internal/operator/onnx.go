package operator

import (
	"context"
	"fmt"
	"math"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// ensureRuntime initializes the ONNX Runtime shared library exactly once
// per process, matching the teacher pack's session-options-per-model
// pattern (one environment, many sessions).
func ensureRuntime() error {
	ortInitOnce.Do(func() {
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// ONNXDetector runs a real detection model (e.g. an SSD/YOLO export)
// through ONNXRuntime. Input is a fixed (maxBatch, 3, 640, 640) CHW
// float tensor assembled across an entire flushed micro-batch and run
// through the session once per DetectBatch call, rather than once per
// frame; output parsing assumes a flat [maxBatch, N, 6]
// (x1,y1,x2,y2,score,class) layout, the common export shape for
// single-stage detectors with a static batch dimension.
type ONNXDetector struct {
	session   *ort.AdvancedSession
	input     *ort.Tensor[float32]
	output    *ort.Tensor[float32]
	threshold float32
	maxBatch  int
	mu        sync.Mutex
}

const (
	detInputW = 640
	detInputH = 640
	maxDets   = 100
)

// NewONNXDetector loads modelPath behind threads worker-local session
// options, matching the single-GPU-operator-per-worker deployment
// model. maxBatch bounds the static batch dimension the input/output
// tensors are allocated with; DetectBatch chunks a larger flush into
// maxBatch-sized Run calls.
func NewONNXDetector(modelPath string, threshold float32, intraOpThreads, maxBatch int) (*ONNXDetector, error) {
	if err := ensureRuntime(); err != nil {
		return nil, fmt.Errorf("operator: onnxruntime init: %w", err)
	}
	if maxBatch <= 0 {
		maxBatch = 1
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("operator: session options: %w", err)
	}
	defer opts.Destroy()
	if intraOpThreads > 0 {
		if err := opts.SetIntraOpNumThreads(intraOpThreads); err != nil {
			return nil, fmt.Errorf("operator: set intra-op threads: %w", err)
		}
	}

	inputShape := ort.NewShape(int64(maxBatch), 3, detInputH, detInputW)
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("operator: input tensor: %w", err)
	}

	outputShape := ort.NewShape(int64(maxBatch), maxDets, 6)
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("operator: output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"images"}, []string{"output"},
		[]ort.Value{inputTensor}, []ort.Value{outputTensor}, opts)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("operator: create session: %w", err)
	}

	return &ONNXDetector{session: session, input: inputTensor, output: outputTensor, threshold: threshold, maxBatch: maxBatch}, nil
}

// DetectBatch assembles up to maxBatch frames at a time into the
// session's input tensor and runs one inference per chunk, instead of
// one per frame — the point of accumulating a micro-batch upstream is
// wasted if the detector still gets invoked frame-by-frame.
func (d *ONNXDetector) DetectBatch(ctx context.Context, frames [][]byte, cameraIDs []string) ([][]Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([][]Detection, len(frames))
	frameFloats := 3 * detInputH * detInputW
	detFloats := maxDets * 6

	for offset := 0; offset < len(frames); offset += d.maxBatch {
		end := offset + d.maxBatch
		if end > len(frames) {
			end = len(frames)
		}
		chunk := frames[offset:end]

		data := d.input.GetData()
		for i := range data {
			data[i] = 0 // clear any padding rows left over from a shorter prior chunk
		}
		for i, jpegFrame := range chunk {
			chw, err := decodeJPEGToCHW(jpegFrame, detInputW, detInputH)
			if err != nil {
				return nil, err
			}
			copy(data[i*frameFloats:(i+1)*frameFloats], chw)
		}

		if err := d.session.Run(); err != nil {
			return nil, fmt.Errorf("operator: detector run: %w", err)
		}

		outData := d.output.GetData()
		for i := range chunk {
			out[offset+i] = parseDetections(outData[i*detFloats:(i+1)*detFloats], d.threshold)
		}
	}
	return out, nil
}

func parseDetections(data []float32, threshold float32) []Detection {
	var out []Detection
	for i := 0; i+5 < len(data); i += 6 {
		score := data[i+4]
		if score < threshold {
			continue
		}
		out = append(out, Detection{
			BBox:       BBox{X1: float64(data[i]), Y1: float64(data[i+1]), X2: float64(data[i+2]), Y2: float64(data[i+3])},
			Label:      classLabel(int(data[i+5])),
			Confidence: float64(score),
		})
	}
	return out
}

func classLabel(classID int) string {
	if classID == 0 {
		return "person"
	}
	return "object"
}

func (d *ONNXDetector) Close() error {
	d.input.Destroy()
	d.output.Destroy()
	d.session.Destroy()
	return nil
}

// ONNXEmbedder runs a face-embedding model (e.g. an ArcFace/insightface
// export) over pre-cropped 112x112 normalized inputs.
type ONNXEmbedder struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	mu      sync.Mutex
}

func NewONNXEmbedder(modelPath string, intraOpThreads int) (*ONNXEmbedder, error) {
	if err := ensureRuntime(); err != nil {
		return nil, fmt.Errorf("operator: onnxruntime init: %w", err)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("operator: session options: %w", err)
	}
	defer opts.Destroy()
	if intraOpThreads > 0 {
		if err := opts.SetIntraOpNumThreads(intraOpThreads); err != nil {
			return nil, fmt.Errorf("operator: set intra-op threads: %w", err)
		}
	}

	inputShape := ort.NewShape(1, CropChannels, CropSize, CropSize)
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("operator: input tensor: %w", err)
	}

	outputShape := ort.NewShape(1, EmbeddingDim)
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("operator: output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"}, []string{"embedding"},
		[]ort.Value{inputTensor}, []ort.Value{outputTensor}, opts)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("operator: create session: %w", err)
	}

	return &ONNXEmbedder{session: session, input: inputTensor, output: outputTensor}, nil
}

// Embed runs crops through the model one at a time (the pack carries no
// dynamic-batch ONNX example to ground a batched session on), L2
// renormalizing each output defensively in case the export doesn't.
func (e *ONNXEmbedder) Embed(ctx context.Context, crops [][]float32) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([][]float32, len(crops))
	for i, crop := range crops {
		if len(crop) != CropFloatSize {
			return nil, fmt.Errorf("operator: crop %d has %d floats, want %d", i, len(crop), CropFloatSize)
		}
		copy(e.input.GetData(), crop)
		if err := e.session.Run(); err != nil {
			return nil, fmt.Errorf("operator: embedder run: %w", err)
		}
		emb := make([]float32, EmbeddingDim)
		copy(emb, e.output.GetData())
		renormalize(emb)
		out[i] = emb
	}
	return out, nil
}

func renormalize(v []float32) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return
	}
	norm := math.Sqrt(sumSq)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}

func (e *ONNXEmbedder) Close() error {
	e.input.Destroy()
	e.output.Destroy()
	e.session.Destroy()
	return nil
}
