package operator_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/retailvision/trinetra/internal/operator"
)

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 255), G: uint8(y % 255), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestMockDetector_ReturnsPlausibleDetections(t *testing.T) {
	d := operator.NewMockDetector(42)
	defer d.Close()

	detsByFrame, err := d.DetectBatch(context.Background(), [][]byte{testJPEG(t, 800, 600)}, []string{"cam_01"})
	require.NoError(t, err)
	require.Len(t, detsByFrame, 1)
	require.NotEmpty(t, detsByFrame[0])
	for _, det := range detsByFrame[0] {
		require.GreaterOrEqual(t, det.BBox.X1, 0.0)
		require.LessOrEqual(t, det.BBox.X2, 1.0)
		require.Greater(t, det.Confidence, 0.0)
	}
}

func TestMockDetector_BatchesMultipleFramesInOneCall(t *testing.T) {
	d := operator.NewMockDetector(7)
	defer d.Close()

	frames := [][]byte{testJPEG(t, 800, 600), testJPEG(t, 640, 640), testJPEG(t, 320, 240)}
	cameraIDs := []string{"cam_01", "cam_02", "cam_03"}

	detsByFrame, err := d.DetectBatch(context.Background(), frames, cameraIDs)
	require.NoError(t, err)
	require.Len(t, detsByFrame, 3)
	for _, dets := range detsByFrame {
		require.NotEmpty(t, dets)
	}
}

func TestMockDetector_RejectsCorruptFrame(t *testing.T) {
	d := operator.NewMockDetector(1)
	defer d.Close()

	_, err := d.DetectBatch(context.Background(), [][]byte{[]byte("not a jpeg")}, []string{"cam_01"})
	require.Error(t, err)
}

func TestMockEmbedder_ProducesUnitNormEmbeddings(t *testing.T) {
	e := operator.NewMockEmbedder()
	defer e.Close()

	crop := make([]float32, operator.CropFloatSize)
	for i := range crop {
		crop[i] = float32(i%7) - 3
	}

	out, err := e.Embed(context.Background(), [][]float32{crop})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Len(t, out[0], operator.EmbeddingDim)

	var sumSq float64
	for _, x := range out[0] {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	require.InDelta(t, 1.0, norm, 1e-4)
}

func TestMockEmbedder_DeterministicForSameCrop(t *testing.T) {
	e := operator.NewMockEmbedder()
	crop := make([]float32, operator.CropFloatSize)
	for i := range crop {
		crop[i] = float32(i%11) - 5
	}

	out1, err := e.Embed(context.Background(), [][]float32{crop})
	require.NoError(t, err)
	out2, err := e.Embed(context.Background(), [][]float32{crop})
	require.NoError(t, err)
	require.Equal(t, out1[0], out2[0])
}
