package ingest

import (
	"image"
	"math"
)

// Validation thresholds bound the pixel mean/stddev ranges a real,
// in-focus frame falls within.
const (
	minPixelMean = 2.0
	maxPixelMean = 253.0
	minPixelStd  = 5.0
)

// validateFrame reports whether img is worth forwarding: not blank
// (near-uniform luma) and not corrupted (decode artifacts tend to produce
// implausible mean/stddev).
func validateFrame(img image.Image) bool {
	if img == nil {
		return false
	}

	mean, std := lumaStats(img)
	if mean < minPixelMean || mean > maxPixelMean {
		return false
	}
	if std < minPixelStd {
		return false
	}
	return true
}

// lumaStats computes the mean and standard deviation of 8-bit luma over a
// sparse grid of sample points rather than every pixel, keeping validation
// cheap at 640x640+ resolutions.
func lumaStats(img image.Image) (mean, std float64) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return 0, 0
	}

	const gridStep = 8
	var sum, sumSq float64
	var n int
	for y := 0; y < h; y += gridStep {
		for x := 0; x < w; x += gridStep {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			luma := 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(bl>>8)
			sum += luma
			sumSq += luma * luma
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	mean = sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance)
}
