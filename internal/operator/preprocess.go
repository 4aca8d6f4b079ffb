package operator

import (
	"bytes"
	"image"
	"image/jpeg"
)

// decodeJPEGToCHW decodes a JPEG, resizes with nearest-neighbor to
// w x h, and packs it into a CHW float32 tensor scaled to [0,1] — the
// layout ONNX detection exports expect, one row of the detector's
// batched (B, 3, 640, 640) input tensor.
func decodeJPEGToCHW(jpegData []byte, w, h int) ([]float32, error) {
	img, err := jpeg.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return nil, err
	}
	return imageToCHW(resizeNearest(img, w, h), w, h), nil
}

// CropToNormalizedCHW implements the face-crop preprocessing step:
// resize to 112x112 and normalize (x - 127.5) / 127.5, packed CHW.
func CropToNormalizedCHW(crop image.Image) []float32 {
	resized := resizeNearest(crop, CropSize, CropSize)
	out := make([]float32, CropFloatSize)
	idx := 0
	for c := 0; c < CropChannels; c++ {
		for y := 0; y < CropSize; y++ {
			for x := 0; x < CropSize; x++ {
				r, g, b, _ := resized.At(x, y).RGBA()
				var v uint32
				switch c {
				case 0:
					v = r
				case 1:
					v = g
				default:
					v = b
				}
				// RGBA() returns 16-bit-scaled channel values; downscale
				// to 8-bit before the (x-127.5)/127.5 normalization.
				px := float64(v >> 8)
				out[idx] = float32((px - 127.5) / 127.5)
				idx++
			}
		}
	}
	return out
}

func imageToCHW(img image.Image, w, h int) []float32 {
	out := make([]float32, CropChannels*w*h)
	idx := 0
	for c := 0; c < CropChannels; c++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				r, g, b, _ := img.At(x, y).RGBA()
				var v uint32
				switch c {
				case 0:
					v = r
				case 1:
					v = g
				default:
					v = b
				}
				out[idx] = float32(v>>8) / 255.0
				idx++
			}
		}
	}
	return out
}

// resizeNearest is a minimal nearest-neighbor resampler. No third-party
// image-resize library appears anywhere in the retrieval pack (nor does
// golang.org/x/image), so this stays on the standard library — see
// DESIGN.md.
func resizeNearest(img image.Image, w, h int) image.Image {
	src := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		sy := src.Min.Y + y*src.Dy()/h
		for x := 0; x < w; x++ {
			sx := src.Min.X + x*src.Dx()/w
			dst.Set(x, y, img.At(sx, sy))
		}
	}
	return dst
}

// CropRegion extracts the pixel sub-image for a normalized BBox from a
// full decoded frame.
func CropRegion(img image.Image, box BBox) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	x1 := b.Min.X + int(box.X1*float64(w))
	y1 := b.Min.Y + int(box.Y1*float64(h))
	x2 := b.Min.X + int(box.X2*float64(w))
	y2 := b.Min.Y + int(box.Y2*float64(h))
	if x2 <= x1 || y2 <= y1 {
		return image.NewRGBA(image.Rect(0, 0, 1, 1))
	}
	sub, ok := img.(interface {
		SubImage(r image.Rectangle) image.Image
	})
	if !ok {
		return img
	}
	return sub.SubImage(image.Rect(x1, y1, x2, y2))
}
