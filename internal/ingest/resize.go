package ingest

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
)

// OutputSize is the fixed frame size published to the FrameBus.
const OutputSize = 640

const jpegQuality = 85

// resizeAndEncode resizes img to OutputSize x OutputSize with bilinear
// interpolation and JPEG-encodes it. No third-party image-resize library
// appears anywhere in the retrieval pack, so this stays on the standard
// library (see DESIGN.md), mirroring internal/operator/preprocess.go's
// same call.
func resizeAndEncode(img image.Image) ([]byte, error) {
	resized := resizeBilinear(img, OutputSize, OutputSize)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// resizeBilinear resamples img to w x h using bilinear interpolation,
// sharper than the nearest-neighbor resampler the operator preprocessing
// path uses for the cheaper, throwaway inference-tensor resize.
func resizeBilinear(img image.Image, w, h int) image.Image {
	src := img.Bounds()
	sw, sh := src.Dx(), src.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))

	if sw <= 1 || sh <= 1 {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dst.Set(x, y, img.At(src.Min.X, src.Min.Y))
			}
		}
		return dst
	}

	xRatio := float64(sw-1) / float64(w)
	yRatio := float64(sh-1) / float64(h)

	for y := 0; y < h; y++ {
		sy := float64(y) * yRatio
		y0 := int(sy)
		yFrac := sy - float64(y0)

		for x := 0; x < w; x++ {
			sx := float64(x) * xRatio
			x0 := int(sx)
			xFrac := sx - float64(x0)

			c00 := img.At(src.Min.X+x0, src.Min.Y+y0)
			c10 := img.At(src.Min.X+x0+1, src.Min.Y+y0)
			c01 := img.At(src.Min.X+x0, src.Min.Y+y0+1)
			c11 := img.At(src.Min.X+x0+1, src.Min.Y+y0+1)

			dst.Set(x, y, bilerp(c00, c10, c01, c11, xFrac, yFrac))
		}
	}
	return dst
}

func bilerp(c00, c10, c01, c11 color.Color, xFrac, yFrac float64) color.RGBA {
	r00, g00, b00, a00 := c00.RGBA()
	r10, g10, b10, a10 := c10.RGBA()
	r01, g01, b01, a01 := c01.RGBA()
	r11, g11, b11, a11 := c11.RGBA()

	lerp := func(v00, v10, v01, v11 uint32) uint8 {
		top := float64(v00)*(1-xFrac) + float64(v10)*xFrac
		bottom := float64(v01)*(1-xFrac) + float64(v11)*xFrac
		return uint8((top*(1-yFrac) + bottom*yFrac) / 256)
	}

	return color.RGBA{
		R: lerp(r00, r10, r01, r11),
		G: lerp(g00, g10, g01, g11),
		B: lerp(b00, b10, b01, b11),
		A: lerp(a00, a10, a01, a11),
	}
}
