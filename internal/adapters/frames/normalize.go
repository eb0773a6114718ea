package frames

import (
	"image"

	"golang.org/x/image/draw"
)

// Normalize resizes a BGR frame to size×size with bilinear sampling,
// reorders channels to RGB and scales each value into [0,1].
func Normalize(raw Raw, size int) []float32 {
	src := image.NewRGBA(image.Rect(0, 0, raw.Width, raw.Height))
	for i, j := 0, 0; i < len(raw.BGR); i, j = i+3, j+4 {
		src.Pix[j] = raw.BGR[i+2]
		src.Pix[j+1] = raw.BGR[i+1]
		src.Pix[j+2] = raw.BGR[i]
		src.Pix[j+3] = 0xff
	}

	dst := src
	if raw.Width != size || raw.Height != size {
		dst = image.NewRGBA(image.Rect(0, 0, size, size))
		draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	}

	out := make([]float32, 0, size*size*3)
	for j := 0; j < len(dst.Pix); j += 4 {
		out = append(out,
			float32(dst.Pix[j])/255,
			float32(dst.Pix[j+1])/255,
			float32(dst.Pix[j+2])/255,
		)
	}
	return out
}
