package frames

// Gray converts packed BGR24 to 8-bit luma using BT.601 weights with
// integer rounding.
func Gray(bgr []byte, w, h int) []uint8 {
	out := make([]uint8, w*h)
	for i := range out {
		b := int(bgr[i*3])
		g := int(bgr[i*3+1])
		r := int(bgr[i*3+2])
		out[i] = uint8((299*r + 587*g + 114*b + 500) / 1000) //nolint:gosec // bounded to [0,255]
	}
	return out
}

// Sharpness is the population variance of the 4-neighbour Laplacian of a
// grayscale image. Borders reflect without repeating the edge pixel.
func Sharpness(gray []uint8, w, h int) float64 {
	n := w * h
	if n == 0 {
		return 0
	}

	at := func(x, y int) float64 {
		return float64(gray[reflect101(y, h)*w+reflect101(x, w)])
	}

	var sum, sumSq float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			lap := at(x, y-1) + at(x-1, y) + at(x+1, y) + at(x, y+1) - 4*at(x, y)
			sum += lap
			sumSq += lap * lap
		}
	}
	mean := sum / float64(n)
	v := sumSq/float64(n) - mean*mean
	if v < 0 {
		return 0
	}
	return v
}

// reflect101 maps an out-of-range index into [0,n) as dcb|abcd|cba.
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}
