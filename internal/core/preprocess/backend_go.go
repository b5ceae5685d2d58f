//go:build !gocv

package preprocess

import "image"

// Backend names the implementation behind edge detection and contrast equalization.
const Backend = "go"

func edgeMap(img image.Image, w, h int, low, high float64) []bool {
	return canny(luminance(img), w, h, low, high)
}

func equalize(g *image.Gray, tiles int, clipLimit float64) *image.Gray {
	return CLAHE(g, tiles, clipLimit)
}
