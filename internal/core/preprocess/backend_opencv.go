//go:build gocv

package preprocess

import (
	"image"
	"image/draw"

	"gocv.io/x/gocv"
)

// Backend names the implementation behind edge detection and contrast equalization.
const Backend = "opencv"

// edgeMap runs OpenCV's Canny on the 8-bit image. Thresholds are given on a
// [0,1] intensity scale and rescaled to OpenCV's [0,255] scale.
func edgeMap(img image.Image, w, h int, low, high float64) []bool {
	g, ok := img.(*image.Gray)
	if !ok {
		g = image.NewGray(image.Rect(0, 0, w, h))
		draw.Draw(g, g.Bounds(), img, img.Bounds().Min, draw.Src)
	}
	src, err := gocv.ImageGrayToMatGray(g)
	if err != nil {
		return canny(luminance(img), w, h, low, high)
	}
	defer src.Close()

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(src, &edges, float32(low*255), float32(high*255))

	px := edges.ToBytes()
	if len(px) != w*h {
		return canny(luminance(img), w, h, low, high)
	}
	out := make([]bool, w*h)
	for i, v := range px {
		out[i] = v != 0
	}
	return out
}

// equalize applies OpenCV's CLAHE. clipLimit is a fraction of the tile's pixel
// count; OpenCV takes it as a multiple of the mean bin height, hence the *256.
func equalize(g *image.Gray, tiles int, clipLimit float64) *image.Gray {
	if tiles <= 0 || g.Bounds().Empty() {
		return g
	}
	src, err := gocv.ImageGrayToMatGray(g)
	if err != nil {
		return CLAHE(g, tiles, clipLimit)
	}
	defer src.Close()

	clahe := gocv.NewCLAHEWithParams(clipLimit*256, image.Pt(tiles, tiles))
	defer clahe.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	clahe.Apply(src, &dst)

	img, err := dst.ToImage()
	if err != nil {
		return CLAHE(g, tiles, clipLimit)
	}
	return toGray(img)
}
