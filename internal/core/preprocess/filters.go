package preprocess

import (
	"errors"
	"image"
	"math"

	"github.com/anthonynsimon/bild/effect"
)

// MedianFilter replaces each pixel by the median of its (2*radius+1) square
// neighbourhood. Edges repeat the nearest pixel.
func MedianFilter(g *image.Gray, radius int) *image.Gray {
	if radius <= 0 {
		return g
	}
	return toGray(effect.Median(g, float64(radius)))
}

// CLAHE equalizes contrast per tile with a clipped histogram and blends tile
// mappings bilinearly. clipLimit is a fraction of the tile's pixel count.
func CLAHE(g *image.Gray, tiles int, clipLimit float64) *image.Gray {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	if tiles <= 0 || w == 0 || h == 0 {
		return g
	}
	tw := int(math.Ceil(float64(w) / float64(tiles)))
	th := int(math.Ceil(float64(h) / float64(tiles)))
	nx := int(math.Ceil(float64(w) / float64(tw)))
	ny := int(math.Ceil(float64(h) / float64(th)))

	maps := make([][256]uint8, nx*ny)
	for ty := 0; ty < ny; ty++ {
		for tx := 0; tx < nx; tx++ {
			x0, y0 := tx*tw, ty*th
			x1, y1 := min(x0+tw, w), min(y0+th, h)

			var hist [256]int
			for y := y0; y < y1; y++ {
				row := g.Pix[y*g.Stride:]
				for x := x0; x < x1; x++ {
					hist[row[x]]++
				}
			}
			n := (x1 - x0) * (y1 - y0)
			maps[ty*nx+tx] = clippedMapping(hist, n, clipLimit)
		}
	}

	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		fy := (float64(y)+0.5)/float64(th) - 0.5
		ty0 := clampInt(int(math.Floor(fy)), 0, ny-1)
		ty1 := min(ty0+1, ny-1)
		wy := clampFloat(fy-float64(ty0), 0, 1)
		for x := 0; x < w; x++ {
			fx := (float64(x)+0.5)/float64(tw) - 0.5
			tx0 := clampInt(int(math.Floor(fx)), 0, nx-1)
			tx1 := min(tx0+1, nx-1)
			wx := clampFloat(fx-float64(tx0), 0, 1)

			v := g.Pix[y*g.Stride+x]
			a := float64(maps[ty0*nx+tx0][v])
			bb := float64(maps[ty0*nx+tx1][v])
			c := float64(maps[ty1*nx+tx0][v])
			d := float64(maps[ty1*nx+tx1][v])
			top := a*(1-wx) + bb*wx
			bot := c*(1-wx) + d*wx
			out.Pix[y*out.Stride+x] = uint8(math.Round(top*(1-wy) + bot*wy))
		}
	}
	return out
}

func clippedMapping(counts [256]int, n int, clipLimit float64) [256]uint8 {
	var m [256]uint8
	if n == 0 {
		for i := range m {
			m[i] = uint8(i)
		}
		return m
	}

	var hist [256]float64
	for i, c := range counts {
		hist[i] = float64(c)
	}
	if clipLimit > 0 {
		limit := math.Max(1, clipLimit*float64(n))
		excess := 0.0
		for i, c := range hist {
			if c > limit {
				excess += c - limit
				hist[i] = limit
			}
		}
		spread := excess / 256
		for i := range hist {
			hist[i] += spread
		}
	}

	cdf := 0.0
	for i, c := range hist {
		cdf += c
		m[i] = uint8(math.Min(255, math.Round(cdf*255/float64(n))))
	}
	return m
}

// Sauvola binarizes g with a local threshold m*(1+k*(s/R-1)) over an odd square window,
// where m and s are the window mean and standard deviation and R is half the dynamic range.
// Foreground becomes 0 and background 255.
func Sauvola(g *image.Gray, window int, k float64) (*image.Gray, error) {
	if window < 3 || window%2 == 0 {
		return nil, errors.New("sauvola window must be an odd size of at least 3")
	}
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	const r = 127.5

	sum := make([]float64, (w+1)*(h+1))
	sq := make([]float64, (w+1)*(h+1))
	for y := 0; y < h; y++ {
		var rs, rq float64
		for x := 0; x < w; x++ {
			v := float64(g.Pix[y*g.Stride+x])
			rs += v
			rq += v * v
			i := (y+1)*(w+1) + x + 1
			sum[i] = sum[i-(w+1)] + rs
			sq[i] = sq[i-(w+1)] + rq
		}
	}
	box := func(tab []float64, x0, y0, x1, y1 int) float64 {
		return tab[y1*(w+1)+x1] - tab[y0*(w+1)+x1] - tab[y1*(w+1)+x0] + tab[y0*(w+1)+x0]
	}

	half := window / 2
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		y0, y1 := max(0, y-half), min(h, y+half+1)
		for x := 0; x < w; x++ {
			x0, x1 := max(0, x-half), min(w, x+half+1)
			n := float64((x1 - x0) * (y1 - y0))
			mean := box(sum, x0, y0, x1, y1) / n
			variance := box(sq, x0, y0, x1, y1)/n - mean*mean
			if variance < 0 {
				variance = 0
			}
			t := mean * (1 + k*(math.Sqrt(variance)/r-1))
			if float64(g.Pix[y*g.Stride+x]) > t {
				out.Pix[y*out.Stride+x] = 255
			}
		}
	}
	return out, nil
}

// CropToContent trims blank margins around dark pixels, keeping padding on each side.
// When nothing dark is found g is returned as-is and cropped is false.
func CropToContent(g *image.Gray, padding int) (out *image.Gray, cropped bool) {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	minX, minY, maxX, maxY := w, h, -1, -1
	for y := 0; y < h; y++ {
		row := g.Pix[y*g.Stride : y*g.Stride+w]
		for x, v := range row {
			if v < 128 {
				minX, maxX = min(minX, x), max(maxX, x)
				minY, maxY = min(minY, y), max(maxY, y)
			}
		}
	}
	if maxX < 0 {
		return g, false
	}

	rect := image.Rect(
		max(0, minX-padding), max(0, minY-padding),
		min(w, maxX+padding+1), min(h, maxY+padding+1),
	)
	if rect.Dx() == w && rect.Dy() == h {
		return g, false
	}
	dst := image.NewGray(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	for y := 0; y < rect.Dy(); y++ {
		src := g.Pix[(rect.Min.Y+y)*g.Stride+rect.Min.X : (rect.Min.Y+y)*g.Stride+rect.Max.X]
		copy(dst.Pix[y*dst.Stride:], src)
	}
	return dst, true
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
