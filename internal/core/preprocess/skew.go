package preprocess

import (
	"image"
	"math"
	"sort"

	"github.com/disintegration/imaging"
)

// EstimateSkew returns the dominant text-line angle in degrees within
// [-MaxSkewDegrees, MaxSkewDegrees). Positive angles mean lines fall to the right;
// rotating counter-clockwise by the result levels them. Zero when no lines are found.
func EstimateSkew(g *image.Gray, opts Options) float64 {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 3 || h < 3 || opts.AngleSteps <= 0 {
		return 0
	}

	src := image.Image(g)
	if opts.CannySigma > 0 {
		src = imaging.Blur(g, opts.CannySigma)
	}
	edges := edgeMap(src, w, h, opts.CannyLow, opts.CannyHigh)

	angles := make([]float64, opts.AngleSteps)
	cosT := make([]float64, opts.AngleSteps)
	sinT := make([]float64, opts.AngleSteps)
	for k := range angles {
		a := -opts.MaxSkewDegrees + 2*opts.MaxSkewDegrees*float64(k)/float64(opts.AngleSteps)
		angles[k] = a
		theta := (90 + a) * math.Pi / 180
		cosT[k] = math.Cos(theta)
		sinT[k] = math.Sin(theta)
	}

	diag := int(math.Ceil(math.Hypot(float64(w), float64(h))))
	nRho := 2*diag + 1
	acc := make([]int32, opts.AngleSteps*nRho)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !edges[y*w+x] {
				continue
			}
			fx, fy := float64(x), float64(y)
			for k := range angles {
				rho := int(math.Round(fx*cosT[k]+fy*sinT[k])) + diag
				acc[k*nRho+rho]++
			}
		}
	}

	peaks := houghPeaks(acc, angles, nRho, opts.NumPeaks)
	if len(peaks) == 0 {
		return 0
	}
	found := make([]float64, len(peaks))
	for i, k := range peaks {
		found[i] = angles[k]
	}
	return median(found)
}

type cell struct {
	angle, rho int
	votes      int32
}

// houghPeaks picks up to n local maxima holding at least half the top vote count,
// suppressing neighbours within a fixed window. Ties go to the angle nearest zero.
// It returns angle indices.
func houghPeaks(acc []int32, angles []float64, nRho, n int) []int {
	nAngles := len(angles)
	const minDistRho, minDistAngle = 9, 10

	var top int32
	for _, v := range acc {
		if v > top {
			top = v
		}
	}
	if top == 0 {
		return nil
	}
	threshold := top / 2
	if threshold < 1 {
		threshold = 1
	}

	var cands []cell
	for k := 0; k < nAngles; k++ {
		row := acc[k*nRho : (k+1)*nRho]
		for r, v := range row {
			if v >= threshold {
				cands = append(cands, cell{angle: k, rho: r, votes: v})
			}
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].votes != cands[j].votes {
			return cands[i].votes > cands[j].votes
		}
		ai, aj := abs(angles[cands[i].angle]), abs(angles[cands[j].angle])
		if ai != aj {
			return ai < aj
		}
		if cands[i].angle != cands[j].angle {
			return cands[i].angle < cands[j].angle
		}
		return cands[i].rho < cands[j].rho
	})

	var picked []cell
	for _, c := range cands {
		if n > 0 && len(picked) >= n {
			break
		}
		near := false
		for _, p := range picked {
			if absInt(p.angle-c.angle) <= minDistAngle && absInt(p.rho-c.rho) <= minDistRho {
				near = true
				break
			}
		}
		if !near {
			picked = append(picked, c)
		}
	}

	out := make([]int, len(picked))
	for i, p := range picked {
		out[i] = p.angle
	}
	return out
}

// canny returns an edge mask using Sobel gradients, non-maximum suppression and
// hysteresis between low and high magnitude thresholds.
func canny(px []float64, w, h int, low, high float64) []bool {
	mag := make([]float64, w*h)
	gxs := make([]float64, w*h)
	gys := make([]float64, w*h)

	at := func(x, y int) float64 {
		x = clampInt(x, 0, w-1)
		y = clampInt(y, 0, h-1)
		return px[y*w+x]
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			gx := (at(x+1, y-1) + 2*at(x+1, y) + at(x+1, y+1)) - (at(x-1, y-1) + 2*at(x-1, y) + at(x-1, y+1))
			gy := (at(x-1, y+1) + 2*at(x, y+1) + at(x+1, y+1)) - (at(x-1, y-1) + 2*at(x, y-1) + at(x+1, y-1))
			i := y*w + x
			gxs[i], gys[i] = gx, gy
			mag[i] = math.Hypot(gx, gy)
		}
	}

	thin := make([]float64, w*h)
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			m := mag[i]
			if m < low {
				continue
			}
			dir := math.Atan2(gys[i], gxs[i]) * 180 / math.Pi
			if dir < 0 {
				dir += 180
			}
			var a, b float64
			switch {
			case dir < 22.5 || dir >= 157.5:
				a, b = mag[i-1], mag[i+1]
			case dir < 67.5:
				a, b = mag[i-w-1], mag[i+w+1]
			case dir < 112.5:
				a, b = mag[i-w], mag[i+w]
			default:
				a, b = mag[i-w+1], mag[i+w-1]
			}
			if m >= a && m >= b {
				thin[i] = m
			}
		}
	}

	edges := make([]bool, w*h)
	stack := make([]int, 0, 1024)
	for i, m := range thin {
		if m >= high && !edges[i] {
			edges[i] = true
			stack = append(stack, i)
			for len(stack) > 0 {
				j := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				jx, jy := j%w, j/w
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						nx, ny := jx+dx, jy+dy
						if nx < 0 || ny < 0 || nx >= w || ny >= h {
							continue
						}
						k := ny*w + nx
						if !edges[k] && thin[k] >= low {
							edges[k] = true
							stack = append(stack, k)
						}
					}
				}
			}
		}
	}
	return edges
}

// luminance flattens img into row-major values in [0,1].
func luminance(img image.Image) []float64 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]float64, w*h)
	if g, ok := img.(*image.Gray); ok {
		for y := 0; y < h; y++ {
			row := g.Pix[y*g.Stride : y*g.Stride+w]
			for x, v := range row {
				out[y*w+x] = float64(v) / 255
			}
		}
		return out
	}
	if n, ok := img.(*image.NRGBA); ok {
		for y := 0; y < h; y++ {
			row := n.Pix[y*n.Stride : y*n.Stride+4*w]
			for x := 0; x < w; x++ {
				r, gg, bb := float64(row[4*x]), float64(row[4*x+1]), float64(row[4*x+2])
				out[y*w+x] = (0.299*r + 0.587*gg + 0.114*bb) / 255
			}
		}
		return out
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, gg, bb, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			out[y*w+x] = (0.299*float64(r) + 0.587*float64(gg) + 0.114*float64(bb)) / 65535
		}
	}
	return out
}

func median(vals []float64) float64 {
	s := append([]float64(nil), vals...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
