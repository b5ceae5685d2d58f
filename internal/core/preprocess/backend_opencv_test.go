//go:build gocv

package preprocess

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenCVEqualize_WidensNarrowRange(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			g.Pix[y*g.Stride+x] = uint8(100 + x*40/64)
		}
	}

	out := equalize(g, 8, 0.5)
	require.Equal(t, g.Bounds(), out.Bounds())
	lo, hi := 255, 0
	for _, v := range out.Pix {
		lo, hi = min(lo, int(v)), max(hi, int(v))
	}
	assert.Greater(t, hi-lo, 39)
}

func TestOpenCVEdgeMap_FindsBarEdges(t *testing.T) {
	edges := edgeMap(syntheticPage(120, 100), 120, 100, 0.1, 0.3)
	require.Len(t, edges, 120*100)
	n := 0
	for _, e := range edges {
		if e {
			n++
		}
	}
	assert.Positive(t, n)
	assert.Equal(t, 0.0, EstimateSkew(blank(64, 64, 255), DefaultOptions()))
}
