package preprocess

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syntheticPage draws dark horizontal bars on white, like lines of text.
func syntheticPage(w, h int) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for i := range g.Pix {
		g.Pix[i] = 255
	}
	for top := 40; top+8 < h-40; top += 30 {
		for y := top; y < top+8; y++ {
			for x := 40; x < w-40; x++ {
				g.Pix[y*g.Stride+x] = 20
			}
		}
	}
	return g
}

func blank(w, h int, v uint8) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for i := range g.Pix {
		g.Pix[i] = v
	}
	return g
}

func TestEstimateSkew_Unrotated(t *testing.T) {
	angle := EstimateSkew(syntheticPage(320, 240), DefaultOptions())
	assert.InDelta(t, 0, angle, 0.1)
}

func TestEstimateSkew_Rotated(t *testing.T) {
	rotated := Rotate(syntheticPage(320, 240), 5)
	angle := EstimateSkew(rotated, DefaultOptions())
	assert.InDelta(t, -5, angle, 1.0, "counter-clockwise rotation reads as a negative skew")
}

func TestEstimateSkew_BlankImage(t *testing.T) {
	assert.Equal(t, 0.0, EstimateSkew(blank(64, 64, 255), DefaultOptions()))
	assert.Equal(t, 0.0, EstimateSkew(blank(2, 2, 0), DefaultOptions()))
}

func TestMedianFilter_RemovesSaltNoise(t *testing.T) {
	g := blank(9, 9, 255)
	g.SetGray(4, 4, color.Gray{Y: 0})

	out := MedianFilter(g, 1)
	assert.Equal(t, uint8(255), out.GrayAt(4, 4).Y)
	assert.Equal(t, g.Bounds(), out.Bounds())
}

func TestMedianFilter_ZeroRadiusIsIdentity(t *testing.T) {
	g := syntheticPage(50, 50)
	assert.Same(t, g, MedianFilter(g, 0))
}

func TestCLAHE_StretchesLowContrast(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			g.Pix[y*g.Stride+x] = uint8(100 + x*40/64)
		}
	}

	out := CLAHE(g, 8, 0.5)
	require.Equal(t, g.Bounds(), out.Bounds())

	lo, hi := 255, 0
	for _, v := range out.Pix {
		lo, hi = min(lo, int(v)), max(hi, int(v))
	}
	assert.Greater(t, hi-lo, 39, "local equalization should widen a narrow range")
}

func TestCLAHE_UniformWhiteStaysWhite(t *testing.T) {
	out := CLAHE(blank(40, 40, 255), 8, 0.01)
	for _, v := range out.Pix {
		require.Equal(t, uint8(255), v)
	}
}

func TestSauvola_SeparatesTextFromUnevenBackground(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 60, 30))
	for y := 0; y < 30; y++ {
		for x := 0; x < 60; x++ {
			g.Pix[y*g.Stride+x] = uint8(150 + x) // light gradient
		}
	}
	for y := 12; y < 16; y++ {
		for x := 10; x < 50; x++ {
			g.Pix[y*g.Stride+x] = 30
		}
	}

	out, err := Sauvola(g, 15, 0.2)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), out.GrayAt(20, 13).Y)
	assert.Equal(t, uint8(255), out.GrayAt(5, 2).Y)
	assert.Equal(t, uint8(255), out.GrayAt(55, 28).Y)
}

func TestSauvola_RejectsEvenWindow(t *testing.T) {
	_, err := Sauvola(blank(10, 10, 200), 14, 0.2)
	assert.Error(t, err)
}

func TestCropToContent(t *testing.T) {
	g := blank(100, 80, 255)
	for y := 30; y < 40; y++ {
		for x := 20; x < 60; x++ {
			g.Pix[y*g.Stride+x] = 0
		}
	}

	out, cropped := CropToContent(g, 5)
	assert.True(t, cropped)
	assert.Equal(t, 40+10, out.Bounds().Dx())
	assert.Equal(t, 10+10, out.Bounds().Dy())
	assert.Equal(t, uint8(0), out.GrayAt(5, 5).Y)
}

func TestCropToContent_NoForegroundReturnsInput(t *testing.T) {
	g := blank(40, 40, 255)
	out, cropped := CropToContent(g, 5)
	assert.False(t, cropped)
	assert.Same(t, g, out)
}

func TestProcess_BlankPageNeverFails(t *testing.T) {
	p := New(DefaultOptions(), nil)
	src := image.NewRGBA(image.Rect(0, 0, 80, 60))
	for i := range src.Pix {
		src.Pix[i] = 255
	}

	out, rep := p.Process(context.Background(), src)
	require.NotNil(t, out)
	assert.Equal(t, 80, out.Bounds().Dx())
	assert.Equal(t, 60, out.Bounds().Dy())
	assert.False(t, rep.Cropped)
	assert.False(t, rep.Rotated)
	assert.Empty(t, rep.Fallbacks)
}

func TestProcess_TextPageIsBinarizedAndCropped(t *testing.T) {
	p := New(DefaultOptions(), nil)

	out, rep := p.Process(context.Background(), syntheticPage(200, 160))
	require.NotNil(t, out)
	assert.InDelta(t, 0, rep.SkewAngle, 0.1)
	assert.False(t, rep.Rotated)
	assert.True(t, rep.Cropped)
	assert.Less(t, out.Bounds().Dx(), 200)

	for _, v := range out.Pix {
		assert.True(t, v == 0 || v == 255, "output must be binary")
	}
}

func TestProcess_StageFallbackOnBadOptions(t *testing.T) {
	opts := DefaultOptions()
	opts.SauvolaWindow = 4
	p := New(opts, nil)

	_, rep := p.Process(context.Background(), syntheticPage(100, 100))
	assert.Contains(t, rep.Fallbacks, "binarize")
}

func TestMedianFilter_RemovesThinLine(t *testing.T) {
	g := blank(9, 9, 255)
	for x := 0; x < 9; x++ {
		g.SetGray(x, 4, color.Gray{Y: 0})
	}
	out := MedianFilter(g, 1)
	assert.Equal(t, uint8(255), out.GrayAt(4, 4).Y, "a one-pixel line is a minority in a 3x3 window")
	assert.Equal(t, uint8(255), out.GrayAt(4, 0).Y)
}

func TestEqualizeMatchesBackend(t *testing.T) {
	g := syntheticPage(80, 60)
	out := equalize(g, 8, 0.01)
	assert.Equal(t, g.Bounds(), out.Bounds())
	assert.NotEmpty(t, Backend)
}
