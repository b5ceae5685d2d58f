// Package preprocess cleans rendered page images before they are sent for transcription.
package preprocess

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log/slog"

	"github.com/disintegration/imaging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Options tune every stage. DefaultOptions matches the values the pipeline ships with.
type Options struct {
	MaxSkewDegrees float64
	AngleSteps     int
	SkewThreshold  float64
	NumPeaks       int
	CannySigma     float64
	CannyLow       float64
	CannyHigh      float64

	MedianRadius int

	CLAHETiles     int
	CLAHEClipLimit float64

	SauvolaWindow int
	SauvolaK      float64

	CropPadding int
}

func DefaultOptions() Options {
	return Options{
		MaxSkewDegrees: 15,
		AngleSteps:     180,
		SkewThreshold:  0.1,
		NumPeaks:       20,
		CannySigma:     1,
		CannyLow:       0.1,
		CannyHigh:      0.3,
		MedianRadius:   1,
		CLAHETiles:     8,
		CLAHEClipLimit: 0.01,
		SauvolaWindow:  15,
		SauvolaK:       0.2,
		CropPadding:    5,
	}
}

// Report records what happened to one image.
type Report struct {
	SkewAngle float64
	Rotated   bool
	Cropped   bool
	Fallbacks []string
}

type Preprocessor struct {
	opts   Options
	logger *slog.Logger
}

func New(opts Options, logger *slog.Logger) *Preprocessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Preprocessor{opts: opts, logger: logger.With("component", "preprocess")}
}

// Process runs grayscale, deskew, denoise, contrast, binarize and crop in order.
// A stage that fails hands its input to the next stage unchanged.
func (p *Preprocessor) Process(ctx context.Context, img image.Image) (*image.Gray, Report) {
	_, span := otel.Tracer("docsift/preprocess").Start(ctx, "preprocess.page")
	defer span.End()

	var rep Report

	gray := toGray(img)

	gray = p.stage("deskew", gray, &rep, func(in *image.Gray) (*image.Gray, error) {
		angle := EstimateSkew(in, p.opts)
		rep.SkewAngle = angle
		if abs(angle) <= p.opts.SkewThreshold {
			return in, nil
		}
		rep.Rotated = true
		return Rotate(in, angle), nil
	})
	gray = p.stage("denoise", gray, &rep, func(in *image.Gray) (*image.Gray, error) {
		return MedianFilter(in, p.opts.MedianRadius), nil
	})
	gray = p.stage("contrast", gray, &rep, func(in *image.Gray) (*image.Gray, error) {
		return equalize(in, p.opts.CLAHETiles, p.opts.CLAHEClipLimit), nil
	})
	gray = p.stage("binarize", gray, &rep, func(in *image.Gray) (*image.Gray, error) {
		return Sauvola(in, p.opts.SauvolaWindow, p.opts.SauvolaK)
	})
	gray = p.stage("crop", gray, &rep, func(in *image.Gray) (*image.Gray, error) {
		out, cropped := CropToContent(in, p.opts.CropPadding)
		rep.Cropped = cropped
		return out, nil
	})

	span.SetAttributes(
		attribute.Float64("preprocess.skew_angle", rep.SkewAngle),
		attribute.Bool("preprocess.rotated", rep.Rotated),
		attribute.Int("preprocess.fallbacks", len(rep.Fallbacks)),
		attribute.String("preprocess.backend", Backend),
	)
	return gray, rep
}

func (p *Preprocessor) stage(name string, in *image.Gray, rep *Report, fn func(*image.Gray) (*image.Gray, error)) *image.Gray {
	out, err := guarded(in, fn)
	if err != nil || out == nil || out.Bounds().Empty() {
		p.logger.Warn("stage failed, keeping previous image", "stage", name, "err", err)
		rep.Fallbacks = append(rep.Fallbacks, name)
		return in
	}
	return out
}

func guarded(in *image.Gray, fn func(*image.Gray) (*image.Gray, error)) (out *image.Gray, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(in)
}

// Rotate turns g counter-clockwise by angle degrees, filling exposed corners with white.
func Rotate(g *image.Gray, angle float64) *image.Gray {
	return toGray(imaging.Rotate(g, angle, color.White))
}

// toGray copies img into a zero-origin *image.Gray.
func toGray(img image.Image) *image.Gray {
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)
	return g
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
