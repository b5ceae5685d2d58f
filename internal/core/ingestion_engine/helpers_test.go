package ingestion_engine

import (
	"errors"
	"image"
	"image/color"
	"time"

	"github.com/markdave123-py/docsift/internal/core"
	"github.com/markdave123-py/docsift/internal/core/failure"
	"github.com/markdave123-py/docsift/internal/core/retry"
)

func fastPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		Retryable:   failure.IsTransient,
	}
}

// fakeRenderer renders white pages; a non-nil entry in errs fails that page.
type fakeRenderer struct {
	errs   []error
	closed bool
}

func (f *fakeRenderer) NumPage() int { return len(f.errs) }

func (f *fakeRenderer) ImageDPI(i int, _ float64) (*image.RGBA, error) {
	if f.errs[i] != nil {
		return nil, f.errs[i]
	}
	img := image.NewRGBA(image.Rect(0, 0, 60, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 60; x++ {
			img.Set(x, y, color.White)
		}
	}
	return img, nil
}

func (f *fakeRenderer) Close() error {
	f.closed = true
	return nil
}

func openWith(r PageRenderer) OpenFunc {
	return func([]byte) (PageRenderer, error) { return r, nil }
}

func noTextLayer([]byte) (core.TextLayer, error) {
	return nil, errors.New("no text layer")
}

const longParagraph = "The quarterly inspection report confirms the equipment was serviced on schedule and passed all checks."
