package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gen2brain/go-fitz"

	"github.com/markdave123-py/docsift/internal/core/outcome"
)

// ErrUnreadablePDF means the document could not be opened at all.
var ErrUnreadablePDF = errors.New("pdf cannot be opened")

// PageRenderer rasterizes pages of an opened document. Page numbers are 0-based.
type PageRenderer interface {
	NumPage() int
	ImageDPI(page int, dpi float64) (*image.RGBA, error)
	Close() error
}

// OpenFunc opens raw PDF bytes for rendering.
type OpenFunc func(data []byte) (PageRenderer, error)

// OpenFitz opens data with MuPDF.
func OpenFitz(data []byte) (PageRenderer, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// PageImage is one rendered page on disk. Number is 1-based.
type PageImage struct {
	Number int
	Path   string
}

// SplitResult holds every page outcome in page order. Call Cleanup when done.
type SplitResult struct {
	Dir   string
	Pages []outcome.Result[PageImage]
}

func (r *SplitResult) Cleanup() {
	if r != nil && r.Dir != "" {
		_ = os.RemoveAll(r.Dir)
	}
}

// Succeeded counts pages that rendered.
func (r *SplitResult) Succeeded() int {
	n := 0
	for _, p := range r.Pages {
		if p.IsOk() {
			n++
		}
	}
	return n
}

// Splitter renders each page to a PNG in a per-document temp directory.
type Splitter struct {
	open        OpenFunc
	dpi         float64
	pageTimeout time.Duration
	logger      *slog.Logger
}

func NewSplitter(open OpenFunc, dpi float64, pageTimeout time.Duration, logger *slog.Logger) *Splitter {
	if open == nil {
		open = OpenFitz
	}
	if dpi <= 0 {
		dpi = 144
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Splitter{open: open, dpi: dpi, pageTimeout: pageTimeout, logger: logger.With("component", "splitter")}
}

// Split fails only when the document cannot be opened. A page that fails to
// render is reported as skipped and the remaining pages are still rendered.
//
// A render that outlives the page timeout keeps the document busy, so that
// handle is abandoned and closed once the render returns. Later pages render
// from a freshly opened handle.
func (s *Splitter) Split(ctx context.Context, data []byte) (*SplitResult, error) {
	doc, err := s.openGuarded(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreadablePDF, err)
	}
	h := &docHandle{doc: doc}

	dir, err := os.MkdirTemp("", "docsift-pages-*")
	if err != nil {
		h.close()
		return nil, fmt.Errorf("create page dir: %w", err)
	}
	res := &SplitResult{Dir: dir}

	n := doc.NumPage()
	s.logger.Info("splitting document", "pages", n)
	var reopenErr error
	for i := 0; i < n; i++ {
		page := i + 1
		if err := ctx.Err(); err != nil {
			res.Pages = append(res.Pages, outcome.Skip[PageImage]("render failed", err))
			continue
		}
		if h == nil && reopenErr == nil {
			var fresh PageRenderer
			if fresh, reopenErr = s.openGuarded(data); reopenErr == nil {
				h = &docHandle{doc: fresh}
			}
		}
		if h == nil {
			err := fmt.Errorf("reopen after page timeout: %w", reopenErr)
			s.logger.Warn("page render failed", "page", page, "err", err)
			res.Pages = append(res.Pages, outcome.Skip[PageImage]("render failed", err))
			continue
		}

		img, err := s.renderPage(ctx, h, i)
		if errors.Is(err, errRenderAbandoned) {
			h.closeWhenIdle()
			h = nil
		}
		if err == nil {
			var path string
			path, err = writePNG(dir, page, img)
			if err == nil {
				res.Pages = append(res.Pages, outcome.Ok(PageImage{Number: page, Path: path}))
				continue
			}
		}
		s.logger.Warn("page render failed", "page", page, "err", err)
		res.Pages = append(res.Pages, outcome.Skip[PageImage]("render failed", err))
	}
	if h != nil {
		h.close()
	}
	return res, nil
}

// docHandle counts renders running against one opened document.
type docHandle struct {
	doc      PageRenderer
	inFlight sync.WaitGroup
}

// close waits for running renders before closing the document.
func (h *docHandle) close() {
	h.inFlight.Wait()
	_ = h.doc.Close()
}

// closeWhenIdle closes the document in the background once its renders return.
func (h *docHandle) closeWhenIdle() {
	go h.close()
}

func (s *Splitter) openGuarded(data []byte) (doc PageRenderer, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc, err = nil, fmt.Errorf("panic opening pdf: %v", r)
		}
	}()
	if len(data) == 0 {
		return nil, errors.New("empty document")
	}
	return s.open(data)
}

var errRenderAbandoned = errors.New("render abandoned")

type rendered struct {
	img image.Image
	err error
}

func (s *Splitter) renderPage(ctx context.Context, h *docHandle, i int) (image.Image, error) {
	if s.pageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.pageTimeout)
		defer cancel()
	}

	ch := make(chan rendered, 1)
	h.inFlight.Add(1)
	go func() {
		defer h.inFlight.Done()
		defer func() {
			if r := recover(); r != nil {
				ch <- rendered{err: fmt.Errorf("panic rendering page: %v", r)}
			}
		}()
		img, err := h.doc.ImageDPI(i, s.dpi)
		if err == nil && img == nil {
			err = errors.New("renderer returned no image")
		}
		ch <- rendered{img: img, err: err}
	}()

	select {
	case r := <-ch:
		return r.img, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("render page %d: %w: %w", i+1, errRenderAbandoned, ctx.Err())
	}
}

func writePNG(dir string, page int, img image.Image) (string, error) {
	path := filepath.Join(dir, fmt.Sprintf("page_%03d.png", page))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}
