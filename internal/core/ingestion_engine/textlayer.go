package ingestion_engine

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/markdave123-py/docsift/internal/core"
)

// PDFTextLayer reads the text a PDF already embeds.
type PDFTextLayer struct {
	r *pdf.Reader
}

// OpenTextLayer parses data for its embedded text. Scanned PDFs open fine and
// simply return empty pages.
func OpenTextLayer(data []byte) (tl core.TextLayer, err error) {
	defer func() {
		if r := recover(); r != nil {
			tl, err = nil, fmt.Errorf("panic reading pdf text layer: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf text layer: %w", err)
	}
	return &PDFTextLayer{r: r}, nil
}

func (t *PDFTextLayer) NumPages() int { return t.r.NumPage() }

func (t *PDFTextLayer) PageText(ctx context.Context, page int) (text string, err error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if page < 1 || page > t.r.NumPage() {
		return "", fmt.Errorf("page %d out of range", page)
	}
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("panic reading page %d text: %v", page, r)
		}
	}()

	p := t.r.Page(page)
	if p.V.IsNull() {
		return "", nil
	}
	text, err = p.GetPlainText(nil)
	if err != nil {
		return "", fmt.Errorf("read page %d text: %w", page, err)
	}
	return strings.TrimSpace(text), nil
}

var _ core.TextLayer = (*PDFTextLayer)(nil)
