package core

import "context"

// TextLayer exposes the text a PDF already embeds, page by page.
type TextLayer interface {
	// PageText returns the embedded text of a 1-based page, or "" when the page has none.
	PageText(ctx context.Context, page int) (string, error)
	NumPages() int
}
