package ingestion_engine

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/markdave123-py/docsift/internal/models"
)

// Text sources recorded in chunk metadata.
const (
	SourceVision    = "vision"
	SourceTextLayer = "text_layer"
)

// PageText is the extracted content of one page, ready for chunking.
type PageText struct {
	Number   int
	Text     string
	Source   string
	Entities *models.PageEntities
}

// Chunker splits page text on paragraph boundaries and windows paragraphs
// that are longer than Size characters.
type Chunker struct {
	Size      int
	Overlap   int
	MinLength int
}

func NewChunker(size, overlap, minLength int) *Chunker {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	return &Chunker{Size: size, Overlap: overlap, MinLength: minLength}
}

var paragraphBreak = regexp.MustCompile(`\n[ \t]*\n`)

// ChunkID names chunk n (1-based) of a page.
func ChunkID(documentID int64, page, n int) string {
	return fmt.Sprintf("doc%d_p%d_c%d", documentID, page, n)
}

// ChunkDocument chunks every page in order. Position runs across the whole document.
func (c *Chunker) ChunkDocument(documentID int64, fileName string, pages []PageText) []models.DocumentChunk {
	var out []models.DocumentChunk
	for _, p := range pages {
		for _, ch := range c.ChunkPage(documentID, fileName, p) {
			ch.Position = len(out)
			out = append(out, ch)
		}
	}
	return out
}

// ChunkPage returns the chunks of one page with Position numbered from 0.
func (c *Chunker) ChunkPage(documentID int64, fileName string, page PageText) []models.DocumentChunk {
	var out []models.DocumentChunk
	for _, piece := range c.Split(page.Text) {
		n := len(out) + 1
		out = append(out, models.DocumentChunk{
			ID:         ChunkID(documentID, page.Number, n),
			DocumentID: documentID,
			Text:       piece,
			Position:   len(out),
			TokenCount: approxTokens(piece),
			Metadata: models.ChunkMetadata{
				SourceDocument:   fileName,
				DocumentID:       documentID,
				PageNumber:       page.Number,
				ChunkIndexOnPage: n,
				TextSource:       page.Source,
				Entities:         page.Entities,
			},
		})
	}
	return out
}

// Split returns the retained text pieces of text in order.
func (c *Chunker) Split(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var pieces []string
	for _, para := range paragraphBreak.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		for _, w := range c.window(para) {
			w = strings.TrimSpace(w)
			if utf8.RuneCountInString(w) < c.MinLength {
				continue
			}
			pieces = append(pieces, w)
		}
	}
	return pieces
}

// window cuts s into Size-rune windows sharing Overlap runes.
func (c *Chunker) window(s string) []string {
	runes := []rune(s)
	if len(runes) <= c.Size {
		return []string{s}
	}
	step := c.Size - c.Overlap
	var out []string
	for start := 0; start < len(runes); start += step {
		end := min(start+c.Size, len(runes))
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return out
}

// approxTokens is a cheap token estimator (~4 chars ≈ 1 token).
func approxTokens(s string) int {
	n := utf8.RuneCountInString(s)
	if n <= 0 {
		return 0
	}
	return (n + 3) / 4
}
