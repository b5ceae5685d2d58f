package ingestion_engine

import (
	"log/slog"
	"time"

	"github.com/markdave123-py/docsift/internal/config"
	"github.com/markdave123-py/docsift/internal/core"
	"github.com/markdave123-py/docsift/internal/core/preprocess"
	"github.com/markdave123-py/docsift/internal/core/retry"
	"github.com/markdave123-py/docsift/internal/telemetry"
)

// IngestConfig tunes the per-document pipeline.
//
// ChunkSize:      window length in characters for paragraphs that are too long (e.g., 1000).
// ChunkOverlap:   characters shared by consecutive windows (e.g., 100).
// MinChunkLength: chunks shorter than this are dropped as noise (e.g., 50).
// EmbedDim:       expected embedding dimension; 0 skips the check.
// RenderDPI:      resolution pages are rasterized at.
// PageTimeout:    upper bound for rendering one page.
// Retry:          policy applied to every provider call.
type IngestConfig struct {
	ChunkSize      int
	ChunkOverlap   int
	MinChunkLength int
	EmbedDim       int
	RenderDPI      float64
	PageTimeout    time.Duration
	Retry          retry.Policy
	Preprocess     preprocess.Options
}

// DefaultIngestConfig returns the shipped defaults.
func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		ChunkSize:      1000,
		ChunkOverlap:   100,
		MinChunkLength: 50,
		RenderDPI:      144,
		PageTimeout:    30 * time.Second,
		Retry:          retry.Default(),
		Preprocess:     preprocess.DefaultOptions(),
	}
}

// IngestConfigFromEnv maps the loaded configuration onto pipeline settings.
func IngestConfigFromEnv(cfg *config.Config) IngestConfig {
	ic := DefaultIngestConfig()
	ic.ChunkSize = cfg.ChunkSize
	ic.ChunkOverlap = cfg.ChunkOverlap
	ic.MinChunkLength = cfg.MinChunkLength
	ic.EmbedDim = cfg.EmbedDim
	ic.RenderDPI = cfg.RenderDPI
	ic.PageTimeout = cfg.PageTimeout
	ic.Retry.MaxAttempts = cfg.RetryMaxAttempts
	ic.Retry.BaseDelay = cfg.RetryBaseDelay
	ic.Retry.MaxDelay = cfg.RetryMaxDelay
	return ic
}

// Dependencies are the collaborators a DocumentIngestor is built from.
type Dependencies struct {
	Store    core.VectorStore
	Objects  core.ObjectClient
	Vision   core.VisionProvider
	LLM      core.LLMProvider
	Embedder core.EmbeddingProvider
	Metrics  *telemetry.Metrics
	Logger   *slog.Logger

	// OpenPDF and OpenTextLayer default to go-fitz and ledongthuc/pdf.
	OpenPDF       OpenFunc
	OpenTextLayer func(data []byte) (core.TextLayer, error)
}

// DocumentIngestor runs one document through split, preprocess, extract,
// parse, chunk, embed and store.
//
// store:     sole writer of documents and chunks.
// objects:   where uploads wait for a worker.
// splitter:  PDF to page images.
// prep:      page image cleanup.
// extractor: page image to text.
// parser:    page text to structured entities.
// chunker:   page text to chunks.
// embedder:  chunk text to vectors.
type DocumentIngestor struct {
	store         core.VectorStore
	objects       core.ObjectClient
	splitter      *Splitter
	prep          *preprocess.Preprocessor
	extractor     *TextExtractor
	parser        *InfoParser
	chunker       *Chunker
	embedder      *EmbeddingGenerator
	openTextLayer func(data []byte) (core.TextLayer, error)
	metrics       *telemetry.Metrics
	logger        *slog.Logger
}
