package ingestion_engine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"time"

	pkgerrors "github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/docsift/internal/core"
	"github.com/markdave123-py/docsift/internal/core/preprocess"
	"github.com/markdave123-py/docsift/internal/models"
)

// Pipeline stages named in errors and task error info.
const (
	StageLoad     = "load"
	StageSplit    = "split"
	StageExtract  = "extract"
	StageParse    = "parse"
	StageEmbed    = "embed"
	StageStore    = "store"
	StageDocument = "document"
)

// StageError tags a pipeline failure with the stage it happened in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return e.Stage + ": " + e.Err.Error() }
func (e *StageError) Unwrap() error { return e.Err }

// stageErr records the stage and the stack at the point of failure.
func stageErr(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: pkgerrors.WithStack(err)}
}

// StageOf returns the stage recorded on err, or "".
func StageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

var tracer = otel.Tracer("docsift/ingestion")

// NewDocumentIngestor wires the stages from deps.
func NewDocumentIngestor(deps Dependencies, cfg IngestConfig) *DocumentIngestor {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policy := cfg.Retry
	if policy.Logger == nil {
		policy.Logger = logger
	}
	if policy.OnRetry == nil && deps.Metrics != nil {
		metrics := deps.Metrics
		policy.OnRetry = func(op string, _ int, _ error) {
			metrics.RecordRetry(context.Background(), op)
		}
	}
	openText := deps.OpenTextLayer
	if openText == nil {
		openText = OpenTextLayer
	}

	return &DocumentIngestor{
		store:         deps.Store,
		objects:       deps.Objects,
		splitter:      NewSplitter(deps.OpenPDF, cfg.RenderDPI, cfg.PageTimeout, logger),
		prep:          preprocess.New(cfg.Preprocess, logger),
		extractor:     NewTextExtractor(deps.Vision, policy, logger),
		parser:        NewInfoParser(deps.LLM, policy, logger),
		chunker:       NewChunker(cfg.ChunkSize, cfg.ChunkOverlap, cfg.MinChunkLength),
		embedder:      NewEmbeddingGenerator(deps.Embedder, policy, cfg.EmbedDim, logger),
		openTextLayer: openText,
		metrics:       deps.Metrics,
		logger:        logger.With("component", "ingestor"),
	}
}

// Process fetches the job's upload from object storage and ingests it.
func (i *DocumentIngestor) Process(ctx context.Context, job models.IngestJob) (*models.IngestSummary, error) {
	if i.objects == nil {
		return nil, stageErr(StageLoad, errors.New("no object storage configured"))
	}
	data, err := i.objects.GetFile(ctx, job.ObjectKey)
	if err != nil {
		return nil, stageErr(StageLoad, fmt.Errorf("get object %q: %w", job.ObjectKey, err))
	}
	return i.ProcessBytes(ctx, job, data)
}

// ProcessBytes runs split, preprocess, extract, parse, chunk, embed and store
// for one document. Page-level problems are absorbed; provider auth, storage
// and data integrity failures are returned.
func (i *DocumentIngestor) ProcessBytes(ctx context.Context, job models.IngestJob, data []byte) (*models.IngestSummary, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "ingest.document")
	defer span.End()
	span.SetAttributes(attribute.Int64("document.id", job.DocumentID), attribute.String("document.filename", job.FileName))

	log := i.logger.With("document_id", job.DocumentID, "filename", job.FileName)

	if job.ContentHash == "" {
		sum := sha256.Sum256(data)
		job.ContentHash = hex.EncodeToString(sum[:])
	}
	doc, err := i.store.EnsureDocument(ctx, &models.Document{
		ID:          job.DocumentID,
		ContentHash: job.ContentHash,
		FileName:    job.FileName,
	})
	if err != nil {
		return nil, stageErr(StageDocument, err)
	}
	if doc.ID != job.DocumentID {
		log.Info("identical content already stored, reusing document", "resolved_document_id", doc.ID)
	}

	// Rendering and text layer parsing are independent reads of the same bytes.
	var (
		split *SplitResult
		layer core.TextLayer
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		split, err = i.splitter.Split(gctx, data)
		return err
	})
	g.Go(func() error {
		tl, err := i.openTextLayer(data)
		if err != nil {
			log.Debug("no usable text layer", "err", err)
			return nil
		}
		layer = tl
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, stageErr(StageSplit, err)
	}
	defer split.Cleanup()

	summary := &models.IngestSummary{
		DocumentID:          doc.ID,
		RequestedDocumentID: job.DocumentID,
		Deduplicated:        doc.ID != job.DocumentID,
		FileName:            job.FileName,
		PagesTotal:          len(split.Pages),
	}

	var pages []PageText
	for _, po := range split.Pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, ok := po.Value()
		if !ok {
			summary.PagesFailed++
			i.metrics.RecordPage(ctx, "failed")
			continue
		}
		page, err := i.processPage(ctx, log, img, layer)
		if err != nil {
			return nil, err
		}
		if page == nil {
			summary.PagesFailed++
			i.metrics.RecordPage(ctx, "failed")
			continue
		}
		summary.PagesProcessed++
		i.metrics.RecordPage(ctx, "ok")
		pages = append(pages, *page)
	}

	chunks := i.chunker.ChunkDocument(doc.ID, job.FileName, pages)
	summary.ChunksGenerated = len(chunks)
	if len(chunks) == 0 {
		summary.StoreOutcome = "no_chunks"
		log.Warn("document produced no chunks", "pages_total", summary.PagesTotal, "pages_failed", summary.PagesFailed)
		return summary, nil
	}

	embedCtx, embedSpan := tracer.Start(ctx, "ingest.embed")
	rep, err := i.embedder.Embed(embedCtx, chunks)
	embedSpan.End()
	if err != nil {
		return nil, stageErr(StageEmbed, err)
	}
	summary.ChunksEmbedded = rep.Sent

	storeCtx, storeSpan := tracer.Start(ctx, "ingest.store")
	upsert, err := i.store.UpsertChunks(storeCtx, doc.ID, chunks)
	storeSpan.End()
	if err != nil {
		return nil, stageErr(StageStore, err)
	}
	summary.ChunksStored = upsert.Upserted
	summary.ChunksSkipped = upsert.Skipped
	summary.ChunksPruned = upsert.Pruned
	summary.StoreOutcome = "stored"
	for _, w := range upsert.Warnings {
		log.Warn("chunk not stored", "warning", w)
	}
	i.metrics.RecordChunksStored(ctx, upsert.Upserted)

	log.Info("document ingested",
		"pages_processed", summary.PagesProcessed,
		"pages_failed", summary.PagesFailed,
		"chunks", summary.ChunksStored,
		"pruned", summary.ChunksPruned,
		"elapsed", time.Since(start).String(),
	)
	return summary, nil
}

// processPage returns nil when the page yields no text and an error only for
// failures that must abort the document.
func (i *DocumentIngestor) processPage(ctx context.Context, log *slog.Logger, img PageImage, layer core.TextLayer) (*PageText, error) {
	ctx, span := tracer.Start(ctx, "ingest.page")
	defer span.End()
	span.SetAttributes(attribute.Int("page.number", img.Number))
	log = log.With("page", img.Number)

	page := &PageText{Number: img.Number, Source: SourceVision}

	cleaned, err := i.loadAndClean(ctx, img.Path)
	if err != nil {
		log.Warn("page image unusable", "err", err)
	} else {
		res := i.extractor.Extract(ctx, cleaned)
		if res.IsFatal() {
			return nil, stageErr(StageExtract, res.Err())
		}
		page.Text, _ = res.Value()
	}

	if page.Text == "" && layer != nil {
		text, err := layer.PageText(ctx, img.Number)
		if err != nil {
			log.Debug("text layer unavailable for page", "err", err)
		}
		if text != "" {
			log.Info("using embedded text layer for page")
			page.Text, page.Source = text, SourceTextLayer
		}
	}
	if page.Text == "" {
		log.Warn("page produced no text")
		return nil, nil
	}

	res := i.parser.Parse(ctx, page.Text)
	if res.IsFatal() {
		return nil, stageErr(StageParse, res.Err())
	}
	if entities, ok := res.Value(); ok {
		page.Entities = &entities
	}
	return page, nil
}

func (i *DocumentIngestor) loadAndClean(ctx context.Context, path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	src, err := png.Decode(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("decode page image: %w", err)
	}

	cleaned, rep := i.prep.Process(ctx, src)
	if len(rep.Fallbacks) > 0 {
		i.logger.Debug("preprocessing fell back", "stages", rep.Fallbacks)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, cleaned); err != nil {
		return nil, fmt.Errorf("encode page image: %w", err)
	}
	return buf.Bytes(), nil
}
