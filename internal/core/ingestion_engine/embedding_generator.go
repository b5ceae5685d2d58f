package ingestion_engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/markdave123-py/docsift/internal/core"
	"github.com/markdave123-py/docsift/internal/core/failure"
	"github.com/markdave123-py/docsift/internal/core/retry"
	"github.com/markdave123-py/docsift/internal/models"
)

// EmbeddingGenerator attaches vectors to chunks in one provider call.
type EmbeddingGenerator struct {
	provider core.EmbeddingProvider
	policy   retry.Policy
	dim      int
	logger   *slog.Logger
}

func NewEmbeddingGenerator(provider core.EmbeddingProvider, policy retry.Policy, dim int, logger *slog.Logger) *EmbeddingGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmbeddingGenerator{provider: provider, policy: policy, dim: dim, logger: logger.With("component", "embedder")}
}

// EmbedReport counts what one Embed call did.
type EmbedReport struct {
	Sent    int
	Skipped int
}

// Embed sets Embedding on every chunk with usable text. Chunks with empty or
// invalid text get a nil embedding. The whole batch fails if the provider
// fails or returns a different number of vectors than texts sent.
func (g *EmbeddingGenerator) Embed(ctx context.Context, chunks []models.DocumentChunk) (EmbedReport, error) {
	var rep EmbedReport
	texts := make([]string, 0, len(chunks))
	index := make([]int, 0, len(chunks))
	for i := range chunks {
		t := chunks[i].Text
		if strings.TrimSpace(t) == "" || !utf8.ValidString(t) {
			chunks[i].Embedding = nil
			rep.Skipped++
			continue
		}
		texts = append(texts, t)
		index = append(index, i)
	}
	if len(texts) == 0 {
		g.logger.Debug("no chunk text to embed", "skipped", rep.Skipped)
		return rep, nil
	}

	vecs, err := retry.Do(ctx, g.policy, "embed.batch", func(ctx context.Context) ([][]float32, error) {
		return g.provider.EmbedTexts(ctx, texts)
	})
	if err != nil {
		return rep, fmt.Errorf("embed %d chunks: %w", len(texts), err)
	}
	if len(vecs) != len(texts) {
		return rep, fmt.Errorf("%w: sent %d texts, received %d embeddings", failure.ErrDataIntegrity, len(texts), len(vecs))
	}
	for j, v := range vecs {
		if len(v) == 0 || (g.dim > 0 && len(v) != g.dim) {
			return rep, fmt.Errorf("%w: embedding %d has dimension %d, want %d", failure.ErrDataIntegrity, j, len(v), g.dim)
		}
	}

	for j, i := range index {
		chunks[i].Embedding = vecs[j]
	}
	rep.Sent = len(texts)
	g.logger.Debug("chunks embedded", "sent", rep.Sent, "skipped", rep.Skipped)
	return rep, nil
}
