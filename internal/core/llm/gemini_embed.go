package llm

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/markdave123-py/docsift/internal/core"
	"github.com/markdave123-py/docsift/internal/core/failure"
)

// geminiMaxBatch is the API limit on requests per BatchEmbedContents call.
const geminiMaxBatch = 100

type GeminiEmbedder struct {
	client    *genai.Client
	modelName string
	guard     *callGuard
}

func NewGeminiEmbedder(ctx context.Context, apiKey, modelName string, gc GuardConfig) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: GEMINI_API_KEY not set", failure.ErrMisconfigured)
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "text-embedding-004"
	}
	return &GeminiEmbedder{client: cl, modelName: modelName, guard: newCallGuard(providerGemini, gc)}, nil
}

func (g *GeminiEmbedder) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// EmbedTexts embeds texts in order, splitting into API-sized batches.
func (g *GeminiEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	em := g.client.EmbeddingModel(g.modelName)
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += geminiMaxBatch {
		end := min(start+geminiMaxBatch, len(texts))

		batch := em.NewBatch()
		for _, t := range texts[start:end] {
			batch.AddContent(genai.Text(t))
		}

		vecs, err := guardedCall(ctx, g.guard, "embed", func(ctx context.Context) ([][]float32, error) {
			resp, err := em.BatchEmbedContents(ctx, batch)
			if err != nil {
				return nil, fmt.Errorf("gemini batch embed: %w", err)
			}
			vs := make([][]float32, 0, len(resp.Embeddings))
			for _, e := range resp.Embeddings {
				if e == nil {
					vs = append(vs, nil)
					continue
				}
				vs = append(vs, e.Values)
			}
			return vs, nil
		})
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

var _ core.EmbeddingProvider = (*GeminiEmbedder)(nil)
