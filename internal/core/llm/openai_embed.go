package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/markdave123-py/docsift/internal/core"
	"github.com/markdave123-py/docsift/internal/core/failure"
)

// OpenAIEmbedder implements core.EmbeddingProvider over OpenAI-compatible embedding APIs.
type OpenAIEmbedder struct {
	embedder embeddings.Embedder
	guard    *callGuard
}

func NewOpenAIEmbedder(apiKey, baseURL, modelName string, gc GuardConfig) (*OpenAIEmbedder, error) {
	if apiKey == "" && baseURL == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY not set", failure.ErrMisconfigured)
	}
	client, err := newOpenAIClient(apiKey, baseURL, openai.WithEmbeddingModel(modelName))
	if err != nil {
		return nil, err
	}
	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, err
	}
	return &OpenAIEmbedder{embedder: embedder, guard: newCallGuard(providerOpenAI, gc)}, nil
}

func (e *OpenAIEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return guardedCall(ctx, e.guard, "embed", func(ctx context.Context) ([][]float32, error) {
		vecs, err := e.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("openai embed: %w", err)
		}
		return vecs, nil
	})
}

var _ core.EmbeddingProvider = (*OpenAIEmbedder)(nil)
