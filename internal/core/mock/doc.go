// Package mock provides test doubles for the provider, store and object
// storage interfaces in package core.
//
// Function fields override the default behavior:
//
//	emb := mock.NewMockEmbedder()
//	emb.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
//	    return nil, errors.New("invalid api key")
//	}
//
// Defaults are deterministic: embeddings are derived from an FNV hash of the
// text, the LLM echoes a fixed answer and the vision model returns fixed text.
package mock
