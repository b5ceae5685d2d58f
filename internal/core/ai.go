package core

import "context"

// EmbeddingProvider turns texts into fixed-dimension vectors, one per input, in order.
type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// LLMProvider is a text chat model.
type LLMProvider interface {
	Generate(ctx context.Context, systemPrompt string, userPrompt string, opts ...GenerateOption) (string, error)
}

// VisionProvider is a chat model that accepts one image alongside a prompt.
type VisionProvider interface {
	DescribeImage(ctx context.Context, prompt string, image []byte, mimeType string) (string, error)
}

// GenerateOptions tune a single Generate call.
type GenerateOptions struct {
	JSON        bool
	Temperature *float32
	MaxTokens   int
}

type GenerateOption func(*GenerateOptions)

// WithJSONResponse asks the provider to constrain output to a JSON object.
func WithJSONResponse() GenerateOption {
	return func(o *GenerateOptions) { o.JSON = true }
}

func WithTemperature(t float32) GenerateOption {
	return func(o *GenerateOptions) { o.Temperature = &t }
}

func WithMaxTokens(n int) GenerateOption {
	return func(o *GenerateOptions) { o.MaxTokens = n }
}

// ApplyGenerateOptions folds opts into a GenerateOptions value.
func ApplyGenerateOptions(opts ...GenerateOption) GenerateOptions {
	var o GenerateOptions
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
