package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/markdave123-py/docsift/internal/core"
	"github.com/markdave123-py/docsift/internal/core/failure"
)

const providerGemini = "gemini"

// GeminiLLM serves text generation and page transcription from Gemini models.
type GeminiLLM struct {
	client      *genai.Client
	modelName   string
	visionModel string
	guard       *callGuard
}

func NewGeminiLLM(ctx context.Context, apiKey, modelName, visionModel string, gc GuardConfig) (*GeminiLLM, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: GEMINI_API_KEY not set", failure.ErrMisconfigured)
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "gemini-2.0-flash"
	}
	if visionModel == "" {
		visionModel = modelName
	}
	return &GeminiLLM{
		client:      cl,
		modelName:   modelName,
		visionModel: visionModel,
		guard:       newCallGuard(providerGemini, gc),
	}, nil
}

func (g *GeminiLLM) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiLLM) Generate(ctx context.Context, systemPrompt, userPrompt string, opts ...core.GenerateOption) (string, error) {
	m := g.model(g.modelName, systemPrompt, core.ApplyGenerateOptions(opts...))

	return guardedCall(ctx, g.guard, "generate", func(ctx context.Context) (string, error) {
		resp, err := m.GenerateContent(ctx, genai.Text(userPrompt))
		if err != nil {
			return "", fmt.Errorf("gemini generate: %w", err)
		}
		return candidateText(resp)
	})
}

// DescribeImage sends one image plus prompt to the vision model.
func (g *GeminiLLM) DescribeImage(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	m := g.model(g.visionModel, "", core.GenerateOptions{})
	format := strings.TrimPrefix(mimeType, "image/")
	if format == "" {
		format = "png"
	}

	return guardedCall(ctx, g.guard, "vision", func(ctx context.Context) (string, error) {
		resp, err := m.GenerateContent(ctx, genai.ImageData(format, image), genai.Text(prompt))
		if err != nil {
			return "", fmt.Errorf("gemini vision: %w", err)
		}
		return candidateText(resp)
	})
}

func (g *GeminiLLM) model(name, systemPrompt string, o core.GenerateOptions) *genai.GenerativeModel {
	m := g.client.GenerativeModel(name)
	if systemPrompt != "" {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(systemPrompt)},
		}
	}
	if o.JSON {
		m.ResponseMIMEType = "application/json"
	}
	if o.Temperature != nil {
		m.SetTemperature(*o.Temperature)
	}
	if o.MaxTokens > 0 {
		m.SetMaxOutputTokens(int32(o.MaxTokens))
	}
	return m
}

func candidateText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", failure.ErrEmptyResponse
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", failure.ErrEmptyResponse
	}
	return b.String(), nil
}

var (
	_ core.LLMProvider    = (*GeminiLLM)(nil)
	_ core.VisionProvider = (*GeminiLLM)(nil)
)
