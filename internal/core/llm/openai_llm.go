package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/markdave123-py/docsift/internal/core"
	"github.com/markdave123-py/docsift/internal/core/failure"
)

const providerOpenAI = "openai"

// OpenAILLM talks to any OpenAI-compatible chat endpoint.
type OpenAILLM struct {
	chat   llms.Model
	vision llms.Model
	guard  *callGuard
}

func NewOpenAILLM(apiKey, baseURL, modelName, visionModel string, gc GuardConfig) (*OpenAILLM, error) {
	if apiKey == "" && baseURL == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY not set", failure.ErrMisconfigured)
	}
	if visionModel == "" {
		visionModel = modelName
	}
	chat, err := newOpenAIClient(apiKey, baseURL, openai.WithModel(modelName))
	if err != nil {
		return nil, err
	}
	vision, err := newOpenAIClient(apiKey, baseURL, openai.WithModel(visionModel))
	if err != nil {
		return nil, err
	}
	return &OpenAILLM{chat: chat, vision: vision, guard: newCallGuard(providerOpenAI, gc)}, nil
}

// newOpenAIClient uses "none" as token for local OpenAI-compatible services that don't require authentication.
func newOpenAIClient(apiKey, baseURL string, opts ...openai.Option) (*openai.LLM, error) {
	if apiKey == "" {
		apiKey = "none"
	}
	all := []openai.Option{openai.WithToken(apiKey)}
	if baseURL != "" {
		all = append(all, openai.WithBaseURL(baseURL))
	}
	return openai.New(append(all, opts...)...)
}

func (o *OpenAILLM) Generate(ctx context.Context, systemPrompt, userPrompt string, opts ...core.GenerateOption) (string, error) {
	var content []llms.MessageContent
	if systemPrompt != "" {
		content = append(content, llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt))
	}
	content = append(content, llms.TextParts(llms.ChatMessageTypeHuman, userPrompt))

	g := core.ApplyGenerateOptions(opts...)
	var callOpts []llms.CallOption
	if g.JSON {
		callOpts = append(callOpts, llms.WithJSONMode())
	}
	if g.Temperature != nil {
		callOpts = append(callOpts, llms.WithTemperature(float64(*g.Temperature)))
	}
	if g.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(g.MaxTokens))
	}

	return guardedCall(ctx, o.guard, "generate", func(ctx context.Context) (string, error) {
		resp, err := o.chat.GenerateContent(ctx, content, callOpts...)
		if err != nil {
			return "", fmt.Errorf("openai generate: %w", err)
		}
		return choiceText(resp)
	})
}

// DescribeImage inlines the image as a data URI next to the prompt.
func (o *OpenAILLM) DescribeImage(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = "image/png"
	}
	dataURI := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)
	content := []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.TextPart(prompt),
				llms.ImageURLPart(dataURI),
			},
		},
	}

	return guardedCall(ctx, o.guard, "vision", func(ctx context.Context) (string, error) {
		resp, err := o.vision.GenerateContent(ctx, content, llms.WithTemperature(0))
		if err != nil {
			return "", fmt.Errorf("openai vision: %w", err)
		}
		return choiceText(resp)
	})
}

func choiceText(resp *llms.ContentResponse) (string, error) {
	if resp == nil || len(resp.Choices) < 1 {
		return "", failure.ErrEmptyResponse
	}
	text := resp.Choices[0].Content
	if strings.TrimSpace(text) == "" {
		return "", failure.ErrEmptyResponse
	}
	return text, nil
}

var (
	_ core.LLMProvider    = (*OpenAILLM)(nil)
	_ core.VisionProvider = (*OpenAILLM)(nil)
)
