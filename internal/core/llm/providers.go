// Package llm holds the model providers used for transcription, parsing,
// answering and embedding.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/markdave123-py/docsift/internal/config"
	"github.com/markdave123-py/docsift/internal/core"
	"github.com/markdave123-py/docsift/internal/core/failure"
	"github.com/markdave123-py/docsift/internal/telemetry"
)

// Providers groups the clients built from one configuration. They are
// constructed once and passed to every component that needs them.
type Providers struct {
	LLM      core.LLMProvider
	Vision   core.VisionProvider
	Embedder core.EmbeddingProvider

	closers []func() error
}

// NewProviders builds the configured provider family. Missing credentials do not
// fail startup; the affected providers answer every call with ErrMisconfigured.
func NewProviders(ctx context.Context, cfg *config.Config, metrics *telemetry.Metrics, logger *slog.Logger) (*Providers, error) {
	if logger == nil {
		logger = slog.Default()
	}
	gc := GuardConfig{
		Timeout:           cfg.ProviderTimeout,
		RequestsPerMinute: cfg.ProviderRPM,
		Metrics:           metrics,
		Logger:            logger,
	}

	p := &Providers{}
	switch cfg.LLMProvider {
	case providerGemini:
		gen, err := NewGeminiLLM(ctx, cfg.AIAPIKey, cfg.GenModel, cfg.VisionModel, gc)
		if err := p.setGenerator(gen, err, logger); err != nil {
			return nil, err
		}
		emb, err := NewGeminiEmbedder(ctx, cfg.AIAPIKey, cfg.EmbedModel, gc)
		if err := p.setEmbedder(emb, err, logger); err != nil {
			return nil, err
		}
	case providerOpenAI:
		gen, err := NewOpenAILLM(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.GenModel, cfg.VisionModel, gc)
		if err := p.setGenerator(gen, err, logger); err != nil {
			return nil, err
		}
		emb, err := NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.EmbedModel, gc)
		if err := p.setEmbedder(emb, err, logger); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported LLM_PROVIDER %q", cfg.LLMProvider)
	}
	return p, nil
}

type generator interface {
	core.LLMProvider
	core.VisionProvider
}

func (p *Providers) setGenerator(g generator, err error, logger *slog.Logger) error {
	if err != nil {
		if !errors.Is(err, failure.ErrMisconfigured) {
			return err
		}
		logger.Warn("chat provider unavailable", "err", err)
		u := Unconfigured{Reason: err.Error()}
		p.LLM, p.Vision = u, u
		return nil
	}
	p.LLM, p.Vision = g, g
	if c, ok := g.(interface{ Close() error }); ok {
		p.closers = append(p.closers, c.Close)
	}
	return nil
}

func (p *Providers) setEmbedder(e core.EmbeddingProvider, err error, logger *slog.Logger) error {
	if err != nil {
		if !errors.Is(err, failure.ErrMisconfigured) {
			return err
		}
		logger.Warn("embedding provider unavailable", "err", err)
		p.Embedder = Unconfigured{Reason: err.Error()}
		return nil
	}
	p.Embedder = e
	if c, ok := e.(interface{ Close() error }); ok {
		p.closers = append(p.closers, c.Close)
	}
	return nil
}

func (p *Providers) Close() error {
	var errs []error
	for _, c := range p.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// Unconfigured stands in for a provider whose credentials are missing.
type Unconfigured struct {
	Reason string
}

func (u Unconfigured) err() error {
	return fmt.Errorf("%w: %s", failure.ErrMisconfigured, u.Reason)
}

func (u Unconfigured) Generate(context.Context, string, string, ...core.GenerateOption) (string, error) {
	return "", u.err()
}

func (u Unconfigured) DescribeImage(context.Context, string, []byte, string) (string, error) {
	return "", u.err()
}

func (u Unconfigured) EmbedTexts(context.Context, []string) ([][]float32, error) {
	return nil, u.err()
}

var (
	_ core.LLMProvider       = Unconfigured{}
	_ core.VisionProvider    = Unconfigured{}
	_ core.EmbeddingProvider = Unconfigured{}
)
