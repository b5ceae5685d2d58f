package ingestion_engine

import (
	"context"
	"log/slog"
	"strings"

	"github.com/markdave123-py/docsift/internal/core"
	"github.com/markdave123-py/docsift/internal/core/failure"
	"github.com/markdave123-py/docsift/internal/core/outcome"
	"github.com/markdave123-py/docsift/internal/core/retry"
)

const transcribePrompt = "This is an image of a document page, possibly handwritten. " +
	"The image may have been preprocessed to enhance text visibility. " +
	"Extract all the text content from this image. " +
	"Preserve the original structure (paragraphs, line breaks) as accurately as possible. " +
	"Output only the extracted text, without any additional commentary or formatting."

// TextExtractor transcribes a page image with a vision model.
type TextExtractor struct {
	vision core.VisionProvider
	policy retry.Policy
	logger *slog.Logger
}

func NewTextExtractor(vision core.VisionProvider, policy retry.Policy, logger *slog.Logger) *TextExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &TextExtractor{vision: vision, policy: policy, logger: logger.With("component", "text-extractor")}
}

// Extract returns Ok with the transcription, Skipped when the page yields no
// usable text, or Fatal when the provider cannot be used at all.
func (e *TextExtractor) Extract(ctx context.Context, pageImage []byte) outcome.Result[string] {
	text, err := retry.Do(ctx, e.policy, "vision.transcribe", func(ctx context.Context) (string, error) {
		return e.vision.DescribeImage(ctx, transcribePrompt, pageImage, "image/png")
	})
	if err != nil {
		return degrade[string](e.logger, "transcription", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return outcome.Skip[string]("empty transcription", nil)
	}
	return outcome.Ok(text)
}

// degrade maps a provider error onto Fatal or Skipped.
func degrade[T any](logger *slog.Logger, what string, err error) outcome.Result[T] {
	if failure.IsFatal(err) {
		logger.Error(what+" failed fatally", "err", err)
		return outcome.Fatal[T](err)
	}
	var reason string
	switch failure.Classify(err) {
	case failure.ClassTransient:
		reason = "retries exhausted"
	case failure.ClassFormat:
		reason = "unexpected response format"
	case failure.ClassBadRequest:
		reason = "provider rejected request"
	default:
		reason = "provider error"
	}
	logger.Warn(what+" skipped", "reason", reason, "err", err)
	return outcome.Skip[T](reason, err)
}
