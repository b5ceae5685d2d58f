package ingestion_engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/markdave123-py/docsift/internal/core"
	"github.com/markdave123-py/docsift/internal/core/failure"
	"github.com/markdave123-py/docsift/internal/core/outcome"
	"github.com/markdave123-py/docsift/internal/core/retry"
	"github.com/markdave123-py/docsift/internal/models"
)

const parseSystemPrompt = `Analyze the text extracted from a document page and identify:
- subject_name: the full name of the person the page is about (null if none).
- document_date: the document's date (YYYY-MM-DD if possible, else as written; null if none).
- signature_found: boolean, true if a signature is present or implied.
- topic_mentions: list of strings with the key topics mentioned (empty list [] if none).

Return ONLY a valid JSON object with these exact keys. No explanations.`

var entityKeys = []string{"subject_name", "document_date", "signature_found", "topic_mentions"}

// InfoParser extracts PageEntities from page text.
type InfoParser struct {
	llm    core.LLMProvider
	policy retry.Policy
	logger *slog.Logger
}

func NewInfoParser(llm core.LLMProvider, policy retry.Policy, logger *slog.Logger) *InfoParser {
	if logger == nil {
		logger = slog.Default()
	}
	return &InfoParser{llm: llm, policy: policy, logger: logger.With("component", "info-parser")}
}

// Parse retries transport failures only. A response that does not match the
// schema is skipped on the first occurrence.
func (p *InfoParser) Parse(ctx context.Context, text string) outcome.Result[models.PageEntities] {
	if strings.TrimSpace(text) == "" {
		return outcome.Skip[models.PageEntities]("no text to parse", nil)
	}

	raw, err := retry.Do(ctx, p.policy, "llm.parse_entities", func(ctx context.Context) (string, error) {
		return p.llm.Generate(ctx, parseSystemPrompt, "Text:\n"+text,
			core.WithJSONResponse(), core.WithTemperature(0))
	})
	if err != nil {
		return degrade[models.PageEntities](p.logger, "entity parsing", err)
	}

	entities, err := ParseEntities(raw)
	if err != nil {
		p.logger.Warn("entity parsing skipped", "reason", "unexpected response format", "err", err)
		return outcome.Skip[models.PageEntities]("unexpected response format", err)
	}
	return outcome.Ok(entities)
}

// ParseEntities validates raw model output against the entity schema.
// Errors wrap failure.ErrResponseFormat.
func ParseEntities(raw string) (models.PageEntities, error) {
	var e models.PageEntities
	body := stripCodeFence(raw)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return e, fmt.Errorf("%w: %v", failure.ErrResponseFormat, err)
	}
	for _, k := range entityKeys {
		if _, ok := fields[k]; !ok {
			return e, fmt.Errorf("%w: missing key %q", failure.ErrResponseFormat, k)
		}
	}
	if err := json.Unmarshal([]byte(body), &e); err != nil {
		return e, fmt.Errorf("%w: %v", failure.ErrResponseFormat, err)
	}
	if e.TopicMentions == nil {
		e.TopicMentions = []string{}
	}
	return e, nil
}

// stripCodeFence removes a surrounding markdown code fence, if any.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
