package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/markdave123-py/docsift/internal/core"
	"github.com/markdave123-py/docsift/internal/core/failure"
	"github.com/markdave123-py/docsift/internal/models"
	"github.com/markdave123-py/docsift/internal/telemetry"
)

// Query error codes.
const (
	CodeContextUnavailable = "context_unavailable"
	CodeMisconfigured      = "misconfigured"
	CodeUnexpectedFormat   = "unexpected_format"
	CodeInternal           = "internal"
)

// User-facing answers for the failure branches.
const (
	AnswerContextUnavailable = "Could not retrieve document context. Please try again later."
	AnswerMisconfigured      = "The language service is misconfigured. Check the provider credentials."
	AnswerUnexpectedFormat   = "The language model returned a response in an unexpected format."
	AnswerInternal           = "An unexpected error occurred while processing your question. Please try again later."
)

// NoContextMarker stands in for the context block when retrieval finds nothing.
const NoContextMarker = "No context provided."

const answerSystemPrompt = `You are a helpful AI assistant. Answer the user's question using only the provided context.
If the context does not contain the answer, say that you cannot answer from the information provided.
Be concise and do not invent facts.`

type QueryRequest struct {
	Query      string
	DocumentID *int64
	TopK       int
}

type QueryError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *QueryError) Error() string { return e.Code + ": " + e.Message }

// QueryResult always carries an answer. Error is set on every failure branch.
type QueryResult struct {
	Answer           string                  `json:"answer"`
	RetrievedContext []models.RetrievedChunk `json:"retrieved_context"`
	Error            *QueryError             `json:"error"`
}

// QueryService answers questions over stored chunks.
type QueryService struct {
	store       core.VectorStore
	embedder    core.EmbeddingProvider
	llm         core.LLMProvider
	defaultTopK int
	metrics     *telemetry.Metrics
	logger      *slog.Logger
}

func NewQueryService(store core.VectorStore, embedder core.EmbeddingProvider, llm core.LLMProvider, defaultTopK int, metrics *telemetry.Metrics, logger *slog.Logger) *QueryService {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultTopK <= 0 {
		defaultTopK = 5
	}
	return &QueryService{
		store:       store,
		embedder:    embedder,
		llm:         llm,
		defaultTopK: defaultTopK,
		metrics:     metrics,
		logger:      logger.With("component", "query"),
	}
}

// Answer retrieves context for req and asks the chat model. It never returns a Go error;
// failures are reported through QueryResult.Error with a safe answer.
func (s *QueryService) Answer(ctx context.Context, req QueryRequest) *QueryResult {
	ctx, span := otel.Tracer("docsift/query").Start(ctx, "query.answer")
	defer span.End()

	topK := req.TopK
	if topK == 0 {
		topK = s.defaultTopK
	}
	if req.DocumentID != nil {
		span.SetAttributes(attribute.Int64("document.id", *req.DocumentID))
	}
	span.SetAttributes(attribute.Int("query.top_k", topK))

	retrieved, err := s.retrieve(ctx, req.Query, topK, req.DocumentID)
	if err != nil {
		if errors.Is(err, failure.ErrMisconfigured) {
			return s.fail(ctx, CodeMisconfigured, AnswerMisconfigured, nil, err)
		}
		return s.fail(ctx, CodeContextUnavailable, AnswerContextUnavailable, nil, err)
	}
	if len(retrieved) == 0 {
		s.logger.Info("no context chunks found", "query", truncate(req.Query, 100))
	}

	answer, err := s.llm.Generate(ctx, answerSystemPrompt, buildUserPrompt(req.Query, retrieved))
	switch {
	case err == nil && strings.TrimSpace(answer) == "":
		return s.fail(ctx, CodeUnexpectedFormat, AnswerUnexpectedFormat, retrieved, failure.ErrEmptyResponse)
	case err == nil:
		s.metrics.RecordQuery(ctx, "ok")
		return &QueryResult{Answer: answer, RetrievedContext: retrieved}
	case errors.Is(err, failure.ErrMisconfigured), failure.Classify(err) == failure.ClassFatal:
		return s.fail(ctx, CodeMisconfigured, AnswerMisconfigured, retrieved, err)
	case errors.Is(err, failure.ErrResponseFormat), errors.Is(err, failure.ErrEmptyResponse):
		return s.fail(ctx, CodeUnexpectedFormat, AnswerUnexpectedFormat, retrieved, err)
	default:
		return s.fail(ctx, CodeInternal, AnswerInternal, retrieved, err)
	}
}

func (s *QueryService) retrieve(ctx context.Context, query string, topK int, documentID *int64) ([]models.RetrievedChunk, error) {
	if topK <= 0 {
		return []models.RetrievedChunk{}, nil
	}
	vecs, err := s.embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("embed query: %w: got %d vectors", failure.ErrDataIntegrity, len(vecs))
	}
	chunks, err := s.store.SearchChunks(ctx, vecs[0], topK, documentID)
	if err != nil {
		return nil, err
	}
	if chunks == nil {
		chunks = []models.RetrievedChunk{}
	}
	return chunks, nil
}

func (s *QueryService) fail(ctx context.Context, code, answer string, retrieved []models.RetrievedChunk, err error) *QueryResult {
	s.logger.Error("query failed", "code", code, "err", err)
	s.metrics.RecordQuery(ctx, code)
	if retrieved == nil {
		retrieved = []models.RetrievedChunk{}
	}
	return &QueryResult{
		Answer:           answer,
		RetrievedContext: retrieved,
		Error:            &QueryError{Code: code, Message: publicMessage(code, err)},
	}
}

// publicMessage keeps internal detail out of responses for the generic branch.
func publicMessage(code string, err error) string {
	if code == CodeInternal {
		return "internal error"
	}
	return err.Error()
}

func buildUserPrompt(query string, chunks []models.RetrievedChunk) string {
	var sb strings.Builder
	sb.WriteString("Provided context:\n")
	if len(chunks) == 0 {
		sb.WriteString(NoContextMarker)
		sb.WriteString("\n")
	}
	for i, ch := range chunks {
		fmt.Fprintf(&sb, "[%d] (page %d)\n%s\n---\n", i+1, ch.Metadata.PageNumber, ch.Text)
	}
	sb.WriteString("\nQuestion: ")
	sb.WriteString(query)
	return sb.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
