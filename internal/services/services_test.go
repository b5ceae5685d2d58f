package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/docsift/internal/core"
	"github.com/markdave123-py/docsift/internal/core/failure"
	"github.com/markdave123-py/docsift/internal/core/mock"
	"github.com/markdave123-py/docsift/internal/models"
)

var samplePDF = []byte("%PDF-1.7\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")

type fakeQueue struct {
	err  error
	mu   sync.Mutex
	jobs []models.IngestJob
}

func (q *fakeQueue) Enqueue(_ context.Context, job models.IngestJob) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	q.jobs = append(q.jobs, job)
	return fmt.Sprintf("00000000-0000-4000-8000-%012d", len(q.jobs)), nil
}

func (q *fakeQueue) Status(_ context.Context, id string) (*models.TaskState, error) {
	return &models.TaskState{TaskID: id, Status: models.TaskPending}, nil
}
func (q *fakeQueue) Ping(context.Context) error { return nil }
func (q *fakeQueue) Close() error               { return nil }

func seedChunk(store *mock.MemoryVectorStore, id string, doc int64, page int, text string) {
	store.PutChunk(models.DocumentChunk{
		ID:         id,
		DocumentID: doc,
		Text:       text,
		Embedding:  mock.Vector(text),
		Metadata:   models.ChunkMetadata{DocumentID: doc, PageNumber: page},
	})
}

func newQuery(store core.VectorStore, emb core.EmbeddingProvider, llm core.LLMProvider) *QueryService {
	return NewQueryService(store, emb, llm, 5, nil, nil)
}

func TestAnswer_WithContext(t *testing.T) {
	store := mock.NewMemoryVectorStore()
	seedChunk(store, "doc1_p1_c1", 1, 1, "X is a variable.")
	llm := mock.NewMockLLM()
	llm.GenerateFunc = func(_ context.Context, _, _ string, _ core.GenerateOptions) (string, error) {
		return "X is indeed a variable according to the context.", nil
	}

	doc := int64(1)
	res := newQuery(store, mock.NewMockEmbedder(), llm).Answer(context.Background(), QueryRequest{Query: "What is X?", DocumentID: &doc, TopK: 1})

	assert.Nil(t, res.Error)
	assert.Equal(t, "X is indeed a variable according to the context.", res.Answer)
	require.Len(t, res.RetrievedContext, 1)
	assert.Equal(t, "doc1_p1_c1", res.RetrievedContext[0].ChunkID)

	sys, user := llm.LastPrompts()
	assert.Equal(t, answerSystemPrompt, sys)
	assert.Contains(t, user, "X is a variable.")
	assert.Contains(t, user, "What is X?")
	assert.NotContains(t, user, NoContextMarker)
}

func TestAnswer_NoContextStillAsksModel(t *testing.T) {
	store := mock.NewMemoryVectorStore()
	seedChunk(store, "doc2_p1_c1", 2, 1, "unrelated document")
	llm := mock.NewMockLLM()

	doc := int64(99)
	res := newQuery(store, mock.NewMockEmbedder(), llm).Answer(context.Background(), QueryRequest{Query: "What is Y?", DocumentID: &doc})

	assert.Nil(t, res.Error)
	assert.Equal(t, "mock answer", res.Answer)
	assert.NotNil(t, res.RetrievedContext)
	assert.Empty(t, res.RetrievedContext)
	_, user := llm.LastPrompts()
	assert.Contains(t, user, NoContextMarker)
}

func TestAnswer_NonPositiveTopKSkipsSearch(t *testing.T) {
	store := mock.NewMemoryVectorStore()
	emb := mock.NewMockEmbedder()
	res := newQuery(store, emb, mock.NewMockLLM()).Answer(context.Background(), QueryRequest{Query: "q", TopK: -1})

	assert.Nil(t, res.Error)
	assert.Equal(t, 0, store.SearchCalls())
	assert.Equal(t, 0, emb.CallCount())
}

func TestAnswer_ContextUnavailable(t *testing.T) {
	store := mock.NewMemoryVectorStore()
	store.SearchErr = errors.New("connection refused")
	llm := mock.NewMockLLM()

	res := newQuery(store, mock.NewMockEmbedder(), llm).Answer(context.Background(), QueryRequest{Query: "q"})

	require.NotNil(t, res.Error)
	assert.Equal(t, CodeContextUnavailable, res.Error.Code)
	assert.Equal(t, AnswerContextUnavailable, res.Answer)
	assert.Empty(t, res.RetrievedContext)
	assert.Equal(t, 0, llm.CallCount(), "no model call without context")
}

func TestAnswer_MisconfiguredKeepsContext(t *testing.T) {
	store := mock.NewMemoryVectorStore()
	seedChunk(store, "doc1_p1_c1", 1, 1, "context for init error")
	llm := mock.NewMockLLM()
	llm.GenerateFunc = func(context.Context, string, string, core.GenerateOptions) (string, error) {
		return "", fmt.Errorf("%w: GEMINI_API_KEY not set", failure.ErrMisconfigured)
	}

	res := newQuery(store, mock.NewMockEmbedder(), llm).Answer(context.Background(), QueryRequest{Query: "q"})

	require.NotNil(t, res.Error)
	assert.Equal(t, CodeMisconfigured, res.Error.Code)
	assert.Equal(t, AnswerMisconfigured, res.Answer)
	assert.Len(t, res.RetrievedContext, 1)
}

func TestAnswer_MisconfiguredEmbedder(t *testing.T) {
	emb := mock.NewMockEmbedder()
	emb.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) {
		return nil, failure.ErrMisconfigured
	}
	res := newQuery(mock.NewMemoryVectorStore(), emb, mock.NewMockLLM()).Answer(context.Background(), QueryRequest{Query: "q"})
	require.NotNil(t, res.Error)
	assert.Equal(t, CodeMisconfigured, res.Error.Code)
}

func TestAnswer_UnexpectedFormat(t *testing.T) {
	store := mock.NewMemoryVectorStore()
	seedChunk(store, "doc1_p1_c1", 1, 1, "context")

	for name, fn := range map[string]func(context.Context, string, string, core.GenerateOptions) (string, error){
		"blank answer":   func(context.Context, string, string, core.GenerateOptions) (string, error) { return "  ", nil },
		"empty response": func(context.Context, string, string, core.GenerateOptions) (string, error) { return "", failure.ErrEmptyResponse },
	} {
		t.Run(name, func(t *testing.T) {
			llm := mock.NewMockLLM()
			llm.GenerateFunc = fn
			res := newQuery(store, mock.NewMockEmbedder(), llm).Answer(context.Background(), QueryRequest{Query: "q"})
			require.NotNil(t, res.Error)
			assert.Equal(t, CodeUnexpectedFormat, res.Error.Code)
			assert.Equal(t, AnswerUnexpectedFormat, res.Answer)
			assert.Len(t, res.RetrievedContext, 1)
		})
	}
}

func TestAnswer_InternalErrorHidesDetail(t *testing.T) {
	store := mock.NewMemoryVectorStore()
	seedChunk(store, "doc1_p1_c1", 1, 1, "some context")
	llm := mock.NewMockLLM()
	llm.GenerateFunc = func(context.Context, string, string, core.GenerateOptions) (string, error) {
		return "", errors.New("simulated LLM API error with secret detail")
	}

	res := newQuery(store, mock.NewMockEmbedder(), llm).Answer(context.Background(), QueryRequest{Query: "q"})

	require.NotNil(t, res.Error)
	assert.Equal(t, CodeInternal, res.Error.Code)
	assert.Equal(t, AnswerInternal, res.Answer)
	assert.NotContains(t, res.Error.Message, "secret")
	assert.Len(t, res.RetrievedContext, 1)
}

func TestCheckUpload(t *testing.T) {
	assert.ErrorIs(t, CheckUpload(Upload{ContentType: "application/pdf"}), ErrEmptyFile)
	assert.ErrorIs(t, CheckUpload(Upload{ContentType: "text/plain", Data: samplePDF}), ErrUnsupportedType)
	assert.ErrorIs(t, CheckUpload(Upload{ContentType: "application/pdf", Data: []byte("just text")}), ErrUnsupportedType)
	assert.NoError(t, CheckUpload(Upload{ContentType: "application/pdf", Data: samplePDF}))
	assert.NoError(t, CheckUpload(Upload{Data: samplePDF}), "missing declared type falls back to sniffing")
}

func TestSubmit_StoresAndEnqueues(t *testing.T) {
	objects := mock.NewMemoryObjectClient()
	q := &fakeQueue{}
	svc := NewIntakeService(objects, q, nil)

	sub, err := svc.Submit(context.Background(), Upload{DocumentID: 42, FileName: "my report.pdf", ContentType: "application/pdf", Data: samplePDF})
	require.NoError(t, err)

	assert.NotEmpty(t, sub.TaskID)
	assert.Equal(t, int64(42), sub.DocumentID)
	assert.True(t, strings.HasPrefix(sub.ObjectKey, "uploads/42/"))
	assert.True(t, strings.HasSuffix(sub.ObjectKey, "-my_report.pdf"))
	assert.Len(t, sub.ContentHash, 64)

	require.Len(t, q.jobs, 1)
	assert.Equal(t, sub.ObjectKey, q.jobs[0].ObjectKey)
	assert.Equal(t, sub.ContentHash, q.jobs[0].ContentHash)

	stored, err := objects.GetFile(context.Background(), sub.ObjectKey)
	require.NoError(t, err)
	assert.Equal(t, samplePDF, stored)
}

func TestSubmit_EnqueueFailureRemovesUpload(t *testing.T) {
	objects := mock.NewMemoryObjectClient()
	svc := NewIntakeService(objects, &fakeQueue{err: errors.New("redis down")}, nil)

	_, err := svc.Submit(context.Background(), Upload{DocumentID: 1, FileName: "a.pdf", Data: samplePDF})
	require.Error(t, err)
	assert.Empty(t, objects.Keys())
}

func TestSubmit_RejectsBeforeStoring(t *testing.T) {
	objects := mock.NewMemoryObjectClient()
	q := &fakeQueue{}
	svc := NewIntakeService(objects, q, nil)

	_, err := svc.Submit(context.Background(), Upload{DocumentID: 1, FileName: "a.pdf", ContentType: "image/png", Data: samplePDF})
	assert.ErrorIs(t, err, ErrUnsupportedType)
	assert.Empty(t, objects.Keys())
	assert.Empty(t, q.jobs)
}

func TestObjectKey(t *testing.T) {
	key := ObjectKey(5, "../../etc/passwd")
	assert.True(t, strings.HasPrefix(key, "uploads/5/"))
	assert.NotContains(t, key, "..")

	assert.True(t, strings.HasSuffix(ObjectKey(5, ""), "-document.pdf"))
}
