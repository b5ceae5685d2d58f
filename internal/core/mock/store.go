package mock

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/markdave123-py/docsift/internal/core"
	"github.com/markdave123-py/docsift/internal/core/failure"
	"github.com/markdave123-py/docsift/internal/models"
)

// MemoryVectorStore is an in-memory core.VectorStore with the same upsert,
// pruning and search rules as the Postgres store.
type MemoryVectorStore struct {
	// UpsertErr and SearchErr, when set, are returned instead of touching state.
	UpsertErr error
	SearchErr error

	mu          sync.Mutex
	docs        map[int64]*models.Document
	chunks      map[string]models.DocumentChunk
	searchCalls int
}

func NewMemoryVectorStore() *MemoryVectorStore {
	return &MemoryVectorStore{
		docs:   make(map[int64]*models.Document),
		chunks: make(map[string]models.DocumentChunk),
	}
}

func (s *MemoryVectorStore) EnsureDocument(_ context.Context, doc *models.Document) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if doc.ContentHash != "" {
		for _, d := range s.docs {
			if d.ContentHash == doc.ContentHash {
				d.UpdatedAt = now
				cp := *d
				return &cp, nil
			}
		}
	}
	if d, ok := s.docs[doc.ID]; ok {
		d.ContentHash, d.FileName, d.UpdatedAt = doc.ContentHash, doc.FileName, now
		cp := *d
		return &cp, nil
	}
	d := *doc
	d.CreatedAt, d.UpdatedAt = now, now
	s.docs[d.ID] = &d
	cp := d
	return &cp, nil
}

func (s *MemoryVectorStore) GetDocumentByID(_ context.Context, id int64) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryVectorStore) UpsertChunks(_ context.Context, documentID int64, chunks []models.DocumentChunk) (*models.UpsertReport, error) {
	if s.UpsertErr != nil {
		return nil, failure.Storage("upsert chunks", s.UpsertErr)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[documentID]; !ok {
		return nil, failure.Storage("upsert chunks", fmt.Errorf("document %d does not exist", documentID))
	}

	rep := &models.UpsertReport{}
	keep := make([]string, 0, len(chunks))
	now := time.Now().UTC()
	for _, c := range chunks {
		if c.ID == "" || c.Text == "" || len(c.Embedding) == 0 {
			rep.Skipped++
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("chunk %q skipped: missing text or embedding", c.ID))
			continue
		}
		c.DocumentID = documentID
		if old, ok := s.chunks[c.ID]; ok {
			c.CreatedAt = old.CreatedAt
		} else {
			c.CreatedAt = now
		}
		c.UpdatedAt = now
		s.chunks[c.ID] = c
		keep = append(keep, c.ID)
		rep.Upserted++
	}
	for id, c := range s.chunks {
		if len(keep) > 0 && c.DocumentID == documentID && !slices.Contains(keep, id) {
			delete(s.chunks, id)
			rep.Pruned++
		}
	}
	return rep, nil
}

func (s *MemoryVectorStore) GetChunksByDocument(_ context.Context, documentID int64) ([]models.DocumentChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.DocumentChunk
	for _, c := range s.chunks {
		if c.DocumentID == documentID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (s *MemoryVectorStore) SearchChunks(_ context.Context, queryVec []float32, topK int, documentID *int64) ([]models.RetrievedChunk, error) {
	if topK <= 0 {
		return []models.RetrievedChunk{}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searchCalls++
	if s.SearchErr != nil {
		return nil, failure.Storage("search chunks", s.SearchErr)
	}

	out := []models.RetrievedChunk{}
	for _, c := range s.chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		if documentID != nil && c.DocumentID != *documentID {
			continue
		}
		out = append(out, models.RetrievedChunk{
			ChunkID:    c.ID,
			DocumentID: c.DocumentID,
			Text:       c.Text,
			Similarity: cosine(queryVec, c.Embedding),
			Metadata:   c.Metadata,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// SearchCalls counts searches that reached the store.
func (s *MemoryVectorStore) SearchCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.searchCalls
}

// PutChunk stores c as-is, bypassing upsert validation.
func (s *MemoryVectorStore) PutChunk(c models.DocumentChunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks[c.ID] = c
}

func (s *MemoryVectorStore) Ping(context.Context) error { return nil }
func (s *MemoryVectorStore) Close() error               { return nil }

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// MemoryObjectClient is an in-memory core.ObjectClient.
type MemoryObjectClient struct {
	UploadErr error

	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemoryObjectClient() *MemoryObjectClient {
	return &MemoryObjectClient{objects: make(map[string][]byte)}
}

func (m *MemoryObjectClient) UploadFile(_ context.Context, key string, data []byte, _ string) (string, error) {
	if m.UploadErr != nil {
		return "", m.UploadErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return "mem://" + key, nil
}

func (m *MemoryObjectClient) GetFile(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %q not found", key)
	}
	return b, nil
}

func (m *MemoryObjectClient) DeleteFile(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// Keys lists stored object keys.
func (m *MemoryObjectClient) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var (
	_ core.VectorStore  = (*MemoryVectorStore)(nil)
	_ core.ObjectClient = (*MemoryObjectClient)(nil)
)
