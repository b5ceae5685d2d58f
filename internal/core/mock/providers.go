package mock

import (
	"context"
	"hash/fnv"
	"math"
	"sync"

	"github.com/markdave123-py/docsift/internal/core"
)

// DefaultDim is the size of vectors produced by MockEmbedder.
const DefaultDim = 8

// MockEmbedder is a test double for core.EmbeddingProvider.
type MockEmbedder struct {
	EmbedTextsFunc func(ctx context.Context, texts []string) ([][]float32, error)

	mu        sync.Mutex
	callCount int
	lastTexts []string
}

func NewMockEmbedder() *MockEmbedder { return &MockEmbedder{} }

func (m *MockEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.callCount++
	m.lastTexts = append([]string(nil), texts...)
	fn := m.EmbedTextsFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = Vector(t)
	}
	return out, nil
}

func (m *MockEmbedder) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// LastTexts returns the texts of the most recent call.
func (m *MockEmbedder) LastTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastTexts
}

// Vector derives a unit vector of DefaultDim from text.
func Vector(text string) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()

	v := make([]float32, DefaultDim)
	var sum float64
	for i := range v {
		seed = seed*1664525 + 1013904223
		v[i] = float32(seed%1000)/1000.0 + 0.001
		sum += float64(v[i]) * float64(v[i])
	}
	norm := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= norm
	}
	return v
}

// MockLLM is a test double for core.LLMProvider.
type MockLLM struct {
	GenerateFunc func(ctx context.Context, systemPrompt, userPrompt string, opts core.GenerateOptions) (string, error)

	mu          sync.Mutex
	callCount   int
	lastSystem  string
	lastUser    string
	lastOptions core.GenerateOptions
}

func NewMockLLM() *MockLLM { return &MockLLM{} }

func (m *MockLLM) Generate(ctx context.Context, systemPrompt, userPrompt string, opts ...core.GenerateOption) (string, error) {
	o := core.ApplyGenerateOptions(opts...)
	m.mu.Lock()
	m.callCount++
	m.lastSystem, m.lastUser, m.lastOptions = systemPrompt, userPrompt, o
	fn := m.GenerateFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, systemPrompt, userPrompt, o)
	}
	return "mock answer", nil
}

func (m *MockLLM) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// LastPrompts returns the system and user prompts of the most recent call.
func (m *MockLLM) LastPrompts() (system, user string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSystem, m.lastUser
}

func (m *MockLLM) LastOptions() core.GenerateOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastOptions
}

// MockVision is a test double for core.VisionProvider.
type MockVision struct {
	DescribeImageFunc func(ctx context.Context, prompt string, image []byte, mimeType string) (string, error)

	mu        sync.Mutex
	callCount int
}

func NewMockVision() *MockVision { return &MockVision{} }

func (m *MockVision) DescribeImage(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	m.mu.Lock()
	m.callCount++
	fn := m.DescribeImageFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, prompt, image, mimeType)
	}
	return "mock transcription", nil
}

func (m *MockVision) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

var (
	_ core.EmbeddingProvider = (*MockEmbedder)(nil)
	_ core.LLMProvider       = (*MockLLM)(nil)
	_ core.VisionProvider    = (*MockVision)(nil)
)
