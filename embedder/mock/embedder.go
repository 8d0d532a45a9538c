// Package mock provides a deterministic embedding model for tests.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
)

const DefaultDimension = 64

// MockEmbedder hashes each text into a unit vector, so equal texts always
// get equal vectors and a text is most similar to itself.
type MockEmbedder struct {
	// EmbedDocumentsFunc replaces the default behaviour when set.
	EmbedDocumentsFunc func(ctx context.Context, texts []string) ([][]float32, error)

	dim       int
	mu        sync.Mutex
	callCount int
}

func NewMockEmbedder(dim int) *MockEmbedder {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &MockEmbedder{dim: dim}
}

func (m *MockEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.callCount++
	fn := m.EmbedDocumentsFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, texts)
	}

	res := make([][]float32, len(texts))
	for i, text := range texts {
		res[i] = Vector(text, m.dim)
	}
	return res, nil
}

// Embed lets the mock stand in where an embedder.Embedder is expected.
func (m *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return m.EmbedDocuments(ctx, texts)
}

func (m *MockEmbedder) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Vector returns the deterministic unit vector for text.
func Vector(text string, dim int) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()

	vec := make([]float32, dim)
	var sum float64
	for i := range vec {
		seed = seed*1664525 + 1013904223
		v := float64(seed%2000)/1000.0 - 1.0
		vec[i] = float32(v)
		sum += v * v
	}

	if sum > 0 {
		norm := float32(math.Sqrt(sum))
		for i := range vec {
			vec[i] /= norm
		}
	}

	return vec
}
