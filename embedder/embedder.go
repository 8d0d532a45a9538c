// Package embedder maps ordered texts to fixed-dimension vectors.
//
// Provider clients (langchaingo, chroma-go embedding functions) are wrapped
// by BatchEmbedder, which owns the contract the rest of the system relies on:
// one vector per input in input order, a single dimension for the lifetime of
// the embedder, and all-or-nothing failure reported as *EmbeddingError.
package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultBatchSize = 32

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Model is a provider client. langchaingo's embeddings.Embedder satisfies it
// directly; chroma-go embedding functions go through FromChroma.
type Model interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

type BatchEmbedder struct {
	model     Model
	batchSize int
	cache     *lru.Cache[string, []float32]
	log       *slog.Logger

	mu        sync.Mutex
	dimension int
}

var _ Embedder = (*BatchEmbedder)(nil)

type Option func(*BatchEmbedder) error

func WithBatchSize(size int) Option {
	return func(e *BatchEmbedder) error {
		if size <= 0 {
			return fmt.Errorf("batch size must be greater than zero, got %d", size)
		}
		e.batchSize = size
		return nil
	}
}

// WithDimension pins the expected vector size. Without it the size of the
// first successful result is adopted.
func WithDimension(dim int) Option {
	return func(e *BatchEmbedder) error {
		if dim <= 0 {
			return fmt.Errorf("dimension must be greater than zero, got %d", dim)
		}
		e.dimension = dim
		return nil
	}
}

// WithCache keeps up to size vectors keyed by text hash.
func WithCache(size int) Option {
	return func(e *BatchEmbedder) error {
		if size <= 0 {
			return nil
		}
		cache, err := lru.New[string, []float32](size)
		if err != nil {
			return fmt.Errorf("failed to create embedding cache: %w", err)
		}
		e.cache = cache
		return nil
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *BatchEmbedder) error {
		if logger != nil {
			e.log = logger
		}
		return nil
	}
}

func New(model Model, opts ...Option) (*BatchEmbedder, error) {
	if model == nil {
		return nil, errors.New("embedding model required")
	}

	e := &BatchEmbedder{
		model:     model,
		batchSize: DefaultBatchSize,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	e.log = e.log.With("component", "embedder")

	return e, nil
}

// Dimension returns the vector size, or 0 if nothing was embedded yet and no
// dimension was configured.
func (e *BatchEmbedder) Dimension() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dimension
}

func (e *BatchEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	res := make([][]float32, len(texts))
	if len(texts) == 0 {
		return res, nil
	}

	pending := make([]int, 0, len(texts))
	for i, text := range texts {
		if vec, ok := e.lookup(text); ok {
			res[i] = vec
			continue
		}
		pending = append(pending, i)
	}

	for len(pending) > 0 {
		n := min(e.batchSize, len(pending))
		batch := make([]string, n)
		for j, idx := range pending[:n] {
			batch[j] = texts[idx]
		}

		e.log.Debug("embedding batch", "texts", n)
		vecs, err := e.model.EmbedDocuments(ctx, batch)
		if err != nil {
			return nil, &EmbeddingError{Err: err}
		}
		if len(vecs) != n {
			return nil, &EmbeddingError{Err: fmt.Errorf("model returned %d vectors for %d texts", len(vecs), n)}
		}

		for j, vec := range vecs {
			if err := e.checkDimension(vec); err != nil {
				return nil, &EmbeddingError{Err: err}
			}
			res[pending[j]] = vec
		}

		pending = pending[n:]
	}

	for i, text := range texts {
		e.store(text, res[i])
	}

	return res, nil
}

func (e *BatchEmbedder) checkDimension(vec []float32) error {
	if len(vec) == 0 {
		return errors.New("model returned an empty vector")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dimension == 0 {
		e.dimension = len(vec)
		return nil
	}
	if len(vec) != e.dimension {
		return fmt.Errorf("vector dimension %d, expected %d", len(vec), e.dimension)
	}

	return nil
}

func (e *BatchEmbedder) lookup(text string) ([]float32, bool) {
	if e.cache == nil {
		return nil, false
	}

	vec, ok := e.cache.Get(cacheKey(text))
	if !ok {
		return nil, false
	}

	return clone(vec), true
}

func (e *BatchEmbedder) store(text string, vec []float32) {
	if e.cache == nil {
		return
	}

	e.cache.Add(cacheKey(text), clone(vec))
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func clone(vec []float32) []float32 {
	out := make([]float32, len(vec))
	copy(out, vec)
	return out
}
