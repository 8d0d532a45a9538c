package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/MLZ101/RAG-Document-Chat/embedder"
)

const DefaultTopK = 5

// Index is the persistent backend of a Collection.
type Index interface {
	// Add stores all records or none. It fails with ErrDuplicateChunk if any
	// id is already present.
	Add(ctx context.Context, records []Record) error
	// Search returns the topK nearest records, optionally limited to one document,
	// ordered by descending score and then ascending id.
	Search(ctx context.Context, vector []float32, topK int, documentID string) ([]SearchResult, error)
	DeleteDocument(ctx context.Context, documentID string) error
	Metadatas(ctx context.Context) ([]Metadata, error)
	// Dimension returns the vector size fixed by the first insert, or 0 when
	// no vector is stored to fix it.
	Dimension(ctx context.Context) (int, error)
	Close() error
}

// Collection is the knowledge collection: every chunk of every document.
// Queries are embedded with the same embedder that produced the stored vectors.
type Collection struct {
	index    Index
	embedder embedder.Embedder
	topK     int
	log      *slog.Logger
}

type CollectionOption func(*Collection)

func WithTopK(k int) CollectionOption {
	return func(c *Collection) {
		if k > 0 {
			c.topK = k
		}
	}
}

func WithLogger(logger *slog.Logger) CollectionOption {
	return func(c *Collection) {
		if logger != nil {
			c.log = logger
		}
	}
}

func NewCollection(index Index, emb embedder.Embedder, opts ...CollectionOption) (*Collection, error) {
	if index == nil {
		return nil, ErrIndexRequired
	}
	if emb == nil {
		return nil, ErrEmbedderRequired
	}

	c := &Collection{
		index:    index,
		embedder: emb,
		topK:     DefaultTopK,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "collection")

	return c, nil
}

func (c *Collection) Insert(ctx context.Context, ids []string, texts []string, vectors [][]float32, metadatas []Metadata) error {
	n := len(ids)
	if len(texts) != n || len(vectors) != n || len(metadatas) != n {
		return fmt.Errorf("%w: %d ids, %d texts, %d vectors, %d metadatas",
			ErrLengthMismatch, n, len(texts), len(vectors), len(metadatas))
	}
	if n == 0 {
		return nil
	}

	seen := make(map[string]struct{}, n)
	records := make([]Record, n)
	for i := range ids {
		if strings.TrimSpace(ids[i]) == "" {
			return errors.New("chunk id must not be empty")
		}
		if _, ok := seen[ids[i]]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateChunk, ids[i])
		}
		seen[ids[i]] = struct{}{}

		if len(vectors[i]) == 0 || len(vectors[i]) != len(vectors[0]) {
			return fmt.Errorf("%w: chunk %s has %d values, expected %d",
				ErrDimensionMismatch, ids[i], len(vectors[i]), len(vectors[0]))
		}

		records[i] = Record{
			ID:       ids[i],
			Text:     texts[i],
			Vector:   vectors[i],
			Metadata: metadatas[i],
		}
	}

	dim, err := c.index.Dimension(ctx)
	if err != nil {
		return fmt.Errorf("failed to read collection dimension: %w", err)
	}
	if dim > 0 && dim != len(vectors[0]) {
		return fmt.Errorf("%w: vectors have %d values, collection has %d",
			ErrDimensionMismatch, len(vectors[0]), dim)
	}

	if err := c.index.Add(ctx, records); err != nil {
		return fmt.Errorf("failed to insert %d chunks: %w", n, err)
	}

	c.log.Debug("chunks inserted", "chunks", n)
	return nil
}

// Query returns the chunks most similar to text. An empty documentID searches
// every document; topK <= 0 uses the collection default.
func (c *Collection) Query(ctx context.Context, text string, topK int, documentID string) ([]SearchResult, error) {
	if topK <= 0 {
		topK = c.topK
	}

	vecs, err := c.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("failed to embed query: got %d vectors", len(vecs))
	}

	res, err := c.index.Search(ctx, vecs[0], topK, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to search collection: %w", err)
	}

	return res, nil
}

// DeleteByDocument removes every chunk of the document. Unknown ids are a no-op.
func (c *Collection) DeleteByDocument(ctx context.Context, documentID string) error {
	if err := c.index.DeleteDocument(ctx, documentID); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", documentID, err)
	}

	c.log.Info("document deleted", "document_id", documentID)
	return nil
}

// ListDocuments returns one entry per document, sorted by id. The filename is
// taken from the document's first chunk.
func (c *Collection) ListDocuments(ctx context.Context) ([]DocumentInfo, error) {
	metas, err := c.index.Metadatas(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	return distinctDocuments(metas), nil
}

func (c *Collection) Close() error {
	return c.index.Close()
}

func distinctDocuments(metas []Metadata) []DocumentInfo {
	type entry struct {
		info       DocumentInfo
		firstIndex int
	}

	docs := make(map[string]*entry)
	for _, m := range metas {
		if m.DocumentID == "" {
			continue
		}

		e, ok := docs[m.DocumentID]
		if !ok {
			docs[m.DocumentID] = &entry{
				info:       DocumentInfo{ID: m.DocumentID, Filename: m.Filename, Chunks: 1},
				firstIndex: m.ChunkIndex,
			}
			continue
		}

		e.info.Chunks++
		if m.ChunkIndex < e.firstIndex {
			e.firstIndex = m.ChunkIndex
			e.info.Filename = m.Filename
		}
	}

	res := make([]DocumentInfo, 0, len(docs))
	for _, e := range docs {
		res = append(res, e.info)
	}
	slices.SortFunc(res, func(a, b DocumentInfo) int {
		return strings.Compare(a.ID, b.ID)
	})

	return res
}

// rank orders results by descending score, then ascending id, and keeps topK.
func rank(results []SearchResult, topK int) []SearchResult {
	slices.SortFunc(results, func(a, b SearchResult) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return strings.Compare(a.ID, b.ID)
		}
	})

	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}

	return results
}
