// Package ingest turns source files into stored chunks and runs ingestions
// in the background.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/MLZ101/RAG-Document-Chat/docstore"
	"github.com/MLZ101/RAG-Document-Chat/embedder"
	"github.com/MLZ101/RAG-Document-Chat/readers"
)

type Extractor interface {
	Extract(path string, t readers.FileType) (string, error)
}

type Chunker interface {
	Chunk(text string) []string
}

type Store interface {
	Insert(ctx context.Context, ids []string, texts []string, vectors [][]float32, metadatas []docstore.Metadata) error
}

// Job describes one document. The file at Path is transient and belongs to the
// ingestion from the moment Ingest is called.
type Job struct {
	Path       string
	DocumentID string
	Filename   string
	Type       readers.FileType
}

type Result struct {
	DocumentID string
	Chunks     int
}

type Orchestrator struct {
	extractor Extractor
	chunker   Chunker
	embedder  embedder.Embedder
	store     Store
	log       *slog.Logger
}

type OrchestratorOption func(*Orchestrator)

func WithOrchestratorLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.log = logger
		}
	}
}

func NewOrchestrator(extractor Extractor, chunker Chunker, emb embedder.Embedder, store Store, opts ...OrchestratorOption) (*Orchestrator, error) {
	if extractor == nil {
		return nil, ErrExtractorRequired
	}
	if chunker == nil {
		return nil, ErrChunkerRequired
	}
	if emb == nil {
		return nil, ErrEmbedderRequired
	}
	if store == nil {
		return nil, ErrStoreRequired
	}

	o := &Orchestrator{
		extractor: extractor,
		chunker:   chunker,
		embedder:  emb,
		store:     store,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.With("component", "orchestrator")

	return o, nil
}

// Ingest extracts, chunks, embeds and stores one document. Chunks are inserted
// only after every earlier stage succeeded. The file at job.Path is removed
// before Ingest returns, whatever the outcome.
func (o *Orchestrator) Ingest(ctx context.Context, job Job) (Result, error) {
	defer o.removeSource(job.Path)

	log := o.log.With("document_id", job.DocumentID, "filename", job.Filename)
	res := Result{DocumentID: job.DocumentID}

	if err := ctx.Err(); err != nil {
		return res, err
	}

	text, err := o.extractor.Extract(job.Path, job.Type)
	if err != nil {
		return res, fmt.Errorf("failed to extract text: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	chunks := o.chunker.Chunk(text)
	if len(chunks) == 0 {
		log.Info("document has no text")
		return res, nil
	}

	vectors, err := o.embedder.Embed(ctx, chunks)
	if err != nil {
		return res, fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return res, &embedder.EmbeddingError{
			Err: fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(chunks)),
		}
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	ids := make([]string, len(chunks))
	metas := make([]docstore.Metadata, len(chunks))
	for i := range chunks {
		ids[i] = docstore.ChunkID(job.DocumentID, i)
		metas[i] = docstore.Metadata{
			DocumentID: job.DocumentID,
			Filename:   job.Filename,
			ChunkIndex: i,
		}
	}

	if err := o.store.Insert(ctx, ids, chunks, vectors, metas); err != nil {
		return res, fmt.Errorf("failed to store chunks: %w", err)
	}

	res.Chunks = len(chunks)
	log.Info("document ingested", "chunks", res.Chunks)
	return res, nil
}

func (o *Orchestrator) removeSource(path string) {
	if path == "" {
		return
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		o.log.Error("failed to remove source file", "path", path, "error", err)
	}
}
