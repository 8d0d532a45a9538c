package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/MLZ101/RAG-Document-Chat/chunker"
	"github.com/MLZ101/RAG-Document-Chat/docstore"
	"github.com/MLZ101/RAG-Document-Chat/embedder"
	"github.com/MLZ101/RAG-Document-Chat/readers"
)

type State string

const (
	Pending   State = "pending"
	Running   State = "running"
	Succeeded State = "succeeded"
	Failed    State = "failed"
	Canceled  State = "canceled"
)

// Done reports whether the state is final.
func (s State) Done() bool {
	return s == Succeeded || s == Failed || s == Canceled
}

// Kind classifies why an ingestion did not succeed.
type Kind string

const (
	KindUnsupportedFormat    Kind = "unsupported_format"
	KindExtraction           Kind = "extraction"
	KindInvalidConfiguration Kind = "invalid_configuration"
	KindEmbedding            Kind = "embedding"
	KindDuplicateChunk       Kind = "duplicate_chunk"
	KindStore                Kind = "store"
	KindCanceled             Kind = "canceled"
)

type Status struct {
	DocumentID  string    `json:"document_id"`
	Filename    string    `json:"filename"`
	State       State     `json:"state"`
	Chunks      int       `json:"chunks"`
	Kind        Kind      `json:"kind,omitempty"`
	Error       string    `json:"error,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	FinishedAt  time.Time `json:"finished_at,omitzero"`
}

func classify(err error) Kind {
	var extractErr *readers.ExtractionError
	var embedErr *embedder.EmbeddingError

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.Is(err, readers.ErrUnsupportedFormat):
		return KindUnsupportedFormat
	case errors.As(err, &extractErr):
		return KindExtraction
	case errors.Is(err, chunker.ErrInvalidConfiguration):
		return KindInvalidConfiguration
	case errors.As(err, &embedErr):
		return KindEmbedding
	case errors.Is(err, docstore.ErrDuplicateChunk):
		return KindDuplicateChunk
	default:
		return KindStore
	}
}
