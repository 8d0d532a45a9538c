package docstore

import "errors"

var (
	// ErrDuplicateChunk is returned when an inserted chunk id already exists.
	ErrDuplicateChunk = errors.New("duplicate chunk id")

	ErrLengthMismatch    = errors.New("ids, texts, vectors and metadatas differ in length")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrIndexRequired     = errors.New("index required")
	ErrEmbedderRequired  = errors.New("embedder required")
)
