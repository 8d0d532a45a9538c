package ingest

import "errors"

var (
	ErrExtractorRequired = errors.New("extractor required")
	ErrChunkerRequired   = errors.New("chunker required")
	ErrEmbedderRequired  = errors.New("embedder required")
	ErrStoreRequired     = errors.New("store required")
	ErrIngesterRequired  = errors.New("ingester required")
	ErrQueueClosed       = errors.New("ingestion queue closed")

	// ErrUnknownJob is returned for a document id the queue never accepted.
	ErrUnknownJob = errors.New("unknown ingestion job")

	// ErrJobExists is returned when a document id is already queued or running.
	ErrJobExists = errors.New("ingestion job already active")
)
