package docstore

import (
	"fmt"
)

// Metadata is stored next to every chunk.
type Metadata struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	ChunkIndex int    `json:"chunk_index"`
}

// Record is one persisted chunk.
type Record struct {
	ID       string
	Text     string
	Vector   []float32
	Metadata Metadata
}

type SearchResult struct {
	ID       string
	Text     string
	Metadata Metadata
	// Score grows with similarity.
	Score float32
}

// DocumentInfo describes one ingested document.
type DocumentInfo struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Chunks   int    `json:"chunks"`
}

const chunkIDSeparator = "_chunk_"

// ChunkID derives the globally unique id of a document's chunk.
func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s%s%d", documentID, chunkIDSeparator, index)
}
