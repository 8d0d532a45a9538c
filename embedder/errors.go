package embedder

import "fmt"

// EmbeddingError reports a failed embedding call. No vectors are returned
// alongside it.
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding failed: %v", e.Err)
}

func (e *EmbeddingError) Unwrap() error {
	return e.Err
}
