package readers

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrInvalidEncoding   = errors.New("file is not valid UTF-8")
)

// ExtractionError reports a source file that could not be read or decoded.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("failed to extract text from %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

func unsupported(what string) error {
	if what == "" {
		return ErrUnsupportedFormat
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedFormat, what)
}
