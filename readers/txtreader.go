package readers

import (
	"os"
	"unicode/utf8"
)

type TxtFileReader struct{}

func (r *TxtFileReader) ReadText(path string) (string, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return "", &ExtractionError{Path: path, Err: err}
	}

	if !utf8.Valid(buf) {
		return "", &ExtractionError{Path: path, Err: ErrInvalidEncoding}
	}

	return string(buf), nil
}
