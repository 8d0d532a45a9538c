package readers

import (
	"code.sajari.com/docconv/v2"
)

// DocconvFileReader converts the whole document with poppler's pdftotext.
// Unlike PdfFileReader it has no per-page isolation.
type DocconvFileReader struct{}

func (r *DocconvFileReader) ReadText(path string) (string, error) {
	res, err := docconv.ConvertPath(path)
	if err != nil {
		return "", &ExtractionError{Path: path, Err: err}
	}

	return res.Body, nil
}
