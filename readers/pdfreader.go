package readers

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PdfFileReader extracts text page by page. A page that cannot be decoded
// contributes nothing instead of failing the whole document.
type PdfFileReader struct{}

func (r *PdfFileReader) ReadText(path string) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			text = ""
			err = &ExtractionError{Path: path, Err: fmt.Errorf("malformed pdf: %v", rec)}
		}
	}()

	f, doc, err := pdf.Open(path)
	if err != nil {
		return "", &ExtractionError{Path: path, Err: err}
	}
	defer f.Close()

	var sb strings.Builder
	fonts := make(map[string]*pdf.Font)
	for i := 1; i <= doc.NumPage(); i++ {
		sb.WriteString(pageText(doc.Page(i), fonts))
	}

	return sb.String(), nil
}

func pageText(p pdf.Page, fonts map[string]*pdf.Font) (text string) {
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()

	if p.V.IsNull() {
		return ""
	}

	for _, name := range p.Fonts() {
		if _, ok := fonts[name]; !ok {
			f := p.Font(name)
			fonts[name] = &f
		}
	}

	text, err := p.GetPlainText(fonts)
	if err != nil {
		return ""
	}

	return text
}
