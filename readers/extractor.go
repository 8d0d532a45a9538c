package readers

type TextReader interface {
	ReadText(path string) (string, error)
}

// Extractor dispatches a file to the reader registered for its type.
type Extractor struct {
	readers map[FileType]TextReader
}

type Option func(*Extractor)

// WithPdfReader replaces the native PDF reader, e.g. with DocconvFileReader.
func WithPdfReader(r TextReader) Option {
	return func(e *Extractor) {
		e.readers[PDF] = r
	}
}

func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		readers: map[FileType]TextReader{
			PDF:       &PdfFileReader{},
			PlainText: &TxtFileReader{},
		},
	}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Extract reads the file at path as the given type. The file is never modified.
func (e *Extractor) Extract(path string, t FileType) (string, error) {
	r, ok := e.readers[t]
	if !ok {
		return "", unsupported(t.String())
	}

	return r.ReadText(path)
}
