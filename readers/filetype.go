package readers

import (
	"path/filepath"
	"strings"
)

// FileType is the closed set of document formats the extractor understands.
type FileType int

const (
	PDF FileType = iota + 1
	PlainText
)

func (t FileType) String() string {
	switch t {
	case PDF:
		return "pdf"
	case PlainText:
		return "txt"
	default:
		return "unknown"
	}
}

// ParseFileType resolves the type from the file name extension.
func ParseFileType(filename string) (FileType, error) {
	ext := strings.TrimPrefix(filepath.Ext(filename), ".")
	return ParseDeclaredType(ext)
}

// ParseDeclaredType resolves a declared type such as "pdf" or "txt".
func ParseDeclaredType(declared string) (FileType, error) {
	switch strings.ToLower(strings.TrimSpace(declared)) {
	case "pdf":
		return PDF, nil
	case "txt":
		return PlainText, nil
	default:
		return 0, unsupported(declared)
	}
}
