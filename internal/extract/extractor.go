// Package extract provides text extraction from supported document formats.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lu4p/cat"
)

// supportedExtensions maps every extension the extractor can read. Text-based
// formats (.json/.jsonl/.txt/.md/.csv) are read verbatim; binary formats are
// converted to plain text.
var supportedExtensions = map[string]bool{
	".txt":   true,
	".md":    true,
	".json":  true,
	".jsonl": true,
	".csv":   true,
	".pdf":   true,
	".docx":  true,
	".odt":   true,
	".rtf":   true,
	".xlsx":  true,
}

// Extractor extracts plain text from document files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Supported reports whether the extension (with leading dot, any case) can be
// extracted.
func Supported(ext string) bool {
	return supportedExtensions[strings.ToLower(ext)]
}

// SupportedExtensions returns the supported extensions, for error messages.
func SupportedExtensions() []string {
	out := make([]string, 0, len(supportedExtensions))
	for ext := range supportedExtensions {
		out = append(out, ext)
	}
	return out
}

// Extract reads the file at path and returns its text content. Returns an
// error if the file cannot be read or its extension is unsupported.
func (e *Extractor) Extract(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !Supported(ext) {
		return "", fmt.Errorf("unsupported file extension %q", ext)
	}
	switch ext {
	case ".odt", ".rtf":
		text, err := cat.File(path)
		if err != nil {
			return "", fmt.Errorf("extract %s: %w", ext, err)
		}
		return text, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	switch ext {
	case ".pdf":
		return extractPDF(content)
	case ".docx":
		return extractDOCX(content)
	case ".xlsx":
		return extractExcel(content)
	default:
		return extractPlain(content)
	}
}
