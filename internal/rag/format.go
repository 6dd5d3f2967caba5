package rag

import (
	"strconv"
	"strings"

	"github.com/takumi/kioku/internal/models"
)

// ChunkKey returns the store key for chunk i of the given source path.
// Keys are chunk-unique so every chunk of a file is retrievable; removal by
// source path matches all keys with the same prefix.
func ChunkKey(sourcePath string, i int) string {
	return sourcePath + "#" + strconv.Itoa(i)
}

// SourceOfKey returns the source path a chunk key was derived from.
func SourceOfKey(key string) string {
	if i := strings.LastIndex(key, "#"); i >= 0 {
		if _, err := strconv.Atoi(key[i+1:]); err == nil {
			return key[:i]
		}
	}
	return key
}

// Slugify builds the document tag slug: the source name with a ".md" suffix
// stripped and whitespace replaced by underscores.
func Slugify(source string) string {
	s := strings.TrimSuffix(source, ".md")
	return strings.Join(strings.Fields(s), "_")
}

// FormatResults renders retrieved chunks as the concatenation of
// [DOCUMENT:<slug>] blocks joined by blank lines. Chunks with identical
// trimmed content are de-duplicated, first occurrence wins, order preserved.
func FormatResults(docs []*models.Document) string {
	seen := make(map[string]struct{}, len(docs))
	blocks := make([]string, 0, len(docs))
	for _, doc := range docs {
		trimmed := strings.TrimSpace(doc.Content)
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		slug := Slugify(doc.Source())
		blocks = append(blocks, "[DOCUMENT:"+slug+"]\n"+doc.Content+"\n[/DOCUMENT:"+slug+"]")
	}
	return strings.Join(blocks, "\n\n")
}
