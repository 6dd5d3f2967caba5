// Package models defines core data structures for documents and retrieval results.
package models

import "strings"

// Metadata keys attached to document chunks.
const (
	MetaKeySource = "source"
	MetaKeyScore  = "score"
)

// Document represents one indexed chunk of a source file. Path is the store
// key and is chunk-unique ("<source path>#<i>"). Metadata["source"] holds the
// human-readable descriptor, e.g. "notes.md (chunk 2/5)". Metadata["score"]
// is populated only on query results and is never persisted.
type Document struct {
	Path     string                 `json:"path"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Source returns the human-readable source descriptor, falling back to Path.
func (d *Document) Source() string {
	if d.Metadata != nil {
		if s, ok := d.Metadata[MetaKeySource].(string); ok && s != "" {
			return s
		}
	}
	return d.Path
}

// WithScore returns a shallow copy of the document with the similarity score
// set in a copied metadata map, leaving the stored document untouched.
func (d *Document) WithScore(score float64) *Document {
	out := *d
	out.Metadata = make(map[string]interface{}, len(d.Metadata)+1)
	for k, v := range d.Metadata {
		out.Metadata[k] = v
	}
	out.Metadata[MetaKeyScore] = score
	return &out
}

// Empty reports whether the chunk content is empty after trimming.
// Empty chunks are dropped before embedding.
func (d *Document) Empty() bool {
	return strings.TrimSpace(d.Content) == ""
}
