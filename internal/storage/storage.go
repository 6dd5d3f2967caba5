// Package storage provides durable persistence for indexed chunks.
package storage

import "context"

// Row is one persisted chunk: the store key, the serialized document, and the
// normalized embedding.
type Row struct {
	Path      string
	DocJSON   []byte
	Embedding []float32
}

// Store persists the full index state. ReplaceAll swaps the entire contents in
// one atomic transaction; LoadAll returns rows in their insertion order so the
// in-memory index positions can be rebuilt deterministically.
type Store interface {
	LoadAll(ctx context.Context) ([]Row, error)
	ReplaceAll(ctx context.Context, rows []Row) error
	DeleteAll(ctx context.Context) error
	Close() error
}
