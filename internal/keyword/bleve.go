// Package keyword provides a bleve-backed keyword index over document chunks,
// complementing the vector index with exact term matching.
package keyword

import (
	"context"
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"

	"github.com/takumi/kioku/internal/models"
)

// Result is a single keyword search hit. ID is the chunk key.
type Result struct {
	ID     string
	Score  float64
	Source string
}

// Index is a bleve keyword index over chunk content and source descriptor.
type Index struct {
	index bleve.Index
}

type chunkFields struct {
	Content string `json:"content"`
	Source  string `json:"source"`
}

// Open creates or opens a bleve index at path. The standard analyzer
// (lowercase + tokenize, no stemming) is used so queries match exact words.
func Open(path string) (*Index, error) {
	if _, err := os.Stat(path); err == nil {
		idx, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open keyword index: %w", openErr)
		}
		return &Index{index: idx}, nil
	}

	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name
	textFieldMapping.Store = true
	docMapping.AddFieldMappingsAt("content", textFieldMapping)
	docMapping.AddFieldMappingsAt("source", textFieldMapping)
	im.DefaultMapping = docMapping

	idx, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create keyword index: %w", err)
	}
	return &Index{index: idx}, nil
}

// Index adds or replaces the chunk under its key.
func (i *Index) Index(_ context.Context, id string, doc *models.Document) error {
	return i.index.Index(id, chunkFields{Content: doc.Content, Source: doc.Source()})
}

// Delete removes the chunk with the given key. Deleting an absent key is a no-op.
func (i *Index) Delete(_ context.Context, id string) error {
	return i.index.Delete(id)
}

// DeleteBatch removes the given keys in a single bleve batch.
func (i *Index) DeleteBatch(_ context.Context, ids []string) error {
	batch := i.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	return i.index.Batch(batch)
}

// Search returns up to limit chunks matching query, best first.
func (i *Index) Search(_ context.Context, query string, limit int) ([]*Result, error) {
	if limit <= 0 {
		return nil, nil
	}
	q := bleve.NewMatchQuery(query)
	q.SetField("content")
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.Fields = []string{"source"}
	res, err := i.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	out := make([]*Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		r := &Result{ID: hit.ID, Score: hit.Score}
		if src, ok := hit.Fields["source"].(string); ok {
			r.Source = src
		}
		out = append(out, r)
	}
	return out, nil
}

// DocCount returns the number of chunks in the index.
func (i *Index) DocCount() (uint64, error) {
	return i.index.DocCount()
}

// Close closes the underlying bleve index.
func (i *Index) Close() error {
	return i.index.Close()
}
