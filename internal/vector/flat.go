// Package vector provides a flat L2 index and vector normalization helpers.
package vector

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// Hit is a single nearest-neighbor result: the vector's position in the index
// and its L2 distance to the query.
type Hit struct {
	Position int
	Distance float64
}

// FlatIndex is an exhaustive nearest-neighbor index over unit vectors using
// L2 distance. Positions are assigned in insertion order; there is no
// in-place delete, removal is done by rebuilding from the surviving vectors.
type FlatIndex struct {
	dimensions int
	vectors    [][]float32
	mu         sync.RWMutex
}

// NewFlatIndex creates a flat index with the given dimension.
func NewFlatIndex(dimensions int) (*FlatIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("vector: dimensions must be positive, got %d", dimensions)
	}
	return &FlatIndex{
		dimensions: dimensions,
		vectors:    make([][]float32, 0),
	}, nil
}

// Dimensions returns the fixed vector dimension of the index.
func (f *FlatIndex) Dimensions() int {
	return f.dimensions
}

// Add appends a vector at the next position. The vector is copied.
func (f *FlatIndex) Add(vec []float32) error {
	if len(vec) != f.dimensions {
		return fmt.Errorf("vector: dimension mismatch: got %d, expected %d", len(vec), f.dimensions)
	}
	cp := make([]float32, f.dimensions)
	copy(cp, vec)
	f.mu.Lock()
	f.vectors = append(f.vectors, cp)
	f.mu.Unlock()
	return nil
}

// Search returns the k nearest vectors to query by ascending L2 distance.
// Searching an empty index returns no hits.
func (f *FlatIndex) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("vector: query dimension mismatch: got %d, expected %d", len(query), f.dimensions)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if k <= 0 || len(f.vectors) == 0 {
		return nil, nil
	}
	hits := make([]Hit, len(f.vectors))
	for i, vec := range f.vectors {
		var sum float64
		for j := 0; j < f.dimensions; j++ {
			d := float64(query[j] - vec[j])
			sum += d * d
		}
		hits[i] = Hit{Position: i, Distance: math.Sqrt(sum)}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

// Count returns the number of vectors in the index.
func (f *FlatIndex) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vectors)
}

// Reset drops all vectors, keeping the dimension.
func (f *FlatIndex) Reset() {
	f.mu.Lock()
	f.vectors = f.vectors[:0]
	f.mu.Unlock()
}

// Rebuild replaces the index contents with vecs in their given order.
// Used after removals, since a flat index has no in-place delete.
func (f *FlatIndex) Rebuild(vecs [][]float32) error {
	fresh := make([][]float32, 0, len(vecs))
	for i, vec := range vecs {
		if len(vec) != f.dimensions {
			return fmt.Errorf("vector: rebuild vector %d dimension mismatch: got %d, expected %d", i, len(vec), f.dimensions)
		}
		cp := make([]float32, f.dimensions)
		copy(cp, vec)
		fresh = append(fresh, cp)
	}
	f.mu.Lock()
	f.vectors = fresh
	f.mu.Unlock()
	return nil
}
