// Package rag implements the embedding/indexing/retrieval pipeline: the
// vector store backed by durable persistence, and the manager that drives
// chunking, embedding, and query formatting.
package rag

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/takumi/kioku/internal/embedding"
	"github.com/takumi/kioku/internal/models"
	"github.com/takumi/kioku/internal/storage"
	"github.com/takumi/kioku/internal/vector"
)

// defaultSaveDelay is the debounce window: bursts of mutation collapse into a
// single persist this long after the last mutation.
const defaultSaveDelay = time.Second

// Store holds the in-memory vector index together with its durable backing
// store and keeps the two eventually consistent via a debounced save.
//
// Invariants after every completed mutation:
// |documents| == |vectors| == index.Count(), and the position/path maps form
// a bijection over current entries. Mutating operations are not designed for
// concurrent invocation; the mutex protects the debounced save goroutine,
// not overlapping writers.
type Store struct {
	mu          sync.Mutex
	documents   map[string]*models.Document
	vectors     [][]float32
	pathToPos   map[string]int
	posToPath   map[int]string
	index       *vector.FlatIndex
	persist     storage.Store
	embedder    embedding.Embedder
	dimension   int
	initialized bool
	dirty       bool

	saveDelay time.Duration
	saveTimer *time.Timer
	logger    *zap.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreLogger sets a logger for skip warnings and save events.
func WithStoreLogger(l *zap.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithSaveDelay overrides the debounce window. Used in tests.
func WithSaveDelay(d time.Duration) StoreOption {
	return func(s *Store) { s.saveDelay = d }
}

// NewStore creates a store over the given persistence backend and embedder.
// The store is not loaded until Initialize (called lazily by read operations).
func NewStore(persist storage.Store, embedder embedding.Embedder, dimension int, opts ...StoreOption) *Store {
	s := &Store{
		documents: make(map[string]*models.Document),
		pathToPos: make(map[string]int),
		posToPath: make(map[int]string),
		persist:   persist,
		embedder:  embedder,
		dimension: dimension,
		saveDelay: defaultSaveDelay,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize loads all persisted rows into memory. Idempotent; rows that fail
// validation (unparsable document, key/path mismatch, wrong vector dimension)
// are skipped with a warning, not a fatal error.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initializeLocked(ctx)
}

func (s *Store) initializeLocked(ctx context.Context) error {
	if s.initialized {
		return nil
	}
	idx, err := vector.NewFlatIndex(s.dimension)
	if err != nil {
		return err
	}
	rows, err := s.persist.LoadAll(ctx)
	if err != nil {
		return err
	}
	for _, row := range rows {
		var doc models.Document
		if err := json.Unmarshal(row.DocJSON, &doc); err != nil {
			s.logger.Warn("skipping unparsable persisted row", zap.String("path", row.Path), zap.Error(err))
			continue
		}
		if doc.Path != row.Path {
			s.logger.Warn("skipping persisted row with mismatched path",
				zap.String("key", row.Path), zap.String("doc_path", doc.Path))
			continue
		}
		if len(row.Embedding) != s.dimension {
			s.logger.Warn("skipping persisted row with wrong dimension",
				zap.String("path", row.Path),
				zap.Int("got", len(row.Embedding)), zap.Int("want", s.dimension))
			continue
		}
		pos := len(s.vectors)
		if err := idx.Add(row.Embedding); err != nil {
			s.logger.Warn("skipping persisted row", zap.String("path", row.Path), zap.Error(err))
			continue
		}
		s.documents[doc.Path] = &doc
		s.vectors = append(s.vectors, row.Embedding)
		s.pathToPos[doc.Path] = pos
		s.posToPath[pos] = doc.Path
	}
	s.index = idx
	s.initialized = true
	s.logger.Info("vector store initialized", zap.Int("documents", len(s.documents)))
	return nil
}

// AddDocuments embeds and indexes docs, skipping any whose path already
// exists (the store deduplicates by path, not content), whose content is
// empty, or whose embedding fails or is invalid. A per-chunk failure never
// aborts the batch. Returns the number of documents actually added. A
// debounced persist is scheduled after any change.
func (s *Store) AddDocuments(ctx context.Context, docs []*models.Document) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.initializeLocked(ctx); err != nil {
		return 0, err
	}

	added := 0
	for _, doc := range docs {
		if _, exists := s.documents[doc.Path]; exists {
			s.logger.Debug("skipping duplicate path", zap.String("path", doc.Path))
			continue
		}
		if doc.Empty() {
			s.logger.Warn("skipping empty chunk", zap.String("path", doc.Path))
			continue
		}
		vec, err := s.embedder.Embed(ctx, doc.Content)
		if err != nil {
			s.logger.Warn("skipping chunk: embedding failed", zap.String("path", doc.Path), zap.Error(err))
			continue
		}
		if len(vec) != s.dimension {
			s.logger.Warn("skipping chunk: wrong embedding dimension",
				zap.String("path", doc.Path), zap.Int("got", len(vec)), zap.Int("want", s.dimension))
			continue
		}
		unit, err := vector.Normalize(vec)
		if err != nil {
			s.logger.Warn("skipping chunk: invalid embedding", zap.String("path", doc.Path), zap.Error(err))
			continue
		}
		if err := s.index.Add(unit); err != nil {
			s.logger.Warn("skipping chunk", zap.String("path", doc.Path), zap.Error(err))
			continue
		}
		pos := len(s.vectors)
		s.documents[doc.Path] = doc
		s.vectors = append(s.vectors, unit)
		s.pathToPos[doc.Path] = pos
		s.posToPath[pos] = doc.Path
		added++
	}
	if added > 0 {
		s.scheduleSaveLocked()
	}
	return added, nil
}

// SimilaritySearch returns at most k documents ordered by descending
// similarity (score = 1/(1+distance), attached to result metadata). Embedding
// failure and an empty index both yield an empty result set, not an error.
func (s *Store) SimilaritySearch(ctx context.Context, query string, k int) ([]*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.initializeLocked(ctx); err != nil {
		return nil, err
	}
	if len(s.documents) == 0 || k <= 0 {
		return nil, nil
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		s.logger.Warn("query embedding failed, returning no results", zap.Error(err))
		return nil, nil
	}
	unit, err := vector.Normalize(vec)
	if err != nil {
		s.logger.Warn("query embedding invalid, returning no results", zap.Error(err))
		return nil, nil
	}

	hits, err := s.index.Search(unit, k)
	if err != nil {
		s.logger.Warn("index search failed, returning no results", zap.Error(err))
		return nil, nil
	}

	results := make([]*models.Document, 0, len(hits))
	for _, hit := range hits {
		// Defensive: stale positions should not occur under the stated invariants.
		if hit.Position < 0 {
			continue
		}
		path, ok := s.posToPath[hit.Position]
		if !ok {
			continue
		}
		doc, ok := s.documents[path]
		if !ok {
			continue
		}
		results = append(results, doc.WithScore(1.0/(1.0+hit.Distance)))
	}
	return results, nil
}

// RemoveDocument removes a single path. Absent paths are a logged no-op.
func (s *Store) RemoveDocument(ctx context.Context, path string) error {
	_, err := s.RemoveDocuments(ctx, []string{path})
	return err
}

// RemoveDocuments removes the given paths, then rebuilds the flat index once
// from the surviving vectors in their current relative order (a flat index
// has no in-place delete). Returns the number of paths actually removed.
func (s *Store) RemoveDocuments(ctx context.Context, paths []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.initializeLocked(ctx); err != nil {
		return 0, err
	}

	removed := 0
	for _, path := range paths {
		if _, exists := s.documents[path]; !exists {
			s.logger.Info("remove: path not in store", zap.String("path", path))
			continue
		}
		delete(s.documents, path)
		removed++
	}
	if removed == 0 {
		return 0, nil
	}

	// Rebuild positions 0..n-1 over the survivors, preserving relative order.
	count := len(s.vectors)
	newVectors := make([][]float32, 0, len(s.documents))
	newPathToPos := make(map[string]int, len(s.documents))
	newPosToPath := make(map[int]string, len(s.documents))
	for pos := 0; pos < count; pos++ {
		path, ok := s.posToPath[pos]
		if !ok {
			continue
		}
		if _, survives := s.documents[path]; !survives {
			continue
		}
		newPos := len(newVectors)
		newVectors = append(newVectors, s.vectors[pos])
		newPathToPos[path] = newPos
		newPosToPath[newPos] = path
	}
	if err := s.index.Rebuild(newVectors); err != nil {
		return removed, err
	}
	s.vectors = newVectors
	s.pathToPos = newPathToPos
	s.posToPath = newPosToPath
	s.scheduleSaveLocked()
	return removed, nil
}

// RemoveAllDocuments resets the index and all in-memory maps and deletes all
// persisted rows. Irreversible; a no-op on an empty store.
func (s *Store) RemoveAllDocuments(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.initializeLocked(ctx); err != nil {
		return err
	}
	s.cancelSaveLocked()
	s.documents = make(map[string]*models.Document)
	s.vectors = nil
	s.pathToPos = make(map[string]int)
	s.posToPath = make(map[int]string)
	s.index.Reset()
	return s.persist.DeleteAll(ctx)
}

// ListDocumentPaths returns all known paths in index position order,
// initializing lazily if needed.
func (s *Store) ListDocumentPaths(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.initializeLocked(ctx); err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(s.documents))
	for pos := 0; pos < len(s.vectors); pos++ {
		if path, ok := s.posToPath[pos]; ok {
			paths = append(paths, path)
		}
	}
	return paths, nil
}

// GetDocument returns the document stored under the given chunk key.
func (s *Store) GetDocument(ctx context.Context, path string) (*models.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.initializeLocked(ctx); err != nil {
		s.logger.Warn("initialize failed during lookup", zap.Error(err))
		return nil, false
	}
	doc, ok := s.documents[path]
	return doc, ok
}

// Count returns the number of indexed documents.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.documents)
}

// Save writes the full in-memory state to the backing store in one atomic
// transaction, replacing prior content. The count invariant is asserted
// first; on violation the save aborts with a StateError rather than
// persisting a torn state. An empty memory state clears the persisted store.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx)
}

func (s *Store) saveLocked(ctx context.Context) error {
	// A debounce timer that fired while Close (or an earlier save) held the
	// lock finds nothing left to flush.
	if !s.initialized || !s.dirty {
		return nil
	}
	if len(s.documents) != len(s.vectors) || len(s.vectors) != s.index.Count() {
		err := &StateError{Documents: len(s.documents), Vectors: len(s.vectors), Indexed: s.index.Count()}
		s.logger.Error("aborting save", zap.Error(err))
		return err
	}
	if len(s.documents) == 0 {
		s.dirty = false
		return s.persist.DeleteAll(ctx)
	}
	rows := make([]storage.Row, 0, len(s.documents))
	for pos := 0; pos < len(s.vectors); pos++ {
		path := s.posToPath[pos]
		doc := s.documents[path]
		docJSON, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		rows = append(rows, storage.Row{Path: path, DocJSON: docJSON, Embedding: s.vectors[pos]})
	}
	if err := s.persist.ReplaceAll(ctx, rows); err != nil {
		return err
	}
	s.dirty = false
	s.logger.Debug("index persisted", zap.Int("rows", len(rows)))
	return nil
}

// scheduleSaveLocked arms the debounced persist: each call supersedes any
// previously scheduled save, so a burst of mutations results in one write.
func (s *Store) scheduleSaveLocked() {
	s.dirty = true
	if s.saveTimer != nil {
		s.saveTimer.Stop()
	}
	s.saveTimer = time.AfterFunc(s.saveDelay, func() {
		if err := s.Save(context.Background()); err != nil {
			s.logger.Error("debounced save failed", zap.Error(err))
		}
	})
}

func (s *Store) cancelSaveLocked() {
	if s.saveTimer != nil {
		s.saveTimer.Stop()
		s.saveTimer = nil
	}
	s.dirty = false
}

// Close flushes any pending debounced save and closes the backing store.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.saveTimer != nil {
		s.saveTimer.Stop()
		s.saveTimer = nil
	}
	var saveErr error
	if s.dirty {
		saveErr = s.saveLocked(context.Background())
	}
	s.mu.Unlock()
	if err := s.persist.Close(); err != nil {
		return err
	}
	return saveErr
}
