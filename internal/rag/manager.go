package rag

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/takumi/kioku/internal/chunker"
	"github.com/takumi/kioku/internal/extract"
	"github.com/takumi/kioku/internal/keyword"
	"github.com/takumi/kioku/internal/models"
)

// IndexStats reports the outcome of an index operation.
type IndexStats struct {
	Files  int
	Chunks int
}

// Manager orchestrates the pipeline: document discovery, chunking, embedding,
// indexing, and retrieval formatting. It owns the lifecycle of its vector
// store and optional keyword index.
type Manager struct {
	store     *Store
	keyword   *keyword.Index // optional; nil disables keyword search
	extractor *extract.Extractor
	chunker   *chunker.Chunker
	logger    *zap.Logger

	defaultLimit int
	maxLimit     int
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithKeywordIndex attaches a keyword index; indexed chunks are mirrored into
// it and the SearchKeyword operation becomes available.
func WithKeywordIndex(idx *keyword.Index) ManagerOption {
	return func(m *Manager) { m.keyword = idx }
}

// WithManagerLogger sets a logger for indexing and query events.
func WithManagerLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithLimits sets the default and maximum number of query results.
func WithLimits(defaultLimit, maxLimit int) ManagerOption {
	return func(m *Manager) {
		m.defaultLimit = defaultLimit
		m.maxLimit = maxLimit
	}
}

// NewManager creates a manager over the given store, extractor, and chunker.
func NewManager(store *Store, extractor *extract.Extractor, ch *chunker.Chunker, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:        store,
		extractor:    extractor,
		chunker:      ch,
		logger:       zap.NewNop(),
		defaultLimit: 15,
		maxLimit:     100,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IndexDocuments indexes the file or directory at path. A missing path is a
// NotFoundError; a file with an unsupported extension is rejected; a directory
// with no supported files fails with ErrNoSupportedFiles (distinct from the
// missing-path case). Per-file extraction failures inside a directory are
// logged and skipped.
func (m *Manager) IndexDocuments(ctx context.Context, path string) (*IndexStats, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{Path: absPath}
		}
		return nil, fmt.Errorf("stat path: %w", err)
	}

	var files []string
	if info.IsDir() {
		files, err = m.discoverFiles(absPath)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("%w under %s", ErrNoSupportedFiles, absPath)
		}
	} else {
		if !extract.Supported(filepath.Ext(absPath)) {
			return nil, &NotFoundError{Path: absPath, Reason: "unsupported file extension"}
		}
		files = []string{absPath}
	}

	stats := &IndexStats{}
	for _, file := range files {
		n, err := m.indexFile(ctx, file)
		if err != nil {
			if len(files) == 1 {
				return nil, err
			}
			m.logger.Warn("skipping file", zap.String("path", file), zap.Error(err))
			continue
		}
		stats.Files++
		stats.Chunks += n
	}
	return stats, nil
}

// discoverFiles walks dir recursively collecting regular files with supported
// extensions.
func (m *Manager) discoverFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if !extract.Supported(filepath.Ext(path)) {
			return nil
		}
		// Resolve symlinks so only regular files are indexed.
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

// indexFile extracts, chunks, and indexes one file. Returns the number of
// chunks added to the store.
func (m *Manager) indexFile(ctx context.Context, absPath string) (int, error) {
	text, err := m.extractor.Extract(absPath)
	if err != nil {
		return 0, fmt.Errorf("extract content: %w", err)
	}
	chunks := m.chunker.Chunk(text)
	if len(chunks) == 0 {
		m.logger.Info("file has no indexable content", zap.String("path", absPath))
		return 0, nil
	}

	name := filepath.Base(absPath)
	docs := make([]*models.Document, 0, len(chunks))
	for i, content := range chunks {
		docs = append(docs, &models.Document{
			Path:    ChunkKey(absPath, i),
			Content: content,
			Metadata: map[string]interface{}{
				models.MetaKeySource: fmt.Sprintf("%s (chunk %d/%d)", name, i+1, len(chunks)),
			},
		})
	}

	added, err := m.store.AddDocuments(ctx, docs)
	if err != nil {
		return 0, err
	}
	if m.keyword != nil {
		for _, doc := range docs {
			if err := m.keyword.Index(ctx, doc.Path, doc); err != nil {
				m.logger.Warn("keyword indexing failed", zap.String("path", doc.Path), zap.Error(err))
			}
		}
	}
	m.logger.Debug("file indexed",
		zap.String("path", absPath), zap.Int("chunks", len(chunks)), zap.Int("added", added))
	return added, nil
}

// QueryDocuments embeds the query, searches the vector index, and returns the
// retrieved chunks as formatted [DOCUMENT:…] blocks. Returns ErrNotIndexed
// when nothing has been indexed yet; an empty string means the search itself
// produced no results.
func (m *Manager) QueryDocuments(ctx context.Context, query string, k int) (string, error) {
	if err := m.store.Initialize(ctx); err != nil {
		return "", err
	}
	if m.store.Count() == 0 {
		return "", ErrNotIndexed
	}
	if k <= 0 {
		k = m.defaultLimit
	}
	if k > m.maxLimit {
		k = m.maxLimit
	}
	docs, err := m.store.SimilaritySearch(ctx, query, k)
	if err != nil {
		return "", err
	}
	return FormatResults(docs), nil
}

// RemoveDocument removes every chunk derived from the given source path with
// a single index rebuild. Returns the number of chunks removed; an unknown
// path is a logged no-op, not an error.
func (m *Manager) RemoveDocument(ctx context.Context, path string) (int, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	keys, err := m.chunkKeysOf(ctx, absPath)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		m.logger.Info("remove: no indexed chunks for path", zap.String("path", absPath))
		return 0, nil
	}
	removed, err := m.store.RemoveDocuments(ctx, keys)
	if err != nil {
		return removed, err
	}
	if m.keyword != nil {
		if err := m.keyword.DeleteBatch(ctx, keys); err != nil {
			m.logger.Warn("keyword removal failed", zap.String("path", absPath), zap.Error(err))
		}
	}
	return removed, nil
}

// RemoveAllDocuments clears the vector store, its persistence, and the
// keyword index. Irreversible.
func (m *Manager) RemoveAllDocuments(ctx context.Context) error {
	var keys []string
	if m.keyword != nil {
		var err error
		keys, err = m.store.ListDocumentPaths(ctx)
		if err != nil {
			return err
		}
	}
	if err := m.store.RemoveAllDocuments(ctx); err != nil {
		return err
	}
	if m.keyword != nil && len(keys) > 0 {
		if err := m.keyword.DeleteBatch(ctx, keys); err != nil {
			m.logger.Warn("keyword clear failed", zap.Error(err))
		}
	}
	return nil
}

// ListDocumentPaths returns the distinct source paths of all indexed chunks,
// in index order.
func (m *Manager) ListDocumentPaths(ctx context.Context) ([]string, error) {
	keys, err := m.store.ListDocumentPaths(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(keys))
	sources := make([]string, 0, len(keys))
	for _, key := range keys {
		src := SourceOfKey(key)
		if _, dup := seen[src]; dup {
			continue
		}
		seen[src] = struct{}{}
		sources = append(sources, src)
	}
	return sources, nil
}

// SearchKeyword runs a keyword (term match) search over indexed chunks and
// returns matching documents with their keyword scores attached. Returns an
// error when no keyword index is configured.
func (m *Manager) SearchKeyword(ctx context.Context, query string, limit int) ([]*models.Document, error) {
	if m.keyword == nil {
		return nil, fmt.Errorf("keyword search is not enabled")
	}
	if limit <= 0 {
		limit = m.defaultLimit
	}
	if limit > m.maxLimit {
		limit = m.maxLimit
	}
	hits, err := m.keyword.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	docs := make([]*models.Document, 0, len(hits))
	for _, hit := range hits {
		doc, ok := m.store.GetDocument(ctx, hit.ID)
		if !ok {
			continue
		}
		docs = append(docs, doc.WithScore(hit.Score))
	}
	return docs, nil
}

// Count returns the number of indexed chunks.
func (m *Manager) Count() int {
	return m.store.Count()
}

// Close flushes and closes the store and the keyword index.
func (m *Manager) Close() error {
	var firstErr error
	if err := m.store.Close(); err != nil {
		firstErr = err
	}
	if m.keyword != nil {
		if err := m.keyword.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// chunkKeysOf returns the store keys of all chunks derived from sourcePath.
func (m *Manager) chunkKeysOf(ctx context.Context, sourcePath string) ([]string, error) {
	keys, err := m.store.ListDocumentPaths(ctx)
	if err != nil {
		return nil, err
	}
	prefix := sourcePath + "#"
	var out []string
	for _, key := range keys {
		if key == sourcePath || strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
	}
	return out, nil
}
