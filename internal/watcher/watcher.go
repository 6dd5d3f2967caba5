// Package watcher re-indexes configured directories on file changes using
// fsnotify. Writes are debounced per path before being handed to the indexing
// pipeline; removals drop the file's chunks immediately.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/takumi/kioku/internal/extract"
	"github.com/takumi/kioku/internal/rag"
)

// debounceWindow collapses editor write bursts into a single re-index.
const debounceWindow = 400 * time.Millisecond

// Indexer receives change notifications. *rag.Manager satisfies it.
type Indexer interface {
	IndexDocuments(ctx context.Context, path string) (*rag.IndexStats, error)
	RemoveDocument(ctx context.Context, path string) (int, error)
}

// Watcher watches a fixed set of root directories and feeds changed files to
// an Indexer.
type Watcher struct {
	roots      []string
	extensions []string // empty means every extension the extractor supports
	recursive  bool
	sink       Indexer
	logger     *zap.Logger
	debounce   time.Duration

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	pending map[string]*time.Timer
	done    chan struct{}
	started bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for watch events.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce overrides the write-debounce window. Used in tests.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// New creates a watcher over the given roots. extensions filters which files
// trigger indexing (leading dot, case-insensitive); an empty list falls back
// to the extractor's supported formats.
func New(roots, extensions []string, recursive bool, sink Indexer, opts ...Option) *Watcher {
	w := &Watcher{
		roots:      roots,
		extensions: extensions,
		recursive:  recursive,
		sink:       sink,
		logger:     zap.NewNop(),
		debounce:   debounceWindow,
		pending:    make(map[string]*time.Timer),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start registers all roots (creating missing ones) and begins dispatching
// events until ctx is cancelled or Stop is called. Idempotent.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.fsw = fsw
	for _, root := range w.roots {
		if err := w.watchTreeLocked(root); err != nil {
			_ = fsw.Close()
			w.fsw = nil
			w.mu.Unlock()
			return err
		}
	}
	w.started = true
	w.mu.Unlock()

	w.logger.Info("watching directories",
		zap.Strings("roots", w.roots), zap.Bool("recursive", w.recursive))
	go w.loop(ctx, fsw)
	return nil
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.dispatch(ctx, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Warn("watch error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) dispatch(ctx context.Context, ev fsnotify.Event) {
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			w.adoptDirectory(ctx, ev.Name)
			return
		}
		if w.wanted(ev.Name) {
			w.scheduleIndex(ctx, ev.Name)
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.cancelPending(ev.Name)
		if w.wanted(ev.Name) {
			if _, err := w.sink.RemoveDocument(ctx, ev.Name); err != nil {
				w.logger.Warn("remove on change failed", zap.String("path", ev.Name), zap.Error(err))
			}
		}
	}
}

// adoptDirectory starts watching a directory created (or moved) inside a
// watched tree and indexes its existing files, so copied-in folders are picked
// up whole.
func (w *Watcher) adoptDirectory(ctx context.Context, dir string) {
	if !w.recursive {
		return
	}
	w.mu.Lock()
	if w.fsw != nil {
		if err := w.watchTreeLocked(dir); err != nil {
			w.logger.Warn("cannot watch new directory", zap.String("path", dir), zap.Error(err))
		}
	}
	w.mu.Unlock()
	w.logger.Debug("new directory adopted", zap.String("path", dir))
	w.indexTree(ctx, dir)
}

// watchTreeLocked registers root (and, when recursive, every subdirectory)
// with fsnotify. A missing root is created first.
func (w *Watcher) watchTreeLocked(root string) error {
	root = filepath.Clean(root)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	if !w.recursive {
		return w.fsw.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fsw.Add(path)
		}
		return nil
	})
}

// SyncExisting indexes every matching file already present under the watched
// roots. Call after Start to catch up on files created while not running.
func (w *Watcher) SyncExisting(ctx context.Context) {
	for _, root := range w.roots {
		w.indexTree(ctx, root)
	}
}

func (w *Watcher) indexTree(ctx context.Context, root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if w.wanted(path) {
			if _, indexErr := w.sink.IndexDocuments(ctx, path); indexErr != nil {
				w.logger.Warn("sync indexing failed", zap.String("path", path), zap.Error(indexErr))
			}
		}
		return nil
	})
}

// wanted reports whether the file should be indexed, by extension.
func (w *Watcher) wanted(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if len(w.extensions) == 0 {
		return extract.Supported(ext)
	}
	for _, e := range w.extensions {
		if ext == "."+strings.TrimPrefix(strings.ToLower(e), ".") {
			return true
		}
	}
	return false
}

// scheduleIndex arms (or re-arms) the per-path debounce timer.
func (w *Watcher) scheduleIndex(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		// Drop stale chunks first; the store deduplicates by chunk key, so a
		// plain re-add of a changed file would be a no-op.
		if _, err := w.sink.RemoveDocument(ctx, path); err != nil {
			w.logger.Warn("stale chunk removal failed", zap.String("path", path), zap.Error(err))
		}
		if _, err := w.sink.IndexDocuments(ctx, path); err != nil {
			w.logger.Warn("re-index on change failed", zap.String("path", path), zap.Error(err))
		} else {
			w.logger.Debug("re-indexed on change", zap.String("path", path))
		}
	})
}

func (w *Watcher) cancelPending(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

// Stop cancels pending re-indexes and closes the underlying fsnotify watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.started = false
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	fsw := w.fsw
	w.fsw = nil
	w.mu.Unlock()
	if fsw != nil {
		_ = fsw.Close()
	}
	close(w.done)
}
