package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/takumi/kioku/internal/rag"
)

// fakeIndexer records paths handed to it by the watcher.
type fakeIndexer struct {
	mu      sync.Mutex
	indexed []string
	removed []string
}

func (f *fakeIndexer) IndexDocuments(_ context.Context, path string) (*rag.IndexStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, path)
	return &rag.IndexStats{Files: 1, Chunks: 1}, nil
}

func (f *fakeIndexer) RemoveDocument(_ context.Context, path string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, path)
	return 1, nil
}

func (f *fakeIndexer) indexedPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.indexed...)
}

func (f *fakeIndexer) removedPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestWatcher_IndexesWrittenFile(t *testing.T) {
	dir := t.TempDir()
	sink := &fakeIndexer{}
	w := New([]string{dir}, []string{".txt"}, true, sink, WithDebounce(30*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	path := filepath.Join(dir, "note.txt")
	if err := os.WriteFile(path, []byte("hello"), 0600); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(sink.indexedPaths()) >= 1 })
	if got := sink.indexedPaths()[0]; !strings.HasSuffix(got, "note.txt") {
		t.Errorf("indexed %q", got)
	}
}

func TestWatcher_IgnoresUnmatchedExtension(t *testing.T) {
	dir := t.TempDir()
	sink := &fakeIndexer{}
	w := New([]string{dir}, []string{".txt"}, true, sink, WithDebounce(30*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "binary.xyz"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if got := sink.indexedPaths(); len(got) != 0 {
		t.Errorf("indexed unexpected files: %v", got)
	}
}

func TestWatcher_RemovesDeletedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doomed.txt")
	if err := os.WriteFile(path, []byte("content"), 0600); err != nil {
		t.Fatal(err)
	}

	sink := &fakeIndexer{}
	w := New([]string{dir}, []string{".txt"}, true, sink, WithDebounce(30*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(sink.removedPaths()) >= 1 })
	if got := sink.removedPaths()[0]; !strings.HasSuffix(got, "doomed.txt") {
		t.Errorf("removed %q", got)
	}
}

func TestWatcher_AdoptsNewDirectory(t *testing.T) {
	dir := t.TempDir()
	sink := &fakeIndexer{}
	w := New([]string{dir}, []string{".txt", ".md"}, true, sink, WithDebounce(30*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	sub := filepath.Join(dir, "imported")
	if err := os.MkdirAll(sub, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "a.txt"), []byte("a"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "b.md"), []byte("b"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "skip.xyz"), []byte("c"), 0600); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		var txt, md bool
		for _, p := range sink.indexedPaths() {
			if strings.HasSuffix(p, "a.txt") {
				txt = true
			}
			if strings.HasSuffix(p, "b.md") {
				md = true
			}
		}
		return txt && md
	})
	for _, p := range sink.indexedPaths() {
		if strings.HasSuffix(p, "skip.xyz") {
			t.Errorf("unmatched extension was indexed: %v", sink.indexedPaths())
		}
	}
}

func TestWatcher_SyncExisting(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "present.txt"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "other.xyz"), []byte("y"), 0600); err != nil {
		t.Fatal(err)
	}

	sink := &fakeIndexer{}
	w := New([]string{dir}, []string{".txt"}, true, sink)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	w.SyncExisting(ctx)
	got := sink.indexedPaths()
	if len(got) != 1 || !strings.HasSuffix(got[0], "present.txt") {
		t.Errorf("synced %v, want only present.txt", got)
	}
}

func TestWatcher_StartCreatesMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "watch-me")
	w := New([]string{root}, nil, true, &fakeIndexer{})
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	if _, err := os.Stat(root); err != nil {
		t.Errorf("root not created: %v", err)
	}
}

func TestWatcher_DefaultExtensionsFollowExtractor(t *testing.T) {
	w := New(nil, nil, true, &fakeIndexer{})
	for path, want := range map[string]bool{
		"/a/doc.txt":  true,
		"/a/doc.MD":   true,
		"/a/doc.pdf":  true,
		"/a/doc.xyz":  false,
		"/a/Makefile": false,
	} {
		if got := w.wanted(path); got != want {
			t.Errorf("wanted(%q) = %v, want %v", path, got, want)
		}
	}
}
