package storage

import (
	"context"
	"math"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "data", "kioku.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_ReplaceAllLoadAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rows := []Row{
		{Path: "/a.txt#0", DocJSON: []byte(`{"path":"/a.txt#0"}`), Embedding: []float32{1, 0}},
		{Path: "/a.txt#1", DocJSON: []byte(`{"path":"/a.txt#1"}`), Embedding: []float32{0, 1}},
		{Path: "/b.md#0", DocJSON: []byte(`{"path":"/b.md#0"}`), Embedding: []float32{0.6, 0.8}},
	}
	if err := s.ReplaceAll(ctx, rows); err != nil {
		t.Fatal(err)
	}

	got, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(got))
	}
	// Insertion order is preserved.
	for i := range rows {
		if got[i].Path != rows[i].Path {
			t.Errorf("row %d: path=%q, want %q", i, got[i].Path, rows[i].Path)
		}
		for j := range rows[i].Embedding {
			if math.Abs(float64(got[i].Embedding[j]-rows[i].Embedding[j])) > 1e-7 {
				t.Errorf("row %d vector differs at %d", i, j)
			}
		}
	}
}

func TestSQLiteStore_ReplaceAllIsWholesale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_ = s.ReplaceAll(ctx, []Row{{Path: "old", DocJSON: []byte(`{}`), Embedding: []float32{1}}})
	if err := s.ReplaceAll(ctx, []Row{{Path: "new", DocJSON: []byte(`{}`), Embedding: []float32{2}}}); err != nil {
		t.Fatal(err)
	}
	got, _ := s.LoadAll(ctx)
	if len(got) != 1 || got[0].Path != "new" {
		t.Errorf("prior content should be replaced: %+v", got)
	}

	// Empty slice clears the store.
	if err := s.ReplaceAll(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.LoadAll(ctx); len(got) != 0 {
		t.Errorf("expected empty store, got %d rows", len(got))
	}
}

func TestSQLiteStore_LoadAllSkipsCorruptBlob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.ReplaceAll(ctx, []Row{
		{Path: "/good.txt#0", DocJSON: []byte(`{"path":"/good.txt#0"}`), Embedding: []float32{1, 0}},
	}); err != nil {
		t.Fatal(err)
	}
	// A truncated blob, as a crashed or foreign writer could leave behind.
	if _, err := s.db.Exec(`INSERT INTO chunks (path, doc, embedding) VALUES (?, ?, ?)`,
		"/bad.txt#0", `{"path":"/bad.txt#0"}`, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}

	got, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(got) != 1 || got[0].Path != "/good.txt#0" {
		t.Errorf("expected only the intact row, got %+v", got)
	}
}

func TestSQLiteStore_DeleteAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.ReplaceAll(ctx, []Row{{Path: "x", DocJSON: []byte(`{}`), Embedding: []float32{1}}})
	if err := s.DeleteAll(ctx); err != nil {
		t.Fatal(err)
	}
	n, err := s.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("Count=%d", n)
	}
}

func TestSQLiteStore_Reopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kioku.db")
	ctx := context.Background()

	s1, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	_ = s1.ReplaceAll(ctx, []Row{{Path: "p", DocJSON: []byte(`{"path":"p"}`), Embedding: []float32{0.5, 0.5}}})
	_ = s1.Close()

	s2, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	got, err := s2.LoadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Path != "p" {
		t.Errorf("reopened store rows: %+v", got)
	}
}

func TestVectorCodec(t *testing.T) {
	in := []float32{0.1, -2.5, 0, 1e-8}
	out, err := DecodeVector(EncodeVector(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != len(in) {
		t.Fatalf("len=%d", len(out))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("index %d: %g != %g", i, in[i], out[i])
		}
	}
	if _, err := DecodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for misaligned blob")
	}
}
