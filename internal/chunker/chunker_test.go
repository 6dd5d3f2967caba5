package chunker

import (
	"strings"
	"testing"
)

func TestSplit_WindowCoverage(t *testing.T) {
	// 1200 chars, size 500, overlap 200: windows [0:500][300:800][600:1100][900:1200].
	text := strings.Repeat("a", 300) + strings.Repeat("b", 300) + strings.Repeat("c", 300) + strings.Repeat("d", 300)
	chunks := Split(text, 500, 200)
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}
	wantLens := []int{500, 500, 500, 300}
	for i, c := range chunks {
		if len(c) != wantLens[i] {
			t.Errorf("chunk %d: len=%d, want %d", i, len(c), wantLens[i])
		}
	}
	if chunks[0] != text[0:500] || chunks[1] != text[300:800] || chunks[2] != text[600:1100] || chunks[3] != text[900:1200] {
		t.Error("chunk boundaries do not match expected windows")
	}
}

func TestSplit_ChunkCount(t *testing.T) {
	// number of chunks = ceil((len-overlap)/(size-overlap)) for len > size
	for _, tc := range []struct {
		length, size, overlap int
	}{
		{1200, 500, 200},
		{1000, 100, 0},
		{999, 100, 10},
		{5000, 512, 64},
	} {
		text := strings.Repeat("x", tc.length)
		chunks := Split(text, tc.size, tc.overlap)
		step := tc.size - tc.overlap
		want := (tc.length - tc.overlap + step - 1) / step
		if len(chunks) != want {
			t.Errorf("len=%d size=%d overlap=%d: got %d chunks, want %d",
				tc.length, tc.size, tc.overlap, len(chunks), want)
		}
	}
}

func TestSplit_ShortText(t *testing.T) {
	chunks := Split("short", 500, 200)
	if len(chunks) != 1 || chunks[0] != "short" {
		t.Errorf("short text: got %v", chunks)
	}
}

func TestSplit_Empty(t *testing.T) {
	if chunks := Split("", 500, 200); len(chunks) != 0 {
		t.Errorf("empty text: got %v", chunks)
	}
}

func TestNew_RejectsBadOverlap(t *testing.T) {
	if _, err := New(100, 100); err == nil {
		t.Error("expected error for overlap == size")
	}
	if _, err := New(100, 150); err == nil {
		t.Error("expected error for overlap > size")
	}
	if _, err := New(0, 0); err == nil {
		t.Error("expected error for zero size")
	}
	if _, err := New(100, 0); err != nil {
		t.Errorf("zero overlap should be valid: %v", err)
	}
}

func TestChunk_CodeLike(t *testing.T) {
	c, _ := New(500, 200)
	text := `package main

func main() {
	run()
}

func run() {
	helper()
}
`
	chunks := c.Chunk(text)
	if len(chunks) < 2 {
		t.Fatalf("expected code split into multiple chunks, got %d: %q", len(chunks), chunks)
	}
	if !strings.Contains(chunks[len(chunks)-1], "func run") {
		t.Errorf("last chunk should contain trailing function: %q", chunks[len(chunks)-1])
	}
	// Every fragment of the input must appear in order.
	if strings.Join(chunks, "") != text {
		t.Error("code chunks should partition the input")
	}
}

func TestChunk_MarkdownLike(t *testing.T) {
	c, _ := New(500, 200)
	text := "intro text\n\n# First\nbody one\n\n## Second\nbody two\n"
	chunks := c.Chunk(text)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 markdown chunks, got %d: %q", len(chunks), chunks)
	}
	if !strings.HasPrefix(chunks[1], "# First") {
		t.Errorf("chunk 1 should start at heading: %q", chunks[1])
	}
	if !strings.HasPrefix(chunks[2], "## Second") {
		t.Errorf("chunk 2 should start at heading: %q", chunks[2])
	}
}

func TestChunk_MarkdownDiscardsEmptyLead(t *testing.T) {
	c, _ := New(500, 200)
	chunks := c.Chunk("# Only\ncontent\n")
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d: %q", len(chunks), chunks)
	}
}

func TestChunk_PlainUsesDynamicWindow(t *testing.T) {
	c, _ := New(700, 100)
	text := strings.Repeat("word ", 400) // 2000 chars, no braces, no headings
	chunks := c.Chunk(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple plain chunks, got %d", len(chunks))
	}
	// dynamic target = (500 + 700) / 2 = 600
	if len(chunks[0]) != 600 {
		t.Errorf("first chunk len=%d, want 600", len(chunks[0]))
	}
}
