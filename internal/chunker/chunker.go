// Package chunker splits raw text into overlapping chunks for embedding.
package chunker

import (
	"fmt"
	"regexp"
	"strings"
)

// plainBaseline is the fixed half of the dynamic window size for plain text.
// Code and markdown texts are split at structural boundaries instead.
const plainBaseline = 500

// funcDeclRe matches a function-like declaration immediately followed by an
// opening brace, covering the common C-family and Go/JS/Rust signatures.
var funcDeclRe = regexp.MustCompile(`(?m)^[ \t]*(?:export\s+)?(?:async\s+)?(?:(?:public|private|protected|static)\s+)*` +
	`(?:(?:func|function|fn)\s+(?:\([^()]*\)\s*)?[A-Za-z_]\w*|(?:[A-Za-z_][\w<>\[\]*]*\s+)+[A-Za-z_]\w*)` +
	`\s*\([^()]*\)[^{;\n]*\{`)

// headingRe matches a markdown heading line (one or more '#' then a space).
var headingRe = regexp.MustCompile(`(?m)^#+ `)

// Chunker splits text into overlapping character windows, optionally using
// content-aware boundaries for code-like and markdown-like text.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// New creates a chunker. Overlap must be strictly smaller than size; the
// window would otherwise never advance.
func New(chunkSize, chunkOverlap int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunker: chunk size must be positive, got %d", chunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("chunker: overlap %d must be in [0, %d)", chunkOverlap, chunkSize)
	}
	return &Chunker{chunkSize: chunkSize, chunkOverlap: chunkOverlap}, nil
}

// Split emits sliding windows of size characters advancing by size-overlap.
// A text shorter than size yields exactly one chunk equal to the whole text.
func Split(text string, size, overlap int) []string {
	if text == "" {
		return nil
	}
	step := size - overlap
	chunks := make([]string, 0, (len(text)+step-1)/step)
	for i := 0; i < len(text); i += step {
		end := i + size
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[i:end])
		if end == len(text) {
			break
		}
	}
	return chunks
}

// Chunk splits text using a content-aware strategy: code-like text is split at
// top-level function boundaries, markdown-like text at heading lines, and
// plain text with a sliding window whose size is the average of a fixed
// baseline and the configured chunk size. Empty fragments are discarded.
func (c *Chunker) Chunk(text string) []string {
	switch {
	case looksLikeCode(text):
		return splitAtBoundaries(text, funcDeclRe)
	case looksLikeMarkdown(text):
		return splitAtBoundaries(text, headingRe)
	default:
		target := (plainBaseline + c.chunkSize) / 2
		overlap := c.chunkOverlap
		if overlap >= target {
			overlap = target / 2
		}
		return dropEmpty(Split(text, target, overlap))
	}
}

func looksLikeCode(text string) bool {
	return strings.Contains(text, "{") && strings.Contains(text, "}")
}

func looksLikeMarkdown(text string) bool {
	return headingRe.MatchString(text)
}

// splitAtBoundaries cuts text before every match of re. The fragment before
// the first boundary and the trailing fragment after the last are kept when
// non-empty; whitespace-only fragments are discarded.
func splitAtBoundaries(text string, re *regexp.Regexp) []string {
	locs := re.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return dropEmpty([]string{text})
	}
	fragments := make([]string, 0, len(locs)+1)
	prev := 0
	for _, loc := range locs {
		fragments = append(fragments, text[prev:loc[0]])
		prev = loc[0]
	}
	fragments = append(fragments, text[prev:])
	return dropEmpty(fragments)
}

func dropEmpty(fragments []string) []string {
	out := fragments[:0:0]
	for _, f := range fragments {
		if strings.TrimSpace(f) != "" {
			out = append(out, f)
		}
	}
	return out
}
