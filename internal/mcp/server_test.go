package mcp

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/takumi/kioku/internal/chunker"
	"github.com/takumi/kioku/internal/embedding"
	"github.com/takumi/kioku/internal/extract"
	"github.com/takumi/kioku/internal/keyword"
	"github.com/takumi/kioku/internal/rag"
	"github.com/takumi/kioku/internal/storage"
)

func newTestManager(t *testing.T) *rag.Manager {
	t.Helper()
	dir := t.TempDir()
	persist, err := storage.NewSQLiteStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	store := rag.NewStore(persist, embedding.NewMockEmbedder(8), 8,
		rag.WithSaveDelay(10*time.Millisecond))
	ch, err := chunker.New(500, 200)
	if err != nil {
		t.Fatal(err)
	}
	kw, err := keyword.Open(filepath.Join(dir, "keyword.bleve"))
	if err != nil {
		t.Fatal(err)
	}
	m := rag.NewManager(store, extract.NewExtractor(), ch, rag.WithKeywordIndex(kw))
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// connectServer creates a server around a fresh manager and an SDK client
// connected via in-memory transports. Returns the client session.
func connectServer(t *testing.T) *mcp.ClientSession {
	t.Helper()

	server, err := NewServer(Config{
		Name:    "test-server",
		Version: "0.0.1",
		Manager: newTestManager(t),
	})
	if err != nil {
		t.Fatalf("NewServer() unexpected error: %v", err)
	}

	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	serverSession, err := server.mcpServer.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server.Connect() unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	clientSession, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client.Connect() unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = clientSession.Close() })

	return clientSession
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%q) unexpected error: %v", name, err)
	}
	return result
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("result has no content")
	}
	text, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content[0] type = %T, want *mcp.TextContent", result.Content[0])
	}
	return text.Text
}

func TestNewServer_Validation(t *testing.T) {
	m := newTestManager(t)
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing name", Config{Version: "1.0.0", Manager: m}},
		{"missing version", Config{Name: "s", Manager: m}},
		{"missing manager", Config{Name: "s", Version: "1.0.0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewServer(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestProtocol_ListTools(t *testing.T) {
	session := connectServer(t)

	result, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools() unexpected error: %v", err)
	}
	var names []string
	for _, tool := range result.Tools {
		if tool.Description == "" {
			t.Errorf("tool %q has empty description", tool.Name)
		}
		names = append(names, tool.Name)
	}
	sort.Strings(names)

	wantNames := []string{
		"index_documents",
		"list_document_paths",
		"query_documents",
		"remove_all_documents",
		"remove_document",
		"search_keyword",
	}
	if len(names) != len(wantNames) {
		t.Fatalf("got %d tools %v, want %v", len(names), names, wantNames)
	}
	for i, got := range names {
		if got != wantNames[i] {
			t.Errorf("tool[%d] = %q, want %q", i, got, wantNames[i])
		}
	}
}

func TestProtocol_IndexAndQuery(t *testing.T) {
	session := connectServer(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("the capital of France is Paris"), 0600); err != nil {
		t.Fatal(err)
	}

	result := callTool(t, session, "index_documents", map[string]any{"path": dir})
	if result.IsError {
		t.Fatalf("index_documents error: %s", resultText(t, result))
	}
	if text := resultText(t, result); !strings.Contains(text, "Indexed 1 chunks from 1 files") {
		t.Errorf("index text = %q", text)
	}

	result = callTool(t, session, "query_documents", map[string]any{"query": "capital of France"})
	if result.IsError {
		t.Fatalf("query_documents error: %s", resultText(t, result))
	}
	text := resultText(t, result)
	if !strings.Contains(text, "[DOCUMENT:") || !strings.Contains(text, "Paris") {
		t.Errorf("query text = %q", text)
	}

	result = callTool(t, session, "list_document_paths", map[string]any{})
	if got := resultText(t, result); !strings.Contains(got, "notes.txt") {
		t.Errorf("list text = %q", got)
	}
}

func TestProtocol_QueryBeforeIndexing_IsErrorResult(t *testing.T) {
	session := connectServer(t)
	result := callTool(t, session, "query_documents", map[string]any{"query": "anything"})
	if !result.IsError {
		t.Fatal("expected IsError result when nothing is indexed")
	}
	if text := resultText(t, result); !strings.Contains(text, "no documents indexed") {
		t.Errorf("error text = %q", text)
	}
}

func TestProtocol_IndexMissingPath_IsErrorResult(t *testing.T) {
	session := connectServer(t)
	result := callTool(t, session, "index_documents", map[string]any{
		"path": filepath.Join(t.TempDir(), "absent"),
	})
	if !result.IsError {
		t.Fatal("expected IsError result for missing path")
	}
}

func TestProtocol_RemoveAndClear(t *testing.T) {
	session := connectServer(t)
	dir := t.TempDir()
	keep := filepath.Join(dir, "keep.txt")
	drop := filepath.Join(dir, "drop.txt")
	if err := os.WriteFile(keep, []byte("keep this content"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(drop, []byte("drop this content"), 0600); err != nil {
		t.Fatal(err)
	}
	callTool(t, session, "index_documents", map[string]any{"path": dir})

	result := callTool(t, session, "remove_document", map[string]any{"path": drop})
	if result.IsError {
		t.Fatalf("remove_document error: %s", resultText(t, result))
	}
	if text := resultText(t, result); !strings.Contains(text, "Removed 1 chunks") {
		t.Errorf("remove text = %q", text)
	}

	result = callTool(t, session, "remove_document", map[string]any{"path": drop})
	if text := resultText(t, result); !strings.Contains(text, "No indexed chunks") {
		t.Errorf("second remove text = %q", text)
	}

	result = callTool(t, session, "remove_all_documents", map[string]any{})
	if result.IsError {
		t.Fatalf("remove_all_documents error: %s", resultText(t, result))
	}
	result = callTool(t, session, "list_document_paths", map[string]any{})
	if text := resultText(t, result); !strings.Contains(text, "No documents indexed") {
		t.Errorf("list after clear = %q", text)
	}
}

func TestProtocol_SearchKeyword(t *testing.T) {
	session := connectServer(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "animals.txt"), []byte("the zebra grazes on the savanna"), 0600); err != nil {
		t.Fatal(err)
	}
	callTool(t, session, "index_documents", map[string]any{"path": dir})

	result := callTool(t, session, "search_keyword", map[string]any{"query": "zebra"})
	if result.IsError {
		t.Fatalf("search_keyword error: %s", resultText(t, result))
	}
	if text := resultText(t, result); !strings.Contains(text, "zebra") {
		t.Errorf("keyword text = %q", text)
	}

	result = callTool(t, session, "search_keyword", map[string]any{"query": "quasar"})
	if text := resultText(t, result); !strings.Contains(text, "No matching documents") {
		t.Errorf("no-hit text = %q", text)
	}
}
