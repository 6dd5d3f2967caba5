// Package mcp exposes the document pipeline to LLM clients over the Model
// Context Protocol. Tools map one-to-one onto manager operations; operational
// failures come back as IsError tool results so a bad request never kills the
// process.
package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/takumi/kioku/internal/rag"
	"github.com/takumi/kioku/pkg/utils"
)

// Server wraps the MCP SDK server around a rag.Manager.
type Server struct {
	mcpServer *mcp.Server
	manager   *rag.Manager
	logger    *zap.Logger
}

// Config holds MCP server configuration.
type Config struct {
	Name    string
	Version string
	Manager *rag.Manager
	Logger  *zap.Logger
}

// NewServer creates an MCP server with all document tools registered.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("server name is required")
	}
	if cfg.Version == "" {
		return nil, fmt.Errorf("server version is required")
	}
	if cfg.Manager == nil {
		return nil, fmt.Errorf("manager is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		mcpServer: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		manager: cfg.Manager,
		logger:  logger,
	}
	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	return s, nil
}

// Run serves MCP on the given transport. Blocking.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	return s.mcpServer.Run(ctx, transport)
}

// RunStdio serves MCP over stdin/stdout, the transport LLM clients spawn.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) registerTools() error {
	for _, register := range []func() error{
		s.registerIndexDocuments,
		s.registerQueryDocuments,
		s.registerRemoveDocument,
		s.registerRemoveAllDocuments,
		s.registerListDocumentPaths,
		s.registerSearchKeyword,
	} {
		if err := register(); err != nil {
			return err
		}
	}
	return nil
}

// textResult builds a plain-text success result.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// errorResult reports an operational failure to the client without failing
// the protocol call.
func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
		IsError: true,
	}
}

// IndexDocumentsInput is the input schema for the index_documents tool.
type IndexDocumentsInput struct {
	Path string `json:"path" jsonschema:"File or directory path to index"`
}

func (s *Server) registerIndexDocuments() error {
	inputSchema, err := jsonschema.For[IndexDocumentsInput](nil)
	if err != nil {
		return fmt.Errorf("failed to create input schema: %w", err)
	}
	tool := &mcp.Tool{
		Name:        "index_documents",
		Description: "Index a document file or every supported document under a directory so its content becomes searchable. Supported formats include .txt, .md, .json, .jsonl, .csv, .pdf, .docx and .xlsx.",
		InputSchema: inputSchema,
	}
	mcp.AddTool(s.mcpServer, tool, func(ctx context.Context, req *mcp.CallToolRequest, in IndexDocumentsInput) (*mcp.CallToolResult, any, error) {
		stats, err := s.manager.IndexDocuments(ctx, in.Path)
		if err != nil {
			s.logger.Warn("index_documents failed", zap.String("path", in.Path), zap.Error(err))
			return errorResult(err), nil, nil
		}
		return textResult(fmt.Sprintf("Indexed %d chunks from %d files", stats.Chunks, stats.Files)), nil, nil
	})
	return nil
}

// QueryDocumentsInput is the input schema for the query_documents tool.
type QueryDocumentsInput struct {
	Query string `json:"query" jsonschema:"Natural-language query to search indexed documents with"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum number of chunks to return (default 15)"`
}

func (s *Server) registerQueryDocuments() error {
	inputSchema, err := jsonschema.For[QueryDocumentsInput](nil)
	if err != nil {
		return fmt.Errorf("failed to create input schema: %w", err)
	}
	tool := &mcp.Tool{
		Name:        "query_documents",
		Description: "Search indexed documents by semantic similarity and return the most relevant chunks wrapped in [DOCUMENT:name] blocks.",
		InputSchema: inputSchema,
	}
	mcp.AddTool(s.mcpServer, tool, func(ctx context.Context, req *mcp.CallToolRequest, in QueryDocumentsInput) (*mcp.CallToolResult, any, error) {
		out, err := s.manager.QueryDocuments(ctx, in.Query, in.Limit)
		if err != nil {
			s.logger.Warn("query_documents failed", zap.String("query", utils.TruncateString(in.Query, 120)), zap.Error(err))
			return errorResult(err), nil, nil
		}
		if out == "" {
			return textResult("No matching documents found."), nil, nil
		}
		return textResult(out), nil, nil
	})
	return nil
}

// RemoveDocumentInput is the input schema for the remove_document tool.
type RemoveDocumentInput struct {
	Path string `json:"path" jsonschema:"Source path of the document to remove from the index"`
}

func (s *Server) registerRemoveDocument() error {
	inputSchema, err := jsonschema.For[RemoveDocumentInput](nil)
	if err != nil {
		return fmt.Errorf("failed to create input schema: %w", err)
	}
	tool := &mcp.Tool{
		Name:        "remove_document",
		Description: "Remove a previously indexed document and all of its chunks from the index.",
		InputSchema: inputSchema,
	}
	mcp.AddTool(s.mcpServer, tool, func(ctx context.Context, req *mcp.CallToolRequest, in RemoveDocumentInput) (*mcp.CallToolResult, any, error) {
		removed, err := s.manager.RemoveDocument(ctx, in.Path)
		if err != nil {
			s.logger.Warn("remove_document failed", zap.String("path", in.Path), zap.Error(err))
			return errorResult(err), nil, nil
		}
		if removed == 0 {
			return textResult(fmt.Sprintf("No indexed chunks found for %s", in.Path)), nil, nil
		}
		return textResult(fmt.Sprintf("Removed %d chunks for %s", removed, in.Path)), nil, nil
	})
	return nil
}

// RemoveAllDocumentsInput is the (empty) input schema for remove_all_documents.
type RemoveAllDocumentsInput struct{}

func (s *Server) registerRemoveAllDocuments() error {
	inputSchema, err := jsonschema.For[RemoveAllDocumentsInput](nil)
	if err != nil {
		return fmt.Errorf("failed to create input schema: %w", err)
	}
	tool := &mcp.Tool{
		Name:        "remove_all_documents",
		Description: "Remove every indexed document and clear the persisted index. This cannot be undone.",
		InputSchema: inputSchema,
	}
	mcp.AddTool(s.mcpServer, tool, func(ctx context.Context, req *mcp.CallToolRequest, in RemoveAllDocumentsInput) (*mcp.CallToolResult, any, error) {
		if err := s.manager.RemoveAllDocuments(ctx); err != nil {
			s.logger.Warn("remove_all_documents failed", zap.Error(err))
			return errorResult(err), nil, nil
		}
		return textResult("All documents removed."), nil, nil
	})
	return nil
}

// ListDocumentPathsInput is the (empty) input schema for list_document_paths.
type ListDocumentPathsInput struct{}

func (s *Server) registerListDocumentPaths() error {
	inputSchema, err := jsonschema.For[ListDocumentPathsInput](nil)
	if err != nil {
		return fmt.Errorf("failed to create input schema: %w", err)
	}
	tool := &mcp.Tool{
		Name:        "list_document_paths",
		Description: "List the source paths of all indexed documents.",
		InputSchema: inputSchema,
	}
	mcp.AddTool(s.mcpServer, tool, func(ctx context.Context, req *mcp.CallToolRequest, in ListDocumentPathsInput) (*mcp.CallToolResult, any, error) {
		paths, err := s.manager.ListDocumentPaths(ctx)
		if err != nil {
			s.logger.Warn("list_document_paths failed", zap.Error(err))
			return errorResult(err), nil, nil
		}
		if len(paths) == 0 {
			return textResult("No documents indexed."), nil, nil
		}
		return textResult(strings.Join(paths, "\n")), nil, nil
	})
	return nil
}

// SearchKeywordInput is the input schema for the search_keyword tool.
type SearchKeywordInput struct {
	Query string `json:"query" jsonschema:"Keywords to match against indexed document content"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum number of chunks to return (default 15)"`
}

func (s *Server) registerSearchKeyword() error {
	inputSchema, err := jsonschema.For[SearchKeywordInput](nil)
	if err != nil {
		return fmt.Errorf("failed to create input schema: %w", err)
	}
	tool := &mcp.Tool{
		Name:        "search_keyword",
		Description: "Search indexed documents by exact keyword match instead of semantic similarity.",
		InputSchema: inputSchema,
	}
	mcp.AddTool(s.mcpServer, tool, func(ctx context.Context, req *mcp.CallToolRequest, in SearchKeywordInput) (*mcp.CallToolResult, any, error) {
		docs, err := s.manager.SearchKeyword(ctx, in.Query, in.Limit)
		if err != nil {
			s.logger.Warn("search_keyword failed", zap.String("query", utils.TruncateString(in.Query, 120)), zap.Error(err))
			return errorResult(err), nil, nil
		}
		if len(docs) == 0 {
			return textResult("No matching documents found."), nil, nil
		}
		return textResult(rag.FormatResults(docs)), nil, nil
	})
	return nil
}
