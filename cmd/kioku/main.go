// Package main is the Kioku CLI entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/takumi/kioku/internal/chunker"
	"github.com/takumi/kioku/internal/config"
	"github.com/takumi/kioku/internal/embedding"
	"github.com/takumi/kioku/internal/extract"
	"github.com/takumi/kioku/internal/keyword"
	"github.com/takumi/kioku/internal/mcp"
	"github.com/takumi/kioku/internal/rag"
	"github.com/takumi/kioku/internal/server"
	"github.com/takumi/kioku/internal/storage"
	"github.com/takumi/kioku/internal/watcher"
	"github.com/takumi/kioku/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kioku/config.yaml"

// loadConfig loads config from path. When path is the default, a config.yaml
// in the current directory takes precedence so running from the project dir
// picks up the project's config.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "serve":
		runServe()
	case "serve-http":
		runServeHTTP()
	case "index":
		runIndex()
	case "query":
		runQuery()
	case "remove":
		runRemove()
	case "clear":
		runClear()
	case "list":
		runList()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("kioku version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// components holds the initialized pipeline.
type components struct {
	Embedder embedding.Embedder
	Manager  *rag.Manager
}

func (c *components) Close() {
	if c.Manager != nil {
		_ = c.Manager.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*components, error) {
	persist, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath(), storage.WithSQLiteLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	embedder := embedding.NewClient(embedding.ClientConfig{
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		APIKey:     cfg.Embedding.APIKey,
		Dimensions: cfg.Embedding.Dimensions,
		Timeout:    time.Duration(cfg.Embedding.TimeoutSeconds) * time.Second,
	}, embedding.WithLogger(logger))

	store := rag.NewStore(persist, embedder, cfg.Embedding.Dimensions,
		rag.WithStoreLogger(logger))

	ch, err := chunker.New(cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap)
	if err != nil {
		_ = embedder.Close()
		_ = persist.Close()
		return nil, err
	}

	kw, err := keyword.Open(cfg.Storage.KeywordIndexPath())
	if err != nil {
		_ = embedder.Close()
		_ = persist.Close()
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}

	manager := rag.NewManager(store, extract.NewExtractor(), ch,
		rag.WithKeywordIndex(kw),
		rag.WithManagerLogger(logger),
		rag.WithLimits(cfg.Search.DefaultLimit, cfg.Search.MaxLimit))
	return &components{Embedder: embedder, Manager: manager}, nil
}

// setup loads config, builds the logger, and initializes the pipeline. Shared
// by every subcommand that runs the manager in-process.
func setup(configPath string, debugFlag bool) (*config.Config, *zap.Logger, *components) {
	cfg, resolvedPath, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debugFlag
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("config loaded", zap.String("config_path", resolvedPath))
	comps, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	return cfg, logger, comps
}

// startWatcher wires the configured watch directories to the manager. Returns
// a cancel function, or nil when no directories are configured.
func startWatcher(ctx context.Context, cfg *config.Config, comps *components, logger *zap.Logger) func() {
	if len(cfg.Watch.Directories) == 0 {
		return nil
	}
	w := watcher.New(
		cfg.Watch.Directories,
		cfg.Watch.Extensions,
		cfg.Watch.RecursiveOrDefault(),
		comps.Manager,
		watcher.WithLogger(logger),
	)
	watchCtx, cancel := context.WithCancel(ctx)
	if err := w.Start(watchCtx); err != nil {
		logger.Warn("failed to start watcher", zap.Error(err))
		cancel()
		return nil
	}
	go w.SyncExisting(watchCtx)
	return func() {
		cancel()
		w.Stop()
	}
}

// runServe starts the MCP stdio server, the mode LLM clients spawn.
func runServe() {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, comps := setup(*configPath, *debug)
	defer logger.Sync()
	defer comps.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if stopWatch := startWatcher(ctx, cfg, comps, logger); stopWatch != nil {
		defer stopWatch()
	}

	srv, err := mcp.NewServer(mcp.Config{
		Name:    "kioku",
		Version: version,
		Manager: comps.Manager,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal("Failed to create MCP server", zap.Error(err))
	}
	logger.Info("MCP server listening on stdio")
	if err := srv.RunStdio(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal("MCP server failed", zap.Error(err))
	}
}

func runServeHTTP() {
	fs := flag.NewFlagSet("serve-http", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, comps := setup(*configPath, *debug)
	defer logger.Sync()
	defer comps.Close()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if stopWatch := startWatcher(watchCtx, cfg, comps, logger); stopWatch != nil {
		defer stopWatch()
	}

	srv := server.NewServer(comps.Manager, cfg, logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runIndex() {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kioku index [flags] <file-or-directory>")
		os.Exit(1)
	}
	_, logger, comps := setup(*configPath, false)
	defer logger.Sync()
	defer comps.Close()

	stats, err := comps.Manager.IndexDocuments(context.Background(), fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Indexing failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Indexed %d chunk(s) from %d file(s)\n", stats.Chunks, stats.Files)
}

func runQuery() {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	limit := fs.Int("limit", 0, "maximum number of chunks to return (0 = config default)")
	keywordMode := fs.Bool("keyword", false, "keyword match instead of semantic similarity")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kioku query [flags] <query>")
		os.Exit(1)
	}
	queryStr := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if queryStr == "" {
		fmt.Println("Usage: kioku query [flags] <query>")
		os.Exit(1)
	}

	_, logger, comps := setup(*configPath, false)
	defer logger.Sync()
	defer comps.Close()

	ctx := context.Background()
	if *keywordMode {
		docs, err := comps.Manager.SearchKeyword(ctx, queryStr, *limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
		if len(docs) == 0 {
			fmt.Println("No matching documents found.")
			return
		}
		fmt.Println(rag.FormatResults(docs))
		return
	}
	out, err := comps.Manager.QueryDocuments(ctx, queryStr, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
		os.Exit(1)
	}
	if out == "" {
		fmt.Println("No matching documents found.")
		return
	}
	fmt.Println(out)
}

func runRemove() {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kioku remove [flags] <path>")
		os.Exit(1)
	}
	_, logger, comps := setup(*configPath, false)
	defer logger.Sync()
	defer comps.Close()

	removed, err := comps.Manager.RemoveDocument(context.Background(), fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Removal failed: %v\n", err)
		os.Exit(1)
	}
	if removed == 0 {
		fmt.Printf("No indexed chunks found for %s\n", fs.Arg(0))
		return
	}
	fmt.Printf("Removed %d chunk(s)\n", removed)
}

func runClear() {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	yes := fs.Bool("yes", false, "skip confirmation prompt")
	_ = fs.Parse(os.Args[2:])

	if !*yes {
		fmt.Print("Remove ALL indexed documents? This cannot be undone. [y/N] ")
		var answer string
		_, _ = fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			fmt.Println("Aborted.")
			return
		}
	}
	_, logger, comps := setup(*configPath, false)
	defer logger.Sync()
	defer comps.Close()

	if err := comps.Manager.RemoveAllDocuments(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Clear failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("All documents removed.")
}

func runList() {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	_, logger, comps := setup(*configPath, false)
	defer logger.Sync()
	defer comps.Close()

	paths, err := comps.Manager.ListDocumentPaths(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
		os.Exit(1)
	}
	if len(paths) == 0 {
		fmt.Println("No documents indexed.")
		return
	}
	for _, p := range paths {
		fmt.Println(p)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, comps := setup(*configPath, false)
	defer logger.Sync()
	defer comps.Close()

	paths, err := comps.Manager.ListDocumentPaths(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("documents:       %d\n", len(paths))
	fmt.Printf("chunks:          %d\n", comps.Manager.Count())
	fmt.Println()
	fmt.Println("# configuration")
	fmt.Printf("embedding_model: %s\n", cfg.Embedding.Model)
	fmt.Printf("dimensions:      %d\n", cfg.Embedding.Dimensions)
	fmt.Printf("chunk_size:      %d\n", cfg.Chunking.ChunkSize)
	fmt.Printf("chunk_overlap:   %d\n", cfg.Chunking.ChunkOverlap)
	fmt.Printf("database_path:   %s\n", cfg.Storage.DatabasePath())
	fmt.Printf("keyword_index:   %s\n", cfg.Storage.KeywordIndexPath())
}

func printUsage() {
	fmt.Println(`kioku - document retrieval for LLM clients

Usage:
  kioku serve [flags]             Start the MCP server on stdio
  kioku serve-http [flags]        Start the HTTP API server
  kioku index [flags] <path>      Index a file or directory
  kioku query [flags] <query>     Search indexed documents
  kioku remove [flags] <path>     Remove a document's chunks
  kioku clear [flags]             Remove all indexed documents
  kioku list [flags]              List indexed document paths
  kioku status [flags]            Show index and configuration status
  kioku version                   Show version
  kioku help                      Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/kioku/config.yaml;
                     a config.yaml in the current directory takes precedence)

Serve Flags:
  --debug            Enable debug logging

Query Flags:
  --limit int        Maximum number of chunks to return (default from config)
  --keyword          Keyword match instead of semantic similarity

Clear Flags:
  --yes              Skip the confirmation prompt

Examples:
  kioku serve
  kioku index ./docs
  kioku query "how do I configure the embedding model"
  kioku query --keyword zebra
  kioku remove ./docs/old.md
  kioku status`)
}
