package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Embedding.Dimensions != 768 {
		t.Errorf("Dimensions=%d", cfg.Embedding.Dimensions)
	}
	if cfg.Chunking.ChunkSize != 500 || cfg.Chunking.ChunkOverlap != 200 {
		t.Errorf("chunking defaults: %d/%d", cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap)
	}
	if cfg.Search.DefaultLimit != 15 {
		t.Errorf("DefaultLimit=%d", cfg.Search.DefaultLimit)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
debug: true
storage:
  data_dir: ./data
embedding:
  base_url: http://localhost:11434/api
  model: nomic-embed-text
  dimensions: 768
chunking:
  chunk_size: 400
  chunk_overlap: 100
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("expected debug true")
	}
	if cfg.Chunking.ChunkSize != 400 {
		t.Errorf("ChunkSize=%d", cfg.Chunking.ChunkSize)
	}
	if cfg.Storage.DataDir != filepath.Join(dir, "data") {
		t.Errorf("DataDir=%q", cfg.Storage.DataDir)
	}
	if got := cfg.Storage.DatabasePath(); filepath.Base(got) != "kioku.db" {
		t.Errorf("DatabasePath=%q", got)
	}
}

func TestValidate_OverlapTooLarge(t *testing.T) {
	cfg := Default()
	cfg.Chunking.ChunkSize = 100
	cfg.Chunking.ChunkOverlap = 100
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for overlap >= size")
	}
	if !strings.Contains(err.Error(), "chunk_overlap") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidate_MissingModel(t *testing.T) {
	cfg := Default()
	cfg.Embedding.Model = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing model")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
