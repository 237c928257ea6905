package config

import (
	"path/filepath"
	"testing"
)

func TestDefaultGlobal(t *testing.T) {
	cfg := DefaultGlobal()

	if cfg.DefaultModel != "claude" {
		t.Errorf("default model: got %q, want %q", cfg.DefaultModel, "claude")
	}
	if cfg.DefaultEmbedder != "ollama" {
		t.Errorf("default embedder: got %q, want %q", cfg.DefaultEmbedder, "ollama")
	}
	if cfg.DefaultPersona != "reverie" {
		t.Errorf("default persona: got %q, want %q", cfg.DefaultPersona, "reverie")
	}
	if cfg.UserID != "local" {
		t.Errorf("user id: got %q, want %q", cfg.UserID, "local")
	}
	if cfg.Context.BudgetFraction != 0.3 {
		t.Errorf("budget fraction: got %f, want 0.3", cfg.Context.BudgetFraction)
	}
	if cfg.Context.WorkingTurns != 5 {
		t.Errorf("working turns: got %d, want 5", cfg.Context.WorkingTurns)
	}
	if cfg.Context.RecentLimit != 100 {
		t.Errorf("recent limit: got %d, want 100", cfg.Context.RecentLimit)
	}
	if cfg.Context.RetrievalThreshold != 100 {
		t.Errorf("retrieval threshold: got %d, want 100", cfg.Context.RetrievalThreshold)
	}
	if cfg.Context.RetrievalCandidates != 50 {
		t.Errorf("retrieval candidates: got %d, want 50", cfg.Context.RetrievalCandidates)
	}
	if cfg.Context.RetrievalTopK != 10 {
		t.Errorf("retrieval top k: got %d, want 10", cfg.Context.RetrievalTopK)
	}
	if cfg.Ingest.MaxFileBytes != 10<<20 {
		t.Errorf("max file bytes: got %d, want %d", cfg.Ingest.MaxFileBytes, 10<<20)
	}
	if cfg.Ingest.RetryAttempts != 3 {
		t.Errorf("retry attempts: got %d, want 3", cfg.Ingest.RetryAttempts)
	}
	if len(cfg.Ingest.AllowedTypes) == 0 {
		t.Error("allowed types should not be empty")
	}
	if !cfg.Output.Stream {
		t.Error("stream should default to true")
	}
	if !cfg.Output.Color {
		t.Error("color should default to true")
	}
	if cfg.Ollama.Host != "http://localhost:11434" {
		t.Errorf("ollama host: got %q", cfg.Ollama.Host)
	}
	if cfg.Ollama.EmbedModel != "nomic-embed-text" {
		t.Errorf("ollama embed model: got %q", cfg.Ollama.EmbedModel)
	}
}

func TestSaveAndLoadGlobal(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg := DefaultGlobal()
	cfg.DefaultModel = "openai"
	cfg.DefaultPersona = "muse"
	cfg.Context.RetrievalThreshold = 42

	if err := SaveGlobal(cfg); err != nil {
		t.Fatalf("SaveGlobal: %v", err)
	}

	loaded, err := LoadGlobal()
	if err != nil {
		t.Fatalf("LoadGlobal: %v", err)
	}
	if loaded.DefaultModel != "openai" {
		t.Errorf("default model: got %q, want %q", loaded.DefaultModel, "openai")
	}
	if loaded.DefaultPersona != "muse" {
		t.Errorf("persona: got %q, want %q", loaded.DefaultPersona, "muse")
	}
	if loaded.Context.RetrievalThreshold != 42 {
		t.Errorf("retrieval threshold: got %d, want 42", loaded.Context.RetrievalThreshold)
	}
}

func TestLoadGlobal_NoFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := LoadGlobal()
	if err != nil {
		t.Fatalf("LoadGlobal: %v", err)
	}
	// Should fall back to defaults.
	if cfg.DefaultModel != "claude" {
		t.Errorf("expected defaults, got model %q", cfg.DefaultModel)
	}
}

func TestLoadGlobal_EnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("ANTHROPIC_API_KEY", "test-key-123")

	// Env overrides apply only when a config file exists.
	if err := SaveGlobal(DefaultGlobal()); err != nil {
		t.Fatalf("SaveGlobal: %v", err)
	}

	cfg, err := LoadGlobal()
	if err != nil {
		t.Fatalf("LoadGlobal: %v", err)
	}
	if cfg.Keys.Anthropic != "test-key-123" {
		t.Errorf("expected env override, got %q", cfg.Keys.Anthropic)
	}
}

func TestGlobalConfigPath(t *testing.T) {
	path, err := GlobalConfigPath()
	if err != nil {
		t.Fatalf("GlobalConfigPath: %v", err)
	}
	if !filepath.IsAbs(path) {
		t.Errorf("expected absolute path, got %q", path)
	}
	if filepath.Base(path) != "config.toml" {
		t.Errorf("expected config.toml, got %q", filepath.Base(path))
	}
}

func TestDBPath(t *testing.T) {
	t.Setenv("HOME", "/home/someone")

	path, err := DBPath()
	if err != nil {
		t.Fatalf("DBPath: %v", err)
	}
	want := filepath.Join("/home/someone", ".local", "share", "reverie", "reverie.db")
	if path != want {
		t.Errorf("got %q, want %q", path, want)
	}
}
