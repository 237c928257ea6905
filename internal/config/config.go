// Package config manages global (~/.config/reverie/config.toml) configuration
// for Reverie.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// GlobalConfig holds user-wide settings.
type GlobalConfig struct {
	DefaultModel    string        `toml:"default_model"`
	DefaultEmbedder string        `toml:"default_embedder"`
	DefaultPersona  string        `toml:"default_persona"`
	UserID          string        `toml:"user_id"`
	Keys            KeysConfig    `toml:"keys"`
	Ollama          OllamaConfig  `toml:"ollama"`
	Context         ContextConfig `toml:"context"`
	Ingest          IngestConfig  `toml:"ingest"`
	Output          OutputConfig  `toml:"output"`
}

type KeysConfig struct {
	Anthropic string `toml:"anthropic"`
	OpenAI    string `toml:"openai"`
}

type OllamaConfig struct {
	Host            string `toml:"host"`
	EmbedModel      string `toml:"embed_model"`
	CompletionModel string `toml:"completion_model"`
}

// ContextConfig controls how much of the model window the assembler may use
// and how each memory tier is sized.
type ContextConfig struct {
	BudgetFraction      float64 `toml:"budget_fraction"`
	WorkingTurns        int     `toml:"working_turns"`
	RecentLimit         int     `toml:"recent_limit"`
	RetrievalThreshold  int     `toml:"retrieval_threshold"`
	RetrievalCandidates int     `toml:"retrieval_candidates"`
	RetrievalTopK       int     `toml:"retrieval_top_k"`
	ProviderTimeoutSecs int     `toml:"provider_timeout_secs"`
}

// IngestConfig controls file upload validation and terminal-write retry.
type IngestConfig struct {
	MaxFileBytes  int64    `toml:"max_file_bytes"`
	AllowedTypes  []string `toml:"allowed_types"`
	RetryAttempts int      `toml:"retry_attempts"`
	RetryBaseSecs int      `toml:"retry_base_secs"`
}

type OutputConfig struct {
	Stream  bool `toml:"stream"`
	Color   bool `toml:"color"`
	Verbose bool `toml:"verbose"`
}

// DefaultGlobal returns sensible defaults.
func DefaultGlobal() GlobalConfig {
	return GlobalConfig{
		DefaultModel:    "claude",
		DefaultEmbedder: "ollama",
		DefaultPersona:  "reverie",
		UserID:          "local",
		Ollama: OllamaConfig{
			Host:            "http://localhost:11434",
			EmbedModel:      "nomic-embed-text",
			CompletionModel: "llama3.2",
		},
		Context: ContextConfig{
			BudgetFraction:      0.3,
			WorkingTurns:        5,
			RecentLimit:         100,
			RetrievalThreshold:  100,
			RetrievalCandidates: 50,
			RetrievalTopK:       10,
			ProviderTimeoutSecs: 30,
		},
		Ingest: IngestConfig{
			MaxFileBytes:  10 << 20,
			AllowedTypes:  []string{".txt", ".md", ".markdown", ".csv", ".json", ".log", ".yaml", ".yml"},
			RetryAttempts: 3,
			RetryBaseSecs: 1,
		},
		Output: OutputConfig{
			Stream: true,
			Color:  true,
		},
	}
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "reverie", "config.toml"), nil
}

// DataDir returns the directory holding the Reverie database.
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "reverie"), nil
}

// DBPath returns the path to the Reverie SQLite database.
func DBPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "reverie.db"), nil
}

// LoadGlobal loads the global config, applying defaults for any missing values.
func LoadGlobal() (GlobalConfig, error) {
	cfg := DefaultGlobal()

	path, err := GlobalConfigPath()
	if err != nil {
		return cfg, nil // Return defaults if we can't determine home dir.
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil // No config file yet, use defaults.
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("config: load global: %w", err)
	}

	// Let env vars override config file API keys.
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Keys.Anthropic = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Keys.OpenAI = v
	}

	return cfg, nil
}

// SaveGlobal writes the global config to disk.
func SaveGlobal(cfg GlobalConfig) error {
	path, err := GlobalConfigPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create global config: %w", err)
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
