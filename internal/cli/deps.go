package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/reverie-ai/reverie/internal/adapter"
	"github.com/reverie-ai/reverie/internal/config"
	ctxpkg "github.com/reverie-ai/reverie/internal/context"
	"github.com/reverie-ai/reverie/internal/db"
	"github.com/reverie-ai/reverie/internal/ingest"
	"github.com/reverie-ai/reverie/internal/memory"
	"github.com/reverie-ai/reverie/internal/retry"
)

// openDatabase opens (creating if needed) the user's Reverie database.
func openDatabase() (*db.DB, error) {
	path, err := config.DBPath()
	if err != nil {
		return nil, fmt.Errorf("resolve database path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	database, err := db.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return database, nil
}

// newLogger builds the CLI's structured logger. Verbose output lowers the
// level to debug; everything goes to stderr so stdout stays clean for
// model output.
func newLogger(cfg config.GlobalConfig) *slog.Logger {
	level := slog.LevelWarn
	if cfg.Output.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// apiKey returns the correct API key from the global config for the given provider.
func apiKey(cfg config.GlobalConfig, provider string) string {
	switch provider {
	case adapter.ProviderClaude:
		return cfg.Keys.Anthropic
	case adapter.ProviderOpenAI:
		return cfg.Keys.OpenAI
	default:
		return ""
	}
}

// buildLLM creates the completion adapter named by override (or the
// configured default).
func buildLLM(cfg config.GlobalConfig, override string) (adapter.LLMAdapter, error) {
	name := cfg.DefaultModel
	if override != "" {
		name = override
	}
	return adapter.New(name, cfg.Ollama.EmbedModel, apiKey(cfg, name), cfg.Ollama.Host)
}

// buildEmbedder creates the configured embedder (returns nil on failure so
// callers can degrade to recency-only behavior).
func buildEmbedder(cfg config.GlobalConfig) adapter.Embedder {
	name := cfg.DefaultEmbedder
	if name == "" {
		name = adapter.ProviderOllama
	}
	emb, err := adapter.New(name, cfg.Ollama.EmbedModel, apiKey(cfg, name), cfg.Ollama.Host)
	if err != nil {
		return nil
	}
	return emb
}

// completionModel resolves the per-provider completion model. Only Ollama
// names its model in config; the hosted providers default inside the adapter.
func completionModel(cfg config.GlobalConfig, provider string) string {
	if provider == "" {
		provider = cfg.DefaultModel
	}
	if provider == adapter.ProviderOllama {
		return cfg.Ollama.CompletionModel
	}
	return ""
}

// newAssembler wires the context assembler, with semantic retrieval when an
// embedder is available.
func newAssembler(database *db.DB, cfg config.GlobalConfig, logger *slog.Logger) (*ctxpkg.Assembler, error) {
	tokenizer, err := ctxpkg.NewTokenizer()
	if err != nil {
		return nil, fmt.Errorf("init tokenizer: %w", err)
	}

	store := memory.NewStore(database)
	var retriever ctxpkg.Retriever
	if embedder := buildEmbedder(cfg); embedder != nil {
		retriever = memory.NewRetriever(store, memory.NewVectorStore(database), embedder, memory.RetrieverOptions{
			ActivationThreshold: cfg.Context.RetrievalThreshold,
			CandidateLimit:      cfg.Context.RetrievalCandidates,
			TopK:                cfg.Context.RetrievalTopK,
		})
	}

	return ctxpkg.NewAssembler(store, retriever, ctxpkg.NewFormatter(), tokenizer, logger), nil
}

// newPipeline wires the file ingestion pipeline from config.
func newPipeline(database *db.DB, cfg config.GlobalConfig, logger *slog.Logger) (*ingest.Pipeline, error) {
	llm, err := buildLLM(cfg, "")
	if err != nil {
		return nil, fmt.Errorf("init LLM adapter: %w", err)
	}
	embedder := buildEmbedder(cfg)
	if embedder == nil {
		return nil, fmt.Errorf("no embedding provider configured; run `reverie setup`")
	}

	opts := ingest.Options{
		MaxFileBytes:    cfg.Ingest.MaxFileBytes,
		AllowedTypes:    cfg.Ingest.AllowedTypes,
		Retry:           retryPolicy(cfg),
		ProviderTimeout: providerTimeout(cfg),
	}
	store := memory.NewStore(database)
	vectors := memory.NewVectorStore(database)
	return ingest.NewPipeline(store, vectors, memory.NewCompressor(llm), embedder, logger, opts), nil
}

// providerTimeout bounds each model-provider call from config.
func providerTimeout(cfg config.GlobalConfig) time.Duration {
	secs := cfg.Context.ProviderTimeoutSecs
	if secs <= 0 {
		secs = 30
	}
	return time.Duration(secs) * time.Second
}

func retryPolicy(cfg config.GlobalConfig) retry.Policy {
	p := retry.Default
	if cfg.Ingest.RetryAttempts > 0 {
		p.MaxAttempts = cfg.Ingest.RetryAttempts
	}
	if cfg.Ingest.RetryBaseSecs > 0 {
		p.BaseDelay = time.Duration(cfg.Ingest.RetryBaseSecs) * time.Second
	}
	return p
}

// assembleOptions translates config into per-call assembly options.
func assembleOptions(cfg config.GlobalConfig, persona, model, query string) ctxpkg.AssembleOptions {
	if persona == "" {
		persona = cfg.DefaultPersona
	}
	if model == "" {
		model = cfg.DefaultModel
	}
	return ctxpkg.AssembleOptions{
		UserID:         cfg.UserID,
		Persona:        persona,
		ModelID:        model,
		Query:          query,
		BudgetFraction: cfg.Context.BudgetFraction,
		WorkingTurns:   cfg.Context.WorkingTurns,
		RecentLimit:    cfg.Context.RecentLimit,
	}
}
