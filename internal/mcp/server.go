// Package mcp exposes Reverie's memory over the Model Context Protocol so
// external assistants can read and extend the same long-term memory the CLI
// uses.
package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/reverie-ai/reverie/internal/adapter"
	"github.com/reverie-ai/reverie/internal/config"
	"github.com/reverie-ai/reverie/internal/db"
	"github.com/reverie-ai/reverie/internal/memory"
)

// Server wires the memory store into an MCP stdio server.
type Server struct {
	store   *memory.Store
	vectors *memory.VectorStore
	cfg     config.GlobalConfig
	logger  *slog.Logger
	mcp     *server.MCPServer
}

// NewServer builds the MCP server and registers all tools.
func NewServer(database *db.DB, cfg config.GlobalConfig, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:   memory.NewStore(database),
		vectors: memory.NewVectorStore(database),
		cfg:     cfg,
		logger:  logger,
	}

	s.mcp = server.NewMCPServer(
		"reverie",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	s.mcp.AddTool(mcp.NewTool("get_context",
		mcp.WithDescription("Assemble Reverie's memory context for a question: recent conversation, starred moments, standing instructions, compressed history, semantically relevant memories, and uploaded documents."),
		mcp.WithString("question", mcp.Description("The question or task; enables semantic retrieval when provided")),
		mcp.WithString("persona", mcp.Description("Persona to assemble for (defaults to the configured persona)")),
		mcp.WithString("model", mcp.Description("Model identifier used to size the token budget")),
	), s.handleGetContext)

	s.mcp.AddTool(mcp.NewTool("search_memory",
		mcp.WithDescription("Semantic search over compressed memories and uploaded document descriptions."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Natural-language search query")),
		mcp.WithNumber("top_k", mcp.Description("Maximum results per category (default 10)")),
	), s.handleSearchMemory)

	s.mcp.AddTool(mcp.NewTool("upload_file",
		mcp.WithDescription("Ingest a document into Reverie's memory. The file is compressed, embedded, and becomes part of assembled contexts once ready."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path to the file on disk")),
	), s.handleUploadFile)

	s.mcp.AddTool(mcp.NewTool("file_status",
		mcp.WithDescription("Report ingestion status for one uploaded file, or list all files when no id is given."),
		mcp.WithString("id", mcp.Description("File record id")),
	), s.handleFileStatus)

	return s
}

// Serve runs the server over stdio until the client disconnects.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcp)
}

// buildEmbedder creates an embedder from config (returns nil on failure).
func buildEmbedder(cfg config.GlobalConfig) adapter.Embedder {
	name := cfg.DefaultEmbedder
	if name == "" {
		name = adapter.ProviderOllama
	}
	var apiKey string
	if name == adapter.ProviderOpenAI {
		apiKey = cfg.Keys.OpenAI
	}
	emb, err := adapter.New(name, cfg.Ollama.EmbedModel, apiKey, cfg.Ollama.Host)
	if err != nil {
		return nil
	}
	return emb
}

// buildLLM creates the completion adapter from config (returns nil on failure).
func buildLLM(cfg config.GlobalConfig) adapter.LLMAdapter {
	name := cfg.DefaultModel
	if name == "" {
		name = adapter.ProviderClaude
	}
	var apiKey string
	switch name {
	case adapter.ProviderClaude:
		apiKey = cfg.Keys.Anthropic
	case adapter.ProviderOpenAI:
		apiKey = cfg.Keys.OpenAI
	}
	llm, err := adapter.New(name, cfg.Ollama.EmbedModel, apiKey, cfg.Ollama.Host)
	if err != nil {
		return nil
	}
	return llm
}
