package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	ctxpkg "github.com/reverie-ai/reverie/internal/context"
	"github.com/reverie-ai/reverie/internal/ingest"
	"github.com/reverie-ai/reverie/internal/memory"
	"github.com/reverie-ai/reverie/internal/retry"
)

func (s *Server) handleGetContext(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question := req.GetString("question", "")
	persona := req.GetString("persona", s.cfg.DefaultPersona)
	model := req.GetString("model", s.cfg.DefaultModel)

	tokenizer, err := ctxpkg.NewTokenizer()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("init tokenizer: %v", err)), nil
	}

	var retriever ctxpkg.Retriever
	if embedder := buildEmbedder(s.cfg); embedder != nil {
		retriever = memory.NewRetriever(s.store, s.vectors, embedder, memory.RetrieverOptions{
			ActivationThreshold: s.cfg.Context.RetrievalThreshold,
			CandidateLimit:      s.cfg.Context.RetrievalCandidates,
			TopK:                s.cfg.Context.RetrievalTopK,
		})
	}

	assembler := ctxpkg.NewAssembler(s.store, retriever, ctxpkg.NewFormatter(), tokenizer, s.logger)
	built, err := assembler.Assemble(ctx, ctxpkg.AssembleOptions{
		UserID:         s.cfg.UserID,
		Persona:        persona,
		ModelID:        model,
		Query:          question,
		BudgetFraction: s.cfg.Context.BudgetFraction,
		WorkingTurns:   s.cfg.Context.WorkingTurns,
		RecentLimit:    s.cfg.Context.RecentLimit,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("assemble context: %v", err)), nil
	}

	if built.Text == "" {
		return mcp.NewToolResultText("No memory yet for this persona."), nil
	}
	return mcp.NewToolResultText(built.Text), nil
}

func (s *Server) handleSearchMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: query"), nil
	}
	topK := req.GetInt("top_k", 10)

	embedder := buildEmbedder(s.cfg)
	if embedder == nil {
		return mcp.NewToolResultError("no embedding provider configured; run `reverie setup`"), nil
	}

	vecs, err := embedder.Embed(ctx, []string{query})
	if err != nil || len(vecs) == 0 {
		return mcp.NewToolResultError(fmt.Sprintf("embed query: %v", err)), nil
	}

	memMatches, _ := s.vectors.SearchMemories(s.cfg.UserID, vecs[0], topK, nil)
	fileMatches, _ := s.vectors.SearchFiles(s.cfg.UserID, vecs[0], topK, nil)

	var sb strings.Builder
	if len(memMatches) > 0 {
		sb.WriteString("## Matching Memories\n\n")
		for _, m := range memMatches {
			c, err := s.store.GetCompressedByID(m.ID)
			if err != nil {
				continue
			}
			fmt.Fprintf(&sb, "- %s (salience %d, similarity %.2f)\n", c.ArcSummary, c.Salience, m.Similarity)
		}
		sb.WriteString("\n")
	}
	if len(fileMatches) > 0 {
		sb.WriteString("## Matching Documents\n\n")
		for _, m := range fileMatches {
			rec, err := s.store.GetFileByID(m.ID)
			if err != nil {
				continue
			}
			fmt.Fprintf(&sb, "### %s (similarity %.2f)\n%s\n\n", rec.Filename, m.Similarity, rec.Description)
		}
	}

	if sb.Len() == 0 {
		return mcp.NewToolResultText("No results found."), nil
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (s *Server) handleUploadFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: path"), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("read file: %v", err)), nil
	}

	llm := buildLLM(s.cfg)
	embedder := buildEmbedder(s.cfg)
	if llm == nil || embedder == nil {
		return mcp.NewToolResultError("no provider configured; run `reverie setup`"), nil
	}

	opts := ingest.Options{
		MaxFileBytes:    s.cfg.Ingest.MaxFileBytes,
		AllowedTypes:    s.cfg.Ingest.AllowedTypes,
		Retry:           retry.Default,
		ProviderTimeout: time.Duration(s.cfg.Context.ProviderTimeoutSecs) * time.Second,
	}
	pipeline := ingest.NewPipeline(s.store, s.vectors, memory.NewCompressor(llm), embedder, s.logger, opts)

	rec, err := pipeline.Process(ctx, data, filepath.Base(path), s.cfg.UserID, nil)
	var dup *ingest.DuplicateError
	if errors.As(err, &dup) {
		return mcp.NewToolResultText(fmt.Sprintf("Already ingested (id: %s).", dup.ExistingID)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("ingest failed: %v", err)), nil
	}
	if rec.Status == memory.StatusFailed {
		return mcp.NewToolResultError(fmt.Sprintf("ingest failed at %s: %s", rec.ProcessingStage, rec.ErrorMessage)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Ingested %s (id: %s).", rec.Filename, rec.ID)), nil
}

func (s *Server) handleFileStatus(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")

	if id != "" {
		rec, err := s.store.GetFileByID(id)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("file not found: %v", err)), nil
		}
		return mcp.NewToolResultText(formatFileRecord(rec)), nil
	}

	files, err := s.store.ListFiles(s.cfg.UserID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list files: %v", err)), nil
	}
	if len(files) == 0 {
		return mcp.NewToolResultText("No files uploaded."), nil
	}

	var sb strings.Builder
	for _, rec := range files {
		sb.WriteString(formatFileRecord(rec))
		sb.WriteString("\n")
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func formatFileRecord(rec memory.FileRecord) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%s] %d%%\n  id: %s | uploaded: %s\n",
		rec.Filename, rec.Status, rec.Progress, rec.ID, rec.UploadedAt.Format("2006-01-02 15:04"))
	if rec.Status == memory.StatusFailed {
		fmt.Fprintf(&sb, "  failed at %s: %s\n", rec.ProcessingStage, rec.ErrorMessage)
	}
	if rec.Description != "" {
		fmt.Fprintf(&sb, "  %s\n", rec.Description)
	}
	return sb.String()
}
