package memory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/reverie-ai/reverie/internal/adapter"
)

// Recorder owns the write path for conversation memory: it persists finished
// turns and distils them into compressed entries that feed the recency and
// retrieval tiers.
type Recorder struct {
	store      *Store
	vectors    *VectorStore
	compressor *Compressor
	embedder   adapter.Embedder
	logger     *slog.Logger
}

// NewRecorder creates a Recorder. All providers are injected; embedder may be
// nil, in which case new memories simply stay out of the semantic index.
func NewRecorder(store *Store, vectors *VectorStore, compressor *Compressor, embedder adapter.Embedder, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:      store,
		vectors:    vectors,
		compressor: compressor,
		embedder:   embedder,
		logger:     logger,
	}
}

// RecordTurn persists a finished turn the moment it completes.
func (r *Recorder) RecordTurn(userID, persona, userText, responseText string) (Entry, error) {
	e := Entry{
		UserID:       userID,
		PersonaName:  persona,
		UserText:     userText,
		ResponseText: responseText,
	}
	id, err := r.store.InsertTurn(e)
	if err != nil {
		return Entry{}, fmt.Errorf("recorder: %w", err)
	}
	e.ID = id
	return e, nil
}

// CompressTurn runs the two-pass compression over a recorded turn and stores
// the result. The embedding is written best-effort: a failed embed leaves the
// compressed entry retrievable through the recency tier only.
func (r *Recorder) CompressTurn(ctx context.Context, e Entry) (Compressed, error) {
	digest, err := r.compressor.CompressTurn(ctx, e.PersonaName, e.UserText, e.ResponseText)
	if err != nil {
		return Compressed{}, fmt.Errorf("recorder: compress turn %s: %w", e.ID, err)
	}

	c := Compressed{
		SourceEntryID:    e.ID,
		UserID:           e.UserID,
		PersonaName:      e.PersonaName,
		UserEssence:      digest.UserEssence,
		ResponseEssence:  digest.ResponseEssence,
		ArcSummary:       digest.ArcSummary,
		Salience:         digest.Salience,
		IsInstruction:    digest.IsInstruction,
		InstructionScope: digest.InstructionScope,
	}
	id, err := r.store.InsertCompressed(c)
	if err != nil {
		return Compressed{}, fmt.Errorf("recorder: %w", err)
	}
	c.ID = id

	// Instructions surface only through the instructions tier and never
	// through retrieval, so they carry no vector row.
	if !c.IsInstruction {
		r.embed(ctx, id, c.ArcSummary)
	}
	return c, nil
}

// AddInstruction stores a user-issued standing directive. No LLM round trip:
// the directive text is the essence, and the arc summary is synthesised
// deterministically inside the required length bounds.
func (r *Recorder) AddInstruction(userID, persona, text, scope string) (Compressed, error) {
	if scope == "" {
		scope = ScopeGlobal
	}
	c := Compressed{
		UserID:           userID,
		PersonaName:      persona,
		UserEssence:      text,
		ResponseEssence:  "Standing instruction acknowledged.",
		ArcSummary:       instructionArc(text, scope),
		Salience:         8,
		IsInstruction:    true,
		InstructionScope: scope,
	}
	id, err := r.store.InsertCompressed(c)
	if err != nil {
		return Compressed{}, fmt.Errorf("recorder: %w", err)
	}
	c.ID = id
	return c, nil
}

// instructionArc builds an arc summary for a directive that always lands
// inside the 50-150 character bounds.
func instructionArc(text, scope string) string {
	arc := fmt.Sprintf("Standing instruction (%s): %s; applies to future conversations.", scope, text)
	if len(arc) > ArcSummaryMax {
		arc = arc[:ArcSummaryMax-3] + "..."
	}
	return arc
}

// embed generates and stores an embedding for a compressed memory.
// Best-effort: failures are logged, never propagated.
func (r *Recorder) embed(ctx context.Context, id, text string) {
	if r.embedder == nil {
		return
	}
	vecs, err := r.embedder.Embed(ctx, []string{text})
	if err != nil || len(vecs) == 0 {
		r.logger.Warn("recorder: embed memory failed", "id", id, "err", err)
		return
	}
	if err := r.vectors.UpsertMemoryEmbedding(id, vecs[0]); err != nil {
		r.logger.Warn("recorder: store embedding failed", "id", id, "err", err)
	}
}
