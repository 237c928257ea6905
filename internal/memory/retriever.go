package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/reverie-ai/reverie/internal/adapter"
)

// RetrieverOptions sizes the semantic retrieval stage.
type RetrieverOptions struct {
	// ActivationThreshold is the non-instruction memory count a user must
	// exceed before retrieval runs at all. Below it, everything already
	// appears in the recency tier and retrieval would be redundant.
	ActivationThreshold int
	// CandidateLimit is how many vector matches to pull before re-ranking.
	CandidateLimit int
	// TopK is how many re-ranked candidates to return.
	TopK int
}

// DefaultRetrieverOptions mirror the production tuning.
func DefaultRetrieverOptions() RetrieverOptions {
	return RetrieverOptions{
		ActivationThreshold: 100,
		CandidateLimit:      50,
		TopK:                10,
	}
}

// Retriever finds older compressed memories relevant to a query by combining
// vector similarity with stored salience.
type Retriever struct {
	store    *Store
	vectors  *VectorStore
	embedder adapter.Embedder
	opts     RetrieverOptions
}

// NewRetriever creates a Retriever. The embedder is injected so tests can
// substitute fakes.
func NewRetriever(store *Store, vectors *VectorStore, embedder adapter.Embedder, opts RetrieverOptions) *Retriever {
	if opts.ActivationThreshold <= 0 {
		opts.ActivationThreshold = 100
	}
	if opts.CandidateLimit <= 0 {
		opts.CandidateLimit = 50
	}
	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	return &Retriever{store: store, vectors: vectors, embedder: embedder, opts: opts}
}

// Retrieve embeds the query and returns up to TopK candidates ranked by
// weighted score, excluding ids already placed in earlier tiers. A nil, nil
// return means the tier is simply inactive (below threshold, or no query).
// Errors are reported so the caller can log and degrade the tier to empty.
func (r *Retriever) Retrieve(ctx context.Context, userID, query string, exclude map[string]bool) ([]RetrievalCandidate, error) {
	if query == "" || r.embedder == nil {
		return nil, nil
	}

	count, err := r.store.CountNonInstruction(userID)
	if err != nil {
		return nil, fmt.Errorf("retriever: count memories: %w", err)
	}
	if count <= r.opts.ActivationThreshold {
		return nil, nil
	}

	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("retriever: embed query: %w", err)
	}
	if len(vecs) == 0 {
		return nil, nil
	}

	matches, err := r.vectors.SearchMemories(userID, vecs[0], r.opts.CandidateLimit, exclude)
	if err != nil {
		return nil, fmt.Errorf("retriever: vector search: %w", err)
	}

	candidates := make([]RetrievalCandidate, 0, len(matches))
	for _, m := range matches {
		entry, err := r.store.GetCompressedByID(m.ID)
		if err != nil {
			// A vector row without a relational row is stale; skip it.
			continue
		}
		if entry.UserID != userID || entry.IsInstruction {
			continue
		}
		candidates = append(candidates, RetrievalCandidate{
			Entry:         entry,
			Similarity:    m.Similarity,
			WeightedScore: WeightedScore(m.Similarity, entry.Salience),
		})
	}

	rankCandidates(candidates)
	if len(candidates) > r.opts.TopK {
		candidates = candidates[:r.opts.TopK]
	}
	return candidates, nil
}

// WeightedScore combines vector similarity with stored salience so a highly
// salient but moderately similar memory can outrank a highly similar but
// low-salience one.
func WeightedScore(similarity float64, salience int) float64 {
	return similarity * (float64(salience) / 10.0)
}

// rankCandidates sorts candidates descending by weighted score. Ties break
// to the more recently created entry, then to the lexicographically larger
// id, so ranking is fully deterministic.
func rankCandidates(candidates []RetrievalCandidate) {
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.WeightedScore != b.WeightedScore {
			return a.WeightedScore > b.WeightedScore
		}
		if !a.Entry.CreatedAt.Equal(b.Entry.CreatedAt) {
			return a.Entry.CreatedAt.After(b.Entry.CreatedAt)
		}
		return a.Entry.ID > b.Entry.ID
	})
}
