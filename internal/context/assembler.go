package context

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/reverie-ai/reverie/internal/adapter"
	"github.com/reverie-ai/reverie/internal/memory"
)

// Retriever is the semantic-retrieval collaborator the assembler consults
// for the long-term memory tier.
type Retriever interface {
	Retrieve(ctx context.Context, userID, query string, exclude map[string]bool) ([]memory.RetrievalCandidate, error)
}

// AssembleOptions controls one context assembly.
type AssembleOptions struct {
	UserID  string
	Persona string
	// ModelID resolves the context window the budget is derived from.
	ModelID string
	// Query enables the semantic retrieval tier when non-empty.
	Query string

	BudgetFraction float64
	WorkingTurns   int
	RecentLimit    int
}

// TierStats reports the token cost of each tier against the budget, for
// operator visibility into degraded assemblies.
type TierStats struct {
	Budget            int
	WorkingTokens     int
	StarredTokens     int
	InstructionTokens int
	RecentTokens      int
	RetrievedTokens   int
	FileTokens        int
	TotalTokens       int

	RecentIncluded    int
	RetrievedIncluded int
	FilesIncluded     int

	// DegradedTiers names tiers whose underlying read failed and were
	// replaced by empty sections.
	DegradedTiers []string
}

// AssembledContext is the result of one assembly call.
type AssembledContext struct {
	Text  string
	Stats TierStats
}

// Assembler builds one bounded context payload per model call by packing
// memory tiers in priority order. It owns no state: every call is a pure
// read/aggregate/serialize pass over the store.
type Assembler struct {
	store     *memory.Store
	retriever Retriever
	formatter *Formatter
	counter   TokenCounter
	logger    *slog.Logger
}

// NewAssembler creates an Assembler. retriever may be nil to disable the
// semantic tier entirely.
func NewAssembler(store *memory.Store, retriever Retriever, formatter *Formatter, counter TokenCounter, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		store:     store,
		retriever: retriever,
		formatter: formatter,
		counter:   counter,
		logger:    logger,
	}
}

// Assemble builds the context payload for one model call. A failing tier
// read degrades that tier to empty and never aborts the whole build.
func (a *Assembler) Assemble(ctx context.Context, opts AssembleOptions) (*AssembledContext, error) {
	if opts.WorkingTurns <= 0 {
		opts.WorkingTurns = 5
	}
	if opts.RecentLimit <= 0 {
		opts.RecentLimit = 100
	}

	budget := BudgetFor(adapter.ContextWindow(opts.ModelID), opts.BudgetFraction)
	stats := TierStats{Budget: budget}

	// Tiers 1-4 read from independent tables; fetch them concurrently.
	var (
		wg           sync.WaitGroup
		turns        []memory.Entry
		starred      []memory.Entry
		instructions []memory.Compressed
		recent       []memory.Compressed
		readErrs     [4]error
	)
	scopes := []string{memory.ScopeGlobal, opts.Persona}

	wg.Add(4)
	go func() {
		defer wg.Done()
		turns, readErrs[0] = a.store.LastTurns(opts.UserID, opts.Persona, opts.WorkingTurns)
	}()
	go func() {
		defer wg.Done()
		starred, readErrs[1] = a.store.StarredTurns(opts.UserID, opts.Persona)
	}()
	go func() {
		defer wg.Done()
		instructions, readErrs[2] = a.store.Instructions(opts.UserID, scopes)
	}()
	go func() {
		defer wg.Done()
		recent, readErrs[3] = a.store.RecentCompressed(opts.UserID, opts.Persona, opts.RecentLimit)
	}()
	wg.Wait()

	for i, tier := range []string{"working", "starred", "instructions", "recent"} {
		if readErrs[i] != nil {
			a.degrade(&stats, tier, readErrs[i])
		}
	}

	// The store returns newest-first; both tiers present oldest-first.
	slices.Reverse(turns)
	slices.Reverse(recent)

	tracker := memory.NewExclusionTracker()
	remaining := budget
	var sections []string

	// Tier 1: working memory. Highest priority. If even this tier exceeds
	// the whole budget, drop oldest turns until the rest fits so the total
	// never exceeds the ceiling.
	workingText := a.formatter.FormatWorkingMemory(turns)
	workingTokens := a.counter.Count(workingText)
	for workingTokens > remaining && len(turns) > 0 {
		turns = turns[1:]
		workingText = a.formatter.FormatWorkingMemory(turns)
		workingTokens = a.counter.Count(workingText)
	}
	if workingText != "" {
		sections = append(sections, workingText)
		remaining -= workingTokens
		stats.WorkingTokens = workingTokens
		for _, e := range turns {
			tracker.Add(e.ID)
		}
	}

	// Tier 2: starred turns. Wholesale or dropped; no partial starred tier.
	starredText := a.formatter.FormatStarred(starred)
	if tokens := a.counter.Count(starredText); starredText != "" && tokens <= remaining {
		sections = append(sections, starredText)
		remaining -= tokens
		stats.StarredTokens = tokens
		for _, e := range starred {
			tracker.Add(e.ID)
		}
	}

	// Tier 3: standing instructions, visible only when scoped to global or
	// the current persona. Wholesale or dropped.
	visible := instructions[:0:0]
	for _, ins := range instructions {
		if memory.InstructionVisible(ins, opts.Persona) {
			visible = append(visible, ins)
		}
	}
	instructionText := a.formatter.FormatInstructions(visible)
	if tokens := a.counter.Count(instructionText); instructionText != "" && tokens <= remaining {
		sections = append(sections, instructionText)
		remaining -= tokens
		stats.InstructionTokens = tokens
		for _, ins := range visible {
			tracker.Add(ins.ID)
		}
	}

	// Tier 4: recent compressed memory, oldest-first, maximal prefix.
	recentIncluded, recentText, recentTokens := a.maximalPrefix(len(recent), remaining, func(k int) string {
		return a.formatter.FormatRecent(recent[:k])
	})
	if recentIncluded > 0 {
		sections = append(sections, recentText)
		remaining -= recentTokens
		stats.RecentTokens = recentTokens
		stats.RecentIncluded = recentIncluded
		for _, c := range recent[:recentIncluded] {
			tracker.Add(c.ID)
		}
	}

	// Tier 5: semantic retrieval, strictly after the exclusion set from
	// tiers 1-4 is final. Candidates are packed in rank order.
	if a.retriever != nil && opts.Query != "" {
		candidates, err := a.retriever.Retrieve(ctx, opts.UserID, opts.Query, tracker.Set())
		if err != nil {
			a.degrade(&stats, "retrieval", err)
		}
		included, text, tokens := a.maximalPrefix(len(candidates), remaining, func(k int) string {
			return a.formatter.FormatRetrieved(candidates[:k])
		})
		if included > 0 {
			sections = append(sections, text)
			remaining -= tokens
			stats.RetrievedTokens = tokens
			stats.RetrievedIncluded = included
			for _, cand := range candidates[:included] {
				tracker.Add(cand.Entry.ID)
			}
		}
	}

	// Tier 6: ready file descriptions, newest-first, maximal prefix.
	files, err := a.store.ReadyFiles(opts.UserID)
	if err != nil {
		a.degrade(&stats, "files", err)
	}
	filesIncluded, fileText, fileTokens := a.maximalPrefix(len(files), remaining, func(k int) string {
		return a.formatter.FormatFiles(files[:k])
	})
	if filesIncluded > 0 {
		sections = append(sections, fileText)
		remaining -= fileTokens
		stats.FileTokens = fileTokens
		stats.FilesIncluded = filesIncluded
	}

	stats.TotalTokens = budget - remaining
	if len(stats.DegradedTiers) > 0 {
		a.logger.Warn("context assembled with degraded tiers",
			"user", opts.UserID, "tiers", stats.DegradedTiers)
	}

	// Sections each end in a newline; plain concatenation keeps the token
	// total exactly the sum of the tier estimates.
	return &AssembledContext{
		Text:  strings.Join(sections, ""),
		Stats: stats,
	}, nil
}

// maximalPrefix finds the largest k ≤ n whose rendered prefix fits in
// remaining, extending one entry at a time. Returns the winning k with its
// rendered text and token cost.
func (a *Assembler) maximalPrefix(n, remaining int, render func(k int) string) (int, string, int) {
	best, bestText, bestTokens := 0, "", 0
	for k := 1; k <= n; k++ {
		text := render(k)
		tokens := a.counter.Count(text)
		if tokens > remaining {
			break
		}
		best, bestText, bestTokens = k, text, tokens
	}
	return best, bestText, bestTokens
}

func (a *Assembler) degrade(stats *TierStats, tier string, err error) {
	stats.DegradedTiers = append(stats.DegradedTiers, tier)
	a.logger.Warn("tier read failed, degrading to empty", "tier", tier, "err", err)
}
