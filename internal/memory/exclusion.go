package memory

// ExclusionTracker accumulates the record identifiers already placed in the
// assembled context so later tiers never duplicate them. It is local to a
// single assembly call and never shared across calls.
type ExclusionTracker struct {
	ids map[string]bool
}

// NewExclusionTracker creates an empty tracker.
func NewExclusionTracker() *ExclusionTracker {
	return &ExclusionTracker{ids: make(map[string]bool)}
}

// Add records one or more identifiers as included.
func (t *ExclusionTracker) Add(ids ...string) {
	for _, id := range ids {
		if id != "" {
			t.ids[id] = true
		}
	}
}

// Contains reports whether an identifier is already included.
func (t *ExclusionTracker) Contains(id string) bool {
	return t.ids[id]
}

// Set returns the tracked identifiers as a set, in the shape the vector
// search exclusion filter consumes. The returned map is the tracker's own;
// callers must not mutate it.
func (t *ExclusionTracker) Set() map[string]bool {
	return t.ids
}

// Len returns how many identifiers are tracked.
func (t *ExclusionTracker) Len() int {
	return len(t.ids)
}

// InstructionVisible reports whether an instruction entry may appear in a
// context assembled for persona. A directive scoped to one persona must
// never leak into another persona's context.
func InstructionVisible(c Compressed, persona string) bool {
	if !c.IsInstruction {
		return false
	}
	return c.InstructionScope == ScopeGlobal || c.InstructionScope == persona
}
