package context

// DefaultBudgetFraction is the share of a model's context window the
// assembled memory payload may occupy. The rest is left for the system
// prompt, the user's message, and the response.
const DefaultBudgetFraction = 0.3

// BudgetFor derives the hard token ceiling for one assembly from a model's
// context window. Not persisted; computed per call.
func BudgetFor(contextWindow int, fraction float64) int {
	if fraction <= 0 || fraction > 1 {
		fraction = DefaultBudgetFraction
	}
	if contextWindow <= 0 {
		return 0
	}
	return int(float64(contextWindow) * fraction)
}
