package context

import (
	"fmt"
	"strings"

	"github.com/reverie-ai/reverie/internal/memory"
)

// Formatter renders memory tiers into prompt-ready sections.
type Formatter struct{}

// NewFormatter creates a Formatter.
func NewFormatter() *Formatter { return &Formatter{} }

// FormatWorkingMemory renders full recent turns, oldest first.
func (f *Formatter) FormatWorkingMemory(entries []memory.Entry) string {
	if len(entries) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Recent Conversation\n\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "User: %s\nAssistant: %s\n\n", e.UserText, e.ResponseText)
	}
	return b.String()
}

// FormatStarred renders the user's starred turns, oldest first.
func (f *Formatter) FormatStarred(entries []memory.Entry) string {
	if len(entries) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Starred Moments\n\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "User: %s\nAssistant: %s\n\n", e.UserText, e.ResponseText)
	}
	return b.String()
}

// FormatInstructions renders standing directives as a list.
func (f *Formatter) FormatInstructions(items []memory.Compressed) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Standing Instructions\n\n")
	for _, c := range items {
		fmt.Fprintf(&b, "- %s\n", c.UserEssence)
	}
	b.WriteString("\n")
	return b.String()
}

// FormatRecent renders compressed memories, oldest first.
func (f *Formatter) FormatRecent(items []memory.Compressed) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Recent Memory\n\n")
	for _, c := range items {
		f.writeCompressed(&b, c)
	}
	return b.String()
}

// FormatRetrieved renders semantically retrieved memories in rank order.
func (f *Formatter) FormatRetrieved(candidates []memory.RetrievalCandidate) string {
	if len(candidates) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Relevant Long-Term Memory\n\n")
	for _, cand := range candidates {
		f.writeCompressed(&b, cand.Entry)
	}
	return b.String()
}

// FormatFiles renders ready document descriptions, newest first.
func (f *Formatter) FormatFiles(files []memory.FileRecord) string {
	if len(files) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Uploaded Documents\n\n")
	for _, rec := range files {
		fmt.Fprintf(&b, "### %s\n%s\n\n", rec.Filename, rec.Description)
	}
	return b.String()
}

func (f *Formatter) writeCompressed(b *strings.Builder, c memory.Compressed) {
	fmt.Fprintf(b, "- %s\n  user: %s\n  reply: %s\n", c.ArcSummary, c.UserEssence, c.ResponseEssence)
}
