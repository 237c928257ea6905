package context

import (
	"strings"
	"testing"

	"github.com/reverie-ai/reverie/internal/memory"
)

func TestFormatWorkingMemory(t *testing.T) {
	f := NewFormatter()

	if got := f.FormatWorkingMemory(nil); got != "" {
		t.Errorf("empty input should render empty, got %q", got)
	}

	out := f.FormatWorkingMemory([]memory.Entry{
		{UserText: "hello", ResponseText: "hi"},
		{UserText: "how are you", ResponseText: "well"},
	})
	if !strings.HasPrefix(out, "## Recent Conversation\n") {
		t.Errorf("missing header: %q", out)
	}
	if !strings.Contains(out, "User: hello\nAssistant: hi\n") {
		t.Errorf("missing turn: %q", out)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Error("sections must end in a newline")
	}
}

func TestFormatInstructions(t *testing.T) {
	f := NewFormatter()

	out := f.FormatInstructions([]memory.Compressed{
		{UserEssence: "Always answer in French"},
		{UserEssence: "Keep replies short"},
	})
	if !strings.Contains(out, "## Standing Instructions") {
		t.Errorf("missing header: %q", out)
	}
	if !strings.Contains(out, "- Always answer in French\n") {
		t.Errorf("missing bullet: %q", out)
	}
}

func TestFormatRecentAndRetrieved_SameShape(t *testing.T) {
	f := NewFormatter()

	c := memory.Compressed{
		ArcSummary:      "Plans travel meticulously and wants checklists before committing to any trip.",
		UserEssence:     "asked for a packing list",
		ResponseEssence: "provided one",
	}

	recent := f.FormatRecent([]memory.Compressed{c})
	if !strings.Contains(recent, "## Recent Memory") {
		t.Errorf("missing header: %q", recent)
	}
	if !strings.Contains(recent, "- "+c.ArcSummary+"\n") {
		t.Errorf("missing arc line: %q", recent)
	}
	if !strings.Contains(recent, "  user: asked for a packing list\n") {
		t.Errorf("missing essence: %q", recent)
	}

	retrieved := f.FormatRetrieved([]memory.RetrievalCandidate{{Entry: c}})
	if !strings.Contains(retrieved, "## Relevant Long-Term Memory") {
		t.Errorf("missing header: %q", retrieved)
	}
}

func TestFormatFiles(t *testing.T) {
	f := NewFormatter()

	out := f.FormatFiles([]memory.FileRecord{
		{Filename: "notes.md", Description: "Meeting notes for Q3."},
	})
	if !strings.Contains(out, "### notes.md\nMeeting notes for Q3.\n") {
		t.Errorf("unexpected rendering: %q", out)
	}
}

func TestFormatters_EmptyInputs(t *testing.T) {
	f := NewFormatter()
	if f.FormatStarred(nil) != "" || f.FormatInstructions(nil) != "" ||
		f.FormatRecent(nil) != "" || f.FormatRetrieved(nil) != "" || f.FormatFiles(nil) != "" {
		t.Error("all formatters must render empty input as empty string")
	}
}
