package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/reverie-ai/reverie/internal/adapter"
)

// ParseError marks a compression failure caused by unusable model output,
// as opposed to a transport or provider failure. Callers use errors.As to
// tell the two apart.
type ParseError struct {
	Pass string // "draft" or "verify"
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("compressor: %s pass: %v", e.Pass, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// TurnDigest is the structured result of compressing one conversation turn.
type TurnDigest struct {
	UserEssence      string `json:"user_essence"`
	ResponseEssence  string `json:"response_essence"`
	ArcSummary       string `json:"arc_summary"`
	Salience         int    `json:"salience"`
	IsInstruction    bool   `json:"is_instruction"`
	InstructionScope string `json:"instruction_scope,omitempty"`
}

// Compressor distils turns and documents into compact, retrievable form
// using a two-pass draft-then-verify loop: the first pass compresses, the
// second pass critiques and corrects its own draft. The verify pass never
// runs on a draft that failed to parse or validate.
type Compressor struct {
	llm adapter.LLMAdapter
}

// NewCompressor creates a Compressor over the given completion provider.
func NewCompressor(llm adapter.LLMAdapter) *Compressor {
	return &Compressor{llm: llm}
}

const turnDraftPrompt = `Compress the conversation turn below into a JSON object:
{"user_essence": "...", "response_essence": "...", "arc_summary": "...", "salience": 1-10, "is_instruction": true|false, "instruction_scope": "global" or a persona name}

Rules:
- Keep information that cannot be re-derived from general principles; compress what can.
- arc_summary: one behavioral/strategic pattern, 50-150 characters.
- salience: 1 (routine) to 10 (life-defining).
- is_instruction: true only when the user issued a standing directive for future behavior.
- Return ONLY the JSON object. No prose, no markdown fences.

--- PERSONA: %s ---
--- USER ---
%s
--- ASSISTANT ---
%s
--- END ---`

const turnVerifyPrompt = `Below is a compressed digest of a conversation turn and the original turn.
Check the digest for accuracy: essences must not invent facts, the arc_summary
must describe the actual behavioral pattern, salience must be proportionate.
Return the corrected JSON object in the same shape. Return ONLY JSON.

--- DIGEST ---
%s
--- PERSONA: %s ---
--- USER ---
%s
--- ASSISTANT ---
%s
--- END ---`

// CompressTurn runs the two-pass compression over a finished turn.
func (c *Compressor) CompressTurn(ctx context.Context, persona, userText, responseText string) (TurnDigest, error) {
	draftRaw, err := c.complete(ctx, fmt.Sprintf(turnDraftPrompt, persona, userText, responseText))
	if err != nil {
		return TurnDigest{}, fmt.Errorf("compressor: draft: %w", err)
	}

	draft, err := parseTurnDigest(draftRaw)
	if err != nil {
		return TurnDigest{}, &ParseError{Pass: "draft", Err: err}
	}

	draftJSON, _ := json.Marshal(draft)
	finalRaw, err := c.complete(ctx, fmt.Sprintf(turnVerifyPrompt, draftJSON, persona, userText, responseText))
	if err != nil {
		return TurnDigest{}, fmt.Errorf("compressor: verify: %w", err)
	}

	final, err := parseTurnDigest(finalRaw)
	if err != nil {
		return TurnDigest{}, &ParseError{Pass: "verify", Err: err}
	}
	return final, nil
}

const fileDraftPrompt = `Summarise the document below into a JSON object:
{"description": "..."}

The description is 2-5 sentences capturing what the document is, what it
covers, and anything a future conversation would need it for. Keep details
that cannot be re-derived; compress the rest. Return ONLY JSON.

--- FILENAME: %s ---
%s
--- END ---`

const fileVerifyPrompt = `Below is a draft description of a document and the document itself.
Check the description: it must not invent content and must name the document's
actual subject matter. Return the corrected JSON object {"description": "..."}.
Return ONLY JSON.

--- DRAFT ---
%s
--- FILENAME: %s ---
%s
--- END ---`

// fileDigest is the JSON shape returned by the document prompts.
type fileDigest struct {
	Description string `json:"description"`
}

// DescribeFile runs the two-pass compression over an uploaded document and
// returns its description.
func (c *Compressor) DescribeFile(ctx context.Context, filename, text string) (string, error) {
	trimmed := trimText(text, 12000)

	draftRaw, err := c.complete(ctx, fmt.Sprintf(fileDraftPrompt, filename, trimmed))
	if err != nil {
		return "", fmt.Errorf("compressor: draft: %w", err)
	}

	draft, err := parseFileDigest(draftRaw)
	if err != nil {
		return "", &ParseError{Pass: "draft", Err: err}
	}

	draftJSON, _ := json.Marshal(draft)
	finalRaw, err := c.complete(ctx, fmt.Sprintf(fileVerifyPrompt, draftJSON, filename, trimmed))
	if err != nil {
		return "", fmt.Errorf("compressor: verify: %w", err)
	}

	final, err := parseFileDigest(finalRaw)
	if err != nil {
		return "", &ParseError{Pass: "verify", Err: err}
	}
	return final.Description, nil
}

// complete sends a prompt and drains the stream into a single string.
func (c *Compressor) complete(ctx context.Context, prompt string) (string, error) {
	stream, err := c.llm.Complete(ctx, adapter.CompletionRequest{
		UserMessage: prompt,
		MaxTokens:   1024,
		Temperature: 0.1,
		Stream:      false,
	})
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for chunk := range stream {
		if chunk.Error != nil {
			return "", chunk.Error
		}
		sb.WriteString(chunk.Text)
	}
	return sb.String(), nil
}

// parseTurnDigest extracts and validates a TurnDigest from raw model output.
// Lenient about surrounding prose or markdown fences: it takes the substring
// between the first '{' and the last '}'.
func parseTurnDigest(raw string) (TurnDigest, error) {
	slice, err := jsonObject(raw)
	if err != nil {
		return TurnDigest{}, err
	}

	var d TurnDigest
	if err := json.Unmarshal([]byte(slice), &d); err != nil {
		return TurnDigest{}, fmt.Errorf("unmarshal digest: %w", err)
	}

	d.UserEssence = strings.TrimSpace(d.UserEssence)
	d.ResponseEssence = strings.TrimSpace(d.ResponseEssence)
	d.ArcSummary = strings.TrimSpace(d.ArcSummary)

	if d.UserEssence == "" || d.ResponseEssence == "" {
		return TurnDigest{}, fmt.Errorf("digest missing essences")
	}
	if l := len(d.ArcSummary); l < ArcSummaryMin || l > ArcSummaryMax {
		return TurnDigest{}, fmt.Errorf("arc summary must be %d-%d characters, got %d",
			ArcSummaryMin, ArcSummaryMax, l)
	}
	if !ValidSalience(d.Salience) {
		return TurnDigest{}, fmt.Errorf("salience must be 1-10, got %d", d.Salience)
	}
	if d.IsInstruction && d.InstructionScope == "" {
		d.InstructionScope = ScopeGlobal
	}
	return d, nil
}

func parseFileDigest(raw string) (fileDigest, error) {
	slice, err := jsonObject(raw)
	if err != nil {
		return fileDigest{}, err
	}
	var d fileDigest
	if err := json.Unmarshal([]byte(slice), &d); err != nil {
		return fileDigest{}, fmt.Errorf("unmarshal digest: %w", err)
	}
	d.Description = strings.TrimSpace(d.Description)
	if d.Description == "" {
		return fileDigest{}, fmt.Errorf("digest missing description")
	}
	return d, nil
}

func jsonObject(raw string) (string, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end <= start {
		return "", fmt.Errorf("no JSON object in output")
	}
	return raw[start : end+1], nil
}

// trimText caps text at approximately maxChars characters, trimming at a
// sentence boundary if possible.
func trimText(s string, maxChars int) string {
	if len(s) <= maxChars {
		return s
	}
	trimmed := s[:maxChars]
	if idx := strings.LastIndexAny(trimmed, ".!?\n"); idx > maxChars/2 {
		trimmed = trimmed[:idx+1]
	}
	return trimmed + " [...]"
}
