// Package memory defines types for Reverie's persistent memory store.
package memory

import "time"

// InstructionScope limits which persona a standing instruction applies to.
const (
	// ScopeGlobal makes an instruction visible to every persona.
	ScopeGlobal = "global"
)

// Entry is a single full conversation turn (working-memory / starred tier).
// Immutable once written except the IsStarred flag.
type Entry struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	PersonaName  string    `json:"persona_name"`
	UserText     string    `json:"user_text"`
	ResponseText string    `json:"response_text"`
	IsStarred    bool      `json:"is_starred"`
	CreatedAt    time.Time `json:"created_at"`
}

// Compressed is a distilled conversation turn (recent-memory / retrieval
// tier). Created only after the two-pass compress-then-verify step;
// immutable thereafter.
type Compressed struct {
	ID               string    `json:"id"`
	SourceEntryID    string    `json:"source_entry_id,omitempty"`
	UserID           string    `json:"user_id"`
	PersonaName      string    `json:"persona_name"`
	UserEssence      string    `json:"user_essence"`
	ResponseEssence  string    `json:"response_essence"`
	ArcSummary       string    `json:"arc_summary"`
	Salience         int       `json:"salience"`
	IsInstruction    bool      `json:"is_instruction"`
	InstructionScope string    `json:"instruction_scope,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// ArcSummary length bounds, in characters.
const (
	ArcSummaryMin = 50
	ArcSummaryMax = 150
)

// ValidSalience reports whether s is inside the 1-10 salience scale.
func ValidSalience(s int) bool {
	return s >= 1 && s <= 10
}

// FileStatus is the lifecycle state of an ingested file.
type FileStatus string

const (
	StatusPending    FileStatus = "pending"
	StatusProcessing FileStatus = "processing"
	StatusReady      FileStatus = "ready"
	StatusFailed     FileStatus = "failed"
)

// ProcessingStage names the pipeline step a file record is in (or failed at).
type ProcessingStage string

const (
	StageExtracting  ProcessingStage = "extracting"
	StageCompressing ProcessingStage = "compressing"
	StageEmbedding   ProcessingStage = "embedding"
	StageFinalizing  ProcessingStage = "finalizing"
)

// FileRecord tracks an uploaded document through the ingestion pipeline.
// Description is non-empty iff Status is ready; the vector row in vec_files
// exists under the same condition.
type FileRecord struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	Filename        string          `json:"filename"`
	FileType        string          `json:"file_type"`
	ContentHash     string          `json:"content_hash"`
	Status          FileStatus      `json:"status"`
	ProcessingStage ProcessingStage `json:"processing_stage,omitempty"`
	Progress        int             `json:"progress"`
	Description     string          `json:"description,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	UploadedAt      time.Time       `json:"uploaded_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// RetrievalCandidate pairs a compressed memory with its retrieval scores.
// Transient: produced during retrieval, discarded after assembly.
type RetrievalCandidate struct {
	Entry         Compressed
	Similarity    float64
	WeightedScore float64
}
