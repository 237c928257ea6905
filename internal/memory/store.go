package memory

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/reverie-ai/reverie/internal/db"
)

// Store provides read/write access to the Reverie SQLite database.
// It is the only component that touches the relational tables; vector rows
// live behind VectorStore.
type Store struct {
	db *db.DB
}

// NewStore creates a Store backed by the given DB.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// Conn exposes the underlying *sql.DB for low-level queries.
func (s *Store) Conn() *sql.DB {
	return s.db.Conn()
}

// ---- Turns (working memory / starred tiers) ----

// InsertTurn persists a finished conversation turn and returns its ID.
func (s *Store) InsertTurn(e Entry) (string, error) {
	var id string
	err := s.db.Conn().QueryRow(`
		INSERT INTO turns (id, user_id, persona_name, user_text, response_text, is_starred)
		VALUES (lower(hex(randomblob(16))), ?, ?, ?, ?, ?)
		RETURNING id`,
		e.UserID, e.PersonaName, e.UserText, e.ResponseText, e.IsStarred,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("store: insert turn: %w", err)
	}
	return id, nil
}

// LastTurns returns the N most recent turns for a user and persona,
// ordered newest first.
func (s *Store) LastTurns(userID, persona string, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.Conn().Query(`
		SELECT id, user_id, persona_name, user_text, response_text, is_starred, created_at
		FROM turns
		WHERE user_id = ? AND persona_name = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, userID, persona, n,
	)
	if err != nil {
		return nil, fmt.Errorf("store: last turns: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// StarredTurns returns every starred turn for a user and persona,
// oldest first.
func (s *Store) StarredTurns(userID, persona string) ([]Entry, error) {
	rows, err := s.db.Conn().Query(`
		SELECT id, user_id, persona_name, user_text, response_text, is_starred, created_at
		FROM turns
		WHERE user_id = ? AND persona_name = ? AND is_starred = 1
		ORDER BY created_at ASC, id ASC`, userID, persona,
	)
	if err != nil {
		return nil, fmt.Errorf("store: starred turns: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// SetStarred flips the star flag on a turn. The only mutation turns allow.
func (s *Store) SetStarred(id string, starred bool) error {
	res, err := s.db.Conn().Exec(`UPDATE turns SET is_starred = ? WHERE id = ?`, starred, id)
	if err != nil {
		return fmt.Errorf("store: set starred: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("store: turn %q not found", id)
	}
	return nil
}

// DeleteTurn removes a turn by ID (explicit user action only).
func (s *Store) DeleteTurn(id string) error {
	res, err := s.db.Conn().Exec(`DELETE FROM turns WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("store: turn %q not found", id)
	}
	return nil
}

// CountTurns returns the total number of stored turns for a user.
func (s *Store) CountTurns(userID string) (int, error) {
	var n int
	err := s.db.Conn().QueryRow(`SELECT COUNT(*) FROM turns WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}

// ---- Compressed memories (recent / instruction / retrieval tiers) ----

// InsertCompressed persists a compressed memory and returns its ID.
// The arc summary and salience invariants are enforced at the write path so
// no malformed record can ever enter the retrieval pool.
func (s *Store) InsertCompressed(c Compressed) (string, error) {
	if l := len(c.ArcSummary); l < ArcSummaryMin || l > ArcSummaryMax {
		return "", fmt.Errorf("store: arc summary must be %d-%d characters, got %d",
			ArcSummaryMin, ArcSummaryMax, l)
	}
	if !ValidSalience(c.Salience) {
		return "", fmt.Errorf("store: salience must be 1-10, got %d", c.Salience)
	}
	if c.IsInstruction && c.InstructionScope == "" {
		c.InstructionScope = ScopeGlobal
	}

	var sourceID any
	if c.SourceEntryID != "" {
		sourceID = c.SourceEntryID
	}

	var id string
	err := s.db.Conn().QueryRow(`
		INSERT INTO compressed_memories
			(id, source_entry_id, user_id, persona_name, user_essence, response_essence,
			 arc_summary, salience, is_instruction, instruction_scope)
		VALUES (lower(hex(randomblob(16))), ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		sourceID, c.UserID, c.PersonaName, c.UserEssence, c.ResponseEssence,
		c.ArcSummary, c.Salience, c.IsInstruction, nullIfEmpty(c.InstructionScope),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("store: insert compressed: %w", err)
	}
	return id, nil
}

// RecentCompressed returns the N most recent non-instruction compressed
// memories for a user and persona, ordered newest first.
func (s *Store) RecentCompressed(userID, persona string, n int) ([]Compressed, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.Conn().Query(`
		SELECT id, COALESCE(source_entry_id,''), user_id, persona_name, user_essence,
		       response_essence, arc_summary, salience, is_instruction,
		       COALESCE(instruction_scope,''), created_at
		FROM compressed_memories
		WHERE user_id = ? AND persona_name = ? AND is_instruction = 0
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, userID, persona, n,
	)
	if err != nil {
		return nil, fmt.Errorf("store: recent compressed: %w", err)
	}
	defer rows.Close()
	return scanCompressed(rows)
}

// Instructions returns instruction-flagged memories whose scope is in scopes,
// oldest first. Callers pass {global, currentPersona} to enforce persona
// isolation.
func (s *Store) Instructions(userID string, scopes []string) ([]Compressed, error) {
	if len(scopes) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(scopes)), ",")
	args := make([]any, 0, len(scopes)+1)
	args = append(args, userID)
	for _, scope := range scopes {
		args = append(args, scope)
	}

	rows, err := s.db.Conn().Query(fmt.Sprintf(`
		SELECT id, COALESCE(source_entry_id,''), user_id, persona_name, user_essence,
		       response_essence, arc_summary, salience, is_instruction,
		       COALESCE(instruction_scope,''), created_at
		FROM compressed_memories
		WHERE user_id = ? AND is_instruction = 1 AND instruction_scope IN (%s)
		ORDER BY created_at ASC, id ASC`, placeholders), args...,
	)
	if err != nil {
		return nil, fmt.Errorf("store: instructions: %w", err)
	}
	defer rows.Close()
	return scanCompressed(rows)
}

// CountNonInstruction returns how many non-instruction compressed memories a
// user has. The retriever's activation threshold is checked against this.
func (s *Store) CountNonInstruction(userID string) (int, error) {
	var n int
	err := s.db.Conn().QueryRow(
		`SELECT COUNT(*) FROM compressed_memories WHERE user_id = ? AND is_instruction = 0`,
		userID,
	).Scan(&n)
	return n, err
}

// GetCompressedByID returns a single compressed memory by ID.
func (s *Store) GetCompressedByID(id string) (Compressed, error) {
	row := s.db.Conn().QueryRow(`
		SELECT id, COALESCE(source_entry_id,''), user_id, persona_name, user_essence,
		       response_essence, arc_summary, salience, is_instruction,
		       COALESCE(instruction_scope,''), created_at
		FROM compressed_memories WHERE id = ?`, id,
	)
	c, err := scanCompressedRow(row)
	if err == sql.ErrNoRows {
		return c, fmt.Errorf("store: compressed memory %q not found", id)
	}
	return c, err
}

// ---- File records (ingestion tier) ----

// CreateFileRecord inserts a new pending file record and returns its ID.
func (s *Store) CreateFileRecord(rec FileRecord) (string, error) {
	status := rec.Status
	if status == "" {
		status = StatusPending
	}
	var id string
	err := s.db.Conn().QueryRow(`
		INSERT INTO file_records (id, user_id, filename, file_type, content_hash, status, progress)
		VALUES (lower(hex(randomblob(16))), ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		rec.UserID, rec.Filename, rec.FileType, rec.ContentHash, string(status), rec.Progress,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("store: create file record: %w", err)
	}
	return id, nil
}

// FilePatch is a partial update to a file record. Nil fields are left
// untouched.
type FilePatch struct {
	Status       *FileStatus
	Stage        *ProcessingStage
	Progress     *int
	Description  *string
	ErrorMessage *string
}

// UpdateFileRecord applies a patch to a file record. updated_at is always
// bumped.
func (s *Store) UpdateFileRecord(id string, patch FilePatch) error {
	sets := []string{"updated_at = CURRENT_TIMESTAMP"}
	args := []any{}

	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.Stage != nil {
		sets = append(sets, "processing_stage = ?")
		args = append(args, string(*patch.Stage))
	}
	if patch.Progress != nil {
		sets = append(sets, "progress = ?")
		args = append(args, *patch.Progress)
	}
	if patch.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *patch.Description)
	}
	if patch.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *patch.ErrorMessage)
	}

	args = append(args, id)
	res, err := s.db.Conn().Exec(
		fmt.Sprintf(`UPDATE file_records SET %s WHERE id = ?`, strings.Join(sets, ", ")),
		args...,
	)
	if err != nil {
		return fmt.Errorf("store: update file record: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("store: file record %q not found", id)
	}
	return nil
}

// FindFileByHash looks up a user's file record by content hash.
// Returns found=false when the user has never uploaded this content.
func (s *Store) FindFileByHash(userID, hash string) (FileRecord, bool, error) {
	row := s.db.Conn().QueryRow(`
		SELECT id, user_id, filename, file_type, content_hash, status,
		       COALESCE(processing_stage,''), progress, COALESCE(description,''),
		       COALESCE(error_message,''), uploaded_at, updated_at
		FROM file_records WHERE user_id = ? AND content_hash = ?`, userID, hash,
	)
	rec, err := scanFileRow(row)
	if err == sql.ErrNoRows {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, fmt.Errorf("store: find file by hash: %w", err)
	}
	return rec, true, nil
}

// GetFileByID returns a single file record by ID.
func (s *Store) GetFileByID(id string) (FileRecord, error) {
	row := s.db.Conn().QueryRow(`
		SELECT id, user_id, filename, file_type, content_hash, status,
		       COALESCE(processing_stage,''), progress, COALESCE(description,''),
		       COALESCE(error_message,''), uploaded_at, updated_at
		FROM file_records WHERE id = ?`, id,
	)
	rec, err := scanFileRow(row)
	if err == sql.ErrNoRows {
		return rec, fmt.Errorf("store: file record %q not found", id)
	}
	return rec, err
}

// ReadyFiles returns every ready file for a user, newest first.
func (s *Store) ReadyFiles(userID string) ([]FileRecord, error) {
	return s.listFiles(userID, `AND status = 'ready'`)
}

// ListFiles returns every file record for a user, newest first.
func (s *Store) ListFiles(userID string) ([]FileRecord, error) {
	return s.listFiles(userID, "")
}

func (s *Store) listFiles(userID, extra string) ([]FileRecord, error) {
	rows, err := s.db.Conn().Query(fmt.Sprintf(`
		SELECT id, user_id, filename, file_type, content_hash, status,
		       COALESCE(processing_stage,''), progress, COALESCE(description,''),
		       COALESCE(error_message,''), uploaded_at, updated_at
		FROM file_records
		WHERE user_id = ? %s
		ORDER BY uploaded_at DESC, id DESC`, extra), userID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list files: %w", err)
	}
	defer rows.Close()

	var out []FileRecord
	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ---- Helpers ----

// parseTime tries multiple SQLite timestamp layouts.
// go-sqlite3 may return RFC3339 or the plain "2006-01-02 15:04:05" format
// depending on the connection string and platform.
func parseTime(s string) time.Time {
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var e Entry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.UserID, &e.PersonaName, &e.UserText,
			&e.ResponseText, &e.IsStarred, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanCompressed(rows *sql.Rows) ([]Compressed, error) {
	var out []Compressed
	for rows.Next() {
		var c Compressed
		var createdAt string
		if err := rows.Scan(&c.ID, &c.SourceEntryID, &c.UserID, &c.PersonaName,
			&c.UserEssence, &c.ResponseEssence, &c.ArcSummary, &c.Salience,
			&c.IsInstruction, &c.InstructionScope, &createdAt); err != nil {
			return nil, err
		}
		c.CreatedAt = parseTime(createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCompressedRow(row *sql.Row) (Compressed, error) {
	var c Compressed
	var createdAt string
	err := row.Scan(&c.ID, &c.SourceEntryID, &c.UserID, &c.PersonaName,
		&c.UserEssence, &c.ResponseEssence, &c.ArcSummary, &c.Salience,
		&c.IsInstruction, &c.InstructionScope, &createdAt)
	if err != nil {
		return c, err
	}
	c.CreatedAt = parseTime(createdAt)
	return c, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (FileRecord, error) {
	var rec FileRecord
	var status, stage, uploadedAt, updatedAt string
	err := row.Scan(&rec.ID, &rec.UserID, &rec.Filename, &rec.FileType,
		&rec.ContentHash, &status, &stage, &rec.Progress, &rec.Description,
		&rec.ErrorMessage, &uploadedAt, &updatedAt)
	if err != nil {
		return rec, err
	}
	rec.Status = FileStatus(status)
	rec.ProcessingStage = ProcessingStage(stage)
	rec.UploadedAt = parseTime(uploadedAt)
	rec.UpdatedAt = parseTime(updatedAt)
	return rec, nil
}

func scanFileRow(row *sql.Row) (FileRecord, error) {
	return scanFile(row)
}
