// Package ingest turns uploaded documents into compressed, embedded,
// retrievable file records through a multi-stage pipeline.
package ingest

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/reverie-ai/reverie/internal/adapter"
	"github.com/reverie-ai/reverie/internal/memory"
	"github.com/reverie-ai/reverie/internal/retry"
)

// Stage progress milestones.
const (
	progressExtracting  = 20
	progressCompressing = 40
	progressEmbedding   = 70
	progressFinalizing  = 90
	progressReady       = 100
)

// ProgressUpdate is delivered to the injected callback at each pipeline
// milestone.
type ProgressUpdate struct {
	FileID   string
	Stage    memory.ProcessingStage
	Progress int
	Message  string
}

// ProgressFunc receives pipeline milestones. Errors (and panics) from the
// callback are logged and never abort processing.
type ProgressFunc func(ProgressUpdate) error

// Options sizes validation, the terminal-write retry, and the per-call
// timeout on provider requests.
type Options struct {
	MaxFileBytes    int64
	AllowedTypes    []string
	Retry           retry.Policy
	ProviderTimeout time.Duration
}

// DefaultOptions mirror the production tuning.
func DefaultOptions() Options {
	return Options{
		MaxFileBytes:    10 << 20,
		AllowedTypes:    []string{".txt", ".md", ".markdown", ".csv", ".json", ".log", ".yaml", ".yml"},
		Retry:           retry.Default,
		ProviderTimeout: 30 * time.Second,
	}
}

// Pipeline converts raw uploaded bytes into ready file records. Every
// instance is safe for concurrent use: each Process call writes only rows
// it owns, scoped by file id and content hash.
type Pipeline struct {
	store      *memory.Store
	vectors    *memory.VectorStore
	compressor *memory.Compressor
	embedder   adapter.Embedder
	logger     *slog.Logger
	opts       Options
	allowed    map[string]bool
}

// NewPipeline creates a Pipeline. All providers are injected.
func NewPipeline(store *memory.Store, vectors *memory.VectorStore, compressor *memory.Compressor, embedder adapter.Embedder, logger *slog.Logger, opts Options) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = DefaultOptions().MaxFileBytes
	}
	if len(opts.AllowedTypes) == 0 {
		opts.AllowedTypes = DefaultOptions().AllowedTypes
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = retry.Default
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = DefaultOptions().ProviderTimeout
	}
	allowed := make(map[string]bool, len(opts.AllowedTypes))
	for _, ext := range opts.AllowedTypes {
		allowed[strings.ToLower(ext)] = true
	}
	return &Pipeline{
		store:      store,
		vectors:    vectors,
		compressor: compressor,
		embedder:   embedder,
		logger:     logger,
		opts:       opts,
		allowed:    allowed,
	}
}

// Process runs the full ingestion state machine over one upload:
//
//	pending → extracting → compressing → embedding → finalizing → ready|failed
//
// Validation failures return before any database write. A re-upload of
// content the user already owns short-circuits with the existing record and
// a *DuplicateError the caller treats as success.
func (p *Pipeline) Process(ctx context.Context, data []byte, filename, userID string, progress ProgressFunc) (memory.FileRecord, error) {
	// Validate before any persistence.
	fileType, err := p.validate(data, filename)
	if err != nil {
		return memory.FileRecord{}, err
	}

	// Extract text and hash the raw bytes. The hash is computed before the
	// duplicate check by contract.
	text := extractText(data)
	hash := fmt.Sprintf("%x", sha256.Sum256(data))

	// Duplicate check, scoped per user.
	if existing, found, err := p.store.FindFileByHash(userID, hash); err != nil {
		return memory.FileRecord{}, &PersistenceError{Op: "duplicate check", Err: err}
	} else if found {
		p.logger.Info("duplicate upload, returning existing record",
			"user", userID, "file", filename, "existing", existing.ID)
		return existing, &DuplicateError{ExistingID: existing.ID}
	}

	rec, err := p.createRecord(memory.FileRecord{
		UserID:      userID,
		Filename:    filename,
		FileType:    fileType,
		ContentHash: hash,
		Status:      memory.StatusPending,
	})
	if err != nil {
		return rec, err
	}

	p.transition(rec.ID, memory.StageExtracting, progressExtracting, "extracting text", progress)

	// Compress: two-pass draft-then-verify. Unusable model output moves the
	// record straight to failed at this stage; the verify pass never ran.
	p.transition(rec.ID, memory.StageCompressing, progressCompressing, "compressing document", progress)
	description, err := p.describeWithTimeout(ctx, filename, text)
	if err != nil {
		return p.fail(ctx, rec, memory.StageCompressing, err, progress)
	}

	// Embed the compressed description.
	p.transition(rec.ID, memory.StageEmbedding, progressEmbedding, "embedding description", progress)
	vecs, err := p.embedWithTimeout(ctx, description)
	if err != nil || len(vecs) == 0 {
		if err == nil {
			err = errors.New("embedder returned no vectors")
		}
		return p.fail(ctx, rec, memory.StageEmbedding, err, progress)
	}

	// Finalize: the single write that makes the record ready. Retried with
	// bounded backoff; on exhaustion the error is logged and swallowed so
	// the computed description and embedding survive for a later attempt.
	p.transition(rec.ID, memory.StageFinalizing, progressFinalizing, "persisting result", progress)
	finalizeErr := retry.Do(ctx, p.opts.Retry, func() error {
		if err := p.vectors.UpsertFileEmbedding(rec.ID, vecs[0]); err != nil {
			return err
		}
		ready := memory.StatusReady
		prog := progressReady
		return p.store.UpdateFileRecord(rec.ID, memory.FilePatch{
			Status:      &ready,
			Progress:    &prog,
			Description: &description,
		})
	})
	if finalizeErr != nil {
		p.logger.Error("finalize exhausted retries; record left recoverable",
			"file", rec.ID, "err", finalizeErr)
		rec.Description = description
		return rec, nil
	}

	p.emit(progress, ProgressUpdate{
		FileID:   rec.ID,
		Progress: progressReady,
		Message:  "ready",
	})

	done, err := p.store.GetFileByID(rec.ID)
	if err != nil {
		rec.Status = memory.StatusReady
		rec.Description = description
		rec.Progress = progressReady
		return rec, nil
	}
	return done, nil
}

// Provider calls get a bounded deadline so a hung model server fails the
// record instead of wedging the pipeline.

func (p *Pipeline) describeWithTimeout(ctx context.Context, filename, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.ProviderTimeout)
	defer cancel()
	return p.compressor.DescribeFile(ctx, filename, text)
}

func (p *Pipeline) embedWithTimeout(ctx context.Context, description string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.ProviderTimeout)
	defer cancel()
	return p.embedder.Embed(ctx, []string{description})
}

// createRecord inserts the pending record. Two uploads of the same content
// can race past the duplicate check; the loser hits the unique (user, hash)
// index and is resolved to the winner's record, same as an ordinary duplicate.
func (p *Pipeline) createRecord(rec memory.FileRecord) (memory.FileRecord, error) {
	id, err := p.store.CreateFileRecord(rec)
	if err == nil {
		rec.ID = id
		return rec, nil
	}
	if isUniqueViolation(err) {
		if existing, found, lookupErr := p.store.FindFileByHash(rec.UserID, rec.ContentHash); lookupErr == nil && found {
			p.logger.Info("concurrent duplicate upload, returning existing record",
				"user", rec.UserID, "file", rec.Filename, "existing", existing.ID)
			return existing, &DuplicateError{ExistingID: existing.ID}
		}
	}
	return memory.FileRecord{}, &PersistenceError{Op: "create record", Err: err}
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// validate enforces size and type constraints. No database writes happen
// before this passes.
func (p *Pipeline) validate(data []byte, filename string) (string, error) {
	if len(data) == 0 {
		return "", &ValidationError{Reason: "empty file"}
	}
	if int64(len(data)) > p.opts.MaxFileBytes {
		return "", &ValidationError{Reason: fmt.Sprintf("file exceeds %d bytes", p.opts.MaxFileBytes)}
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !p.allowed[ext] {
		return "", &ValidationError{Reason: fmt.Sprintf("unsupported file type %q", ext)}
	}
	if !utf8.Valid(data) {
		return "", &ValidationError{Reason: "file is not valid UTF-8 text"}
	}
	return ext, nil
}

// extractText converts raw bytes to normalised plain text.
func extractText(data []byte) string {
	text := string(data)
	text = strings.TrimPrefix(text, "\uFEFF")
	return strings.ReplaceAll(text, "\r\n", "\n")
}

// transition moves the record to a processing stage and emits progress.
// A failed stage write is logged and processing continues: the stage column
// is advisory, the terminal writes are the ones that matter.
func (p *Pipeline) transition(id string, stage memory.ProcessingStage, prog int, msg string, cb ProgressFunc) {
	status := memory.StatusProcessing
	if err := p.store.UpdateFileRecord(id, memory.FilePatch{
		Status:   &status,
		Stage:    &stage,
		Progress: &prog,
	}); err != nil {
		p.logger.Warn("stage update failed", "file", id, "stage", stage, "err", err)
	}
	p.emit(cb, ProgressUpdate{FileID: id, Stage: stage, Progress: prog, Message: msg})
}

// fail terminates the record at a stage with a structured error message,
// using the same bounded-retry, best-effort policy as finalize.
func (p *Pipeline) fail(ctx context.Context, rec memory.FileRecord, stage memory.ProcessingStage, cause error, cb ProgressFunc) (memory.FileRecord, error) {
	msg := fmt.Sprintf("%s: %v", errorCode(cause), cause)
	failed := memory.StatusFailed

	if err := retry.Do(ctx, p.opts.Retry, func() error {
		return p.store.UpdateFileRecord(rec.ID, memory.FilePatch{
			Status:       &failed,
			Stage:        &stage,
			ErrorMessage: &msg,
		})
	}); err != nil {
		p.logger.Error("marking record failed exhausted retries", "file", rec.ID, "err", err)
	}

	p.emit(cb, ProgressUpdate{FileID: rec.ID, Stage: stage, Progress: 0, Message: msg})

	rec.Status = memory.StatusFailed
	rec.ProcessingStage = stage
	rec.ErrorMessage = msg
	return rec, fmt.Errorf("ingest: %s failed: %w", stage, cause)
}

// errorCode classifies a pipeline failure for the structured error message.
func errorCode(err error) string {
	var parseErr *memory.ParseError
	if errors.As(err, &parseErr) {
		return "parse-error"
	}
	var provErr *adapter.ProviderError
	if errors.As(err, &provErr) {
		return string(provErr.Code)
	}
	return "provider-error"
}

// emit delivers a progress update, isolating the pipeline from callback
// failures and panics.
func (p *Pipeline) emit(cb ProgressFunc, u ProgressUpdate) {
	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("progress callback panicked", "file", u.FileID, "panic", r)
		}
	}()
	if err := cb(u); err != nil {
		p.logger.Warn("progress callback failed", "file", u.FileID, "err", err)
	}
}
