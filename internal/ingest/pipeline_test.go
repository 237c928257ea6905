package ingest

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/reverie-ai/reverie/internal/adapter"
	"github.com/reverie-ai/reverie/internal/db"
	"github.com/reverie-ai/reverie/internal/memory"
)

// fakeLLM returns scripted responses, one per Complete call.
type fakeLLM struct {
	responses []string
	calls     int
	err       error
}

func (f *fakeLLM) Complete(_ context.Context, _ adapter.CompletionRequest) (<-chan adapter.StreamChunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	idx := f.calls
	f.calls++
	var text string
	if idx < len(f.responses) {
		text = f.responses[idx]
	}
	ch := make(chan adapter.StreamChunk, 1)
	ch <- adapter.StreamChunk{Text: text}
	close(ch)
	return ch, nil
}

func (f *fakeLLM) Embed(_ context.Context, _ []string) ([][]float32, error) {
	return nil, errors.New("fake llm does not embed")
}

func (f *fakeLLM) Info() adapter.ModelInfo {
	return adapter.ModelInfo{Name: "fake", Provider: "fake"}
}

type fakeEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

func testEmbedding() []float32 {
	vec := make([]float32, db.DefaultEmbeddingDimension)
	for i := range vec {
		vec[i] = float32(i%7) * 0.1
	}
	return vec
}

func goodDescription() string {
	return `{"description": "A collection of cycling routes through the Alps with distances and elevation notes."}`
}

func setupPipeline(t *testing.T, llm *fakeLLM, embedder *fakeEmbedder, opts Options) (*memory.Store, *Pipeline) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	database, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	store := memory.NewStore(database)
	vectors := memory.NewVectorStore(database)
	return store, NewPipeline(store, vectors, memory.NewCompressor(llm), embedder, nil, opts)
}

func TestProcess_SuccessEmitsMilestones(t *testing.T) {
	llm := &fakeLLM{responses: []string{goodDescription(), goodDescription()}}
	embedder := &fakeEmbedder{vec: testEmbedding()}
	_, pipeline := setupPipeline(t, llm, embedder, Options{})

	var updates []ProgressUpdate
	rec, err := pipeline.Process(context.Background(), []byte("route notes"), "routes.md", "u1",
		func(u ProgressUpdate) error {
			updates = append(updates, u)
			return nil
		})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if rec.Status != memory.StatusReady {
		t.Errorf("status = %s, want ready", rec.Status)
	}
	if rec.Progress != 100 {
		t.Errorf("progress = %d, want 100", rec.Progress)
	}
	if rec.Description == "" {
		t.Error("ready record must carry a description")
	}
	if llm.calls != 2 {
		t.Errorf("llm calls = %d, want 2 (draft and verify)", llm.calls)
	}
	if embedder.calls != 1 {
		t.Errorf("embedder calls = %d, want 1", embedder.calls)
	}

	wantProgress := []int{20, 40, 70, 90, 100}
	if len(updates) != len(wantProgress) {
		t.Fatalf("got %d progress updates, want %d: %+v", len(updates), len(wantProgress), updates)
	}
	for i, want := range wantProgress {
		if updates[i].Progress != want {
			t.Errorf("update %d progress = %d, want %d", i, updates[i].Progress, want)
		}
	}
	wantStages := []memory.ProcessingStage{
		memory.StageExtracting, memory.StageCompressing,
		memory.StageEmbedding, memory.StageFinalizing, "",
	}
	for i, want := range wantStages {
		if updates[i].Stage != want {
			t.Errorf("update %d stage = %s, want %s", i, updates[i].Stage, want)
		}
	}
}

func TestProcess_DraftParseErrorFailsAtCompressing(t *testing.T) {
	llm := &fakeLLM{responses: []string{"this is not json"}}
	embedder := &fakeEmbedder{vec: testEmbedding()}
	store, pipeline := setupPipeline(t, llm, embedder, Options{})

	rec, err := pipeline.Process(context.Background(), []byte("content"), "notes.md", "u1", nil)
	if err == nil {
		t.Fatal("expected error for unparseable draft")
	}
	var parseErr *memory.ParseError
	if !errors.As(err, &parseErr) || parseErr.Pass != "draft" {
		t.Fatalf("expected draft-pass parse error, got %v", err)
	}
	if llm.calls != 1 {
		t.Errorf("llm calls = %d, want 1 (verify must not run on an invalid draft)", llm.calls)
	}
	if embedder.calls != 0 {
		t.Errorf("embedder ran after a failed compression")
	}

	if rec.Status != memory.StatusFailed {
		t.Errorf("status = %s, want failed", rec.Status)
	}
	if rec.ProcessingStage != memory.StageCompressing {
		t.Errorf("stage = %s, want compressing", rec.ProcessingStage)
	}

	stored, err := store.GetFileByID(rec.ID)
	if err != nil {
		t.Fatalf("get file: %v", err)
	}
	if stored.Status != memory.StatusFailed || stored.ErrorMessage == "" {
		t.Errorf("stored record not marked failed with a message: %+v", stored)
	}
}

func TestProcess_TransportErrorIsNotParseError(t *testing.T) {
	llm := &fakeLLM{err: errors.New("connection refused")}
	store, pipeline := setupPipeline(t, llm, &fakeEmbedder{vec: testEmbedding()}, Options{})

	rec, err := pipeline.Process(context.Background(), []byte("content"), "notes.md", "u1", nil)
	if err == nil {
		t.Fatal("expected transport error")
	}
	var parseErr *memory.ParseError
	if errors.As(err, &parseErr) {
		t.Error("transport failures must not classify as parse errors")
	}
	if rec.Status != memory.StatusFailed {
		t.Errorf("status = %s, want failed", rec.Status)
	}

	stored, err := store.GetFileByID(rec.ID)
	if err != nil {
		t.Fatalf("get file: %v", err)
	}
	if stored.ErrorMessage == "" {
		t.Error("failed record must carry an error message")
	}
}

func TestProcess_DuplicateShortCircuits(t *testing.T) {
	llm := &fakeLLM{}
	store, pipeline := setupPipeline(t, llm, &fakeEmbedder{vec: testEmbedding()}, Options{})

	data := []byte("the same content twice")
	hash := fmt.Sprintf("%x", sha256.Sum256(data))
	existingID, err := store.CreateFileRecord(memory.FileRecord{
		UserID: "u1", Filename: "first.md", FileType: ".md", ContentHash: hash,
	})
	if err != nil {
		t.Fatalf("create existing record: %v", err)
	}

	rec, err := pipeline.Process(context.Background(), data, "second.md", "u1", nil)
	var dup *DuplicateError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateError, got %v", err)
	}
	if dup.ExistingID != existingID || rec.ID != existingID {
		t.Errorf("duplicate should return the existing record: got %s, want %s", rec.ID, existingID)
	}
	if llm.calls != 0 {
		t.Errorf("duplicate must short-circuit before any model call, got %d", llm.calls)
	}

	files, err := store.ListFiles("u1")
	if err != nil {
		t.Fatalf("list files: %v", err)
	}
	if len(files) != 1 {
		t.Errorf("duplicate upload created a new record: %d files", len(files))
	}
}

func TestProcess_DuplicateIsPerUser(t *testing.T) {
	llm := &fakeLLM{responses: []string{goodDescription(), goodDescription()}}
	store, pipeline := setupPipeline(t, llm, &fakeEmbedder{vec: testEmbedding()}, Options{})

	data := []byte("shared content")
	hash := fmt.Sprintf("%x", sha256.Sum256(data))
	if _, err := store.CreateFileRecord(memory.FileRecord{
		UserID: "other", Filename: "theirs.md", FileType: ".md", ContentHash: hash,
	}); err != nil {
		t.Fatalf("create other user's record: %v", err)
	}

	rec, err := pipeline.Process(context.Background(), data, "mine.md", "u1", nil)
	if err != nil {
		t.Fatalf("another user's upload must not trigger the duplicate check: %v", err)
	}
	if rec.UserID != "u1" {
		t.Errorf("record owner = %s, want u1", rec.UserID)
	}
}

func TestProcess_ValidationRejectsBeforeAnyWrite(t *testing.T) {
	llm := &fakeLLM{}
	store, pipeline := setupPipeline(t, llm, &fakeEmbedder{vec: testEmbedding()}, Options{MaxFileBytes: 16})

	cases := []struct {
		name     string
		data     []byte
		filename string
	}{
		{"empty", nil, "empty.md"},
		{"oversized", []byte("12345678901234567"), "big.md"},
		{"bad extension", []byte("binary"), "tool.exe"},
		{"invalid utf8", []byte{0xff, 0xfe, 0xfd}, "junk.txt"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := pipeline.Process(context.Background(), tc.data, tc.filename, "u1", nil)
			var valErr *ValidationError
			if !errors.As(err, &valErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}

	if llm.calls != 0 {
		t.Errorf("validation failures must not reach the model, got %d calls", llm.calls)
	}
	files, err := store.ListFiles("u1")
	if err != nil {
		t.Fatalf("list files: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("validation failures must leave no records, found %d", len(files))
	}
}

func TestProcess_EmbedFailureFailsAtEmbedding(t *testing.T) {
	llm := &fakeLLM{responses: []string{goodDescription(), goodDescription()}}
	embedder := &fakeEmbedder{err: errors.New("embedding service down")}
	_, pipeline := setupPipeline(t, llm, embedder, Options{})

	rec, err := pipeline.Process(context.Background(), []byte("content"), "notes.md", "u1", nil)
	if err == nil {
		t.Fatal("expected embed failure")
	}
	if llm.calls != 2 {
		t.Errorf("llm calls = %d, want 2 (compression completed before embed)", llm.calls)
	}
	if rec.Status != memory.StatusFailed {
		t.Errorf("status = %s, want failed", rec.Status)
	}
	if rec.ProcessingStage != memory.StageEmbedding {
		t.Errorf("stage = %s, want embedding", rec.ProcessingStage)
	}
}

func TestProcess_CallbackFailureDoesNotAbort(t *testing.T) {
	llm := &fakeLLM{responses: []string{goodDescription(), goodDescription()}}
	_, pipeline := setupPipeline(t, llm, &fakeEmbedder{vec: testEmbedding()}, Options{})

	rec, err := pipeline.Process(context.Background(), []byte("content"), "notes.md", "u1",
		func(u ProgressUpdate) error {
			if u.Progress == 40 {
				panic("listener gone")
			}
			return errors.New("listener flaky")
		})
	if err != nil {
		t.Fatalf("Process must survive callback failures: %v", err)
	}
	if rec.Status != memory.StatusReady {
		t.Errorf("status = %s, want ready", rec.Status)
	}
}

// stallLLM blocks every completion until the caller's deadline fires.
type stallLLM struct{}

func (stallLLM) Complete(ctx context.Context, _ adapter.CompletionRequest) (<-chan adapter.StreamChunk, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stallLLM) Embed(_ context.Context, _ []string) ([][]float32, error) {
	return nil, errors.New("stall llm does not embed")
}

func (stallLLM) Info() adapter.ModelInfo {
	return adapter.ModelInfo{Name: "stall", Provider: "fake"}
}

func TestProcess_HungProviderFailsAtCompressing(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	database, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	store := memory.NewStore(database)
	vectors := memory.NewVectorStore(database)
	pipeline := NewPipeline(store, vectors, memory.NewCompressor(stallLLM{}), &fakeEmbedder{vec: testEmbedding()}, nil,
		Options{ProviderTimeout: 25 * time.Millisecond})

	rec, err := pipeline.Process(context.Background(), []byte("notes"), "notes.md", "u1", nil)
	if err == nil {
		t.Fatal("expected a failure from the hung provider")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected a deadline error, got %v", err)
	}
	if rec.Status != memory.StatusFailed || rec.ProcessingStage != memory.StageCompressing {
		t.Errorf("record = %s/%s, want failed at compressing", rec.Status, rec.ProcessingStage)
	}
}

func TestExtractText_StripsBOMAndNormalisesNewlines(t *testing.T) {
	data := []byte("\xef\xbb\xbfline one\r\nline two\n")
	if got, want := extractText(data), "line one\nline two\n"; got != want {
		t.Errorf("extractText = %q, want %q", got, want)
	}
}

func TestCreateRecord_RacingDuplicateResolvesToExisting(t *testing.T) {
	llm := &fakeLLM{responses: []string{goodDescription(), goodDescription()}}
	embedder := &fakeEmbedder{vec: testEmbedding()}
	store, pipeline := setupPipeline(t, llm, embedder, Options{})

	hash := fmt.Sprintf("%x", sha256.Sum256([]byte("shared content")))
	existingID, err := store.CreateFileRecord(memory.FileRecord{
		UserID: "u1", Filename: "first.md", FileType: ".md", ContentHash: hash,
	})
	if err != nil {
		t.Fatalf("create record: %v", err)
	}

	// A second insert for the same user and hash models the loser of two
	// concurrent uploads that both passed the duplicate check.
	rec, err := pipeline.createRecord(memory.FileRecord{
		UserID: "u1", Filename: "second.md", FileType: ".md", ContentHash: hash,
	})
	var dup *DuplicateError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateError, got %v", err)
	}
	if dup.ExistingID != existingID || rec.ID != existingID {
		t.Errorf("expected the winner's record %s, got rec %s dup %s", existingID, rec.ID, dup.ExistingID)
	}
}
