package memory

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/reverie-ai/reverie/internal/db"
)

func TestFloat32SliceToBlob(t *testing.T) {
	input := []float32{1.0, 2.0, 3.0}
	blob := float32SliceToBlob(input)

	if len(blob) != 12 { // 3 floats * 4 bytes each
		t.Fatalf("expected 12 bytes, got %d", len(blob))
	}

	bits := binary.LittleEndian.Uint32(blob[0:4])
	val := math.Float32frombits(bits)
	if val != 1.0 {
		t.Errorf("first float: got %f, want 1.0", val)
	}
}

func TestFloat32RoundTrip(t *testing.T) {
	input := []float32{0.0, -1.0, 1e-10, 1e10, math.MaxFloat32}
	blob := float32SliceToBlob(input)
	output := BlobToFloat32Slice(blob)

	if len(output) != len(input) {
		t.Fatalf("length mismatch: got %d, want %d", len(output), len(input))
	}
	for i := range input {
		if input[i] != output[i] {
			t.Errorf("round-trip failed at index %d: %f != %f", i, input[i], output[i])
		}
	}
}

func TestFloat32SliceToBlob_Empty(t *testing.T) {
	if blob := float32SliceToBlob(nil); len(blob) != 0 {
		t.Errorf("expected empty blob for nil input, got %d bytes", len(blob))
	}
	if out := BlobToFloat32Slice(nil); len(out) != 0 {
		t.Errorf("expected empty slice for nil blob, got %d floats", len(out))
	}
}

// fullVec builds an embedding of the dimension the vec tables are declared
// with, distinguished by its leading components.
func fullVec(lead ...float32) []float32 {
	v := make([]float32, db.DefaultEmbeddingDimension)
	copy(v, lead)
	return v
}

func TestVectorStore_UpsertOverwritesExisting(t *testing.T) {
	database, store := setupTestDB(t)
	vectors := NewVectorStore(database)

	id, err := store.CreateFileRecord(FileRecord{
		UserID: "u1", Filename: "notes.txt", FileType: "txt", ContentHash: "h1",
	})
	if err != nil {
		t.Fatalf("create record: %v", err)
	}

	if err := vectors.UpsertFileEmbedding(id, fullVec(1)); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := vectors.UpsertFileEmbedding(id, fullVec(0, 1)); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	var n int
	if err := store.Conn().QueryRow(`SELECT COUNT(*) FROM vec_files WHERE id = ?`, id).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one vector row after re-upsert, got %d", n)
	}

	// Searching with the replacement vector must return a perfect match.
	matches, err := vectors.SearchFiles("u1", fullVec(0, 1), 5, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != id {
		t.Fatalf("expected the upserted id back, got %+v", matches)
	}
	if matches[0].Similarity != 1.0 {
		t.Errorf("expected similarity 1.0 for an exact match, got %f", matches[0].Similarity)
	}
}

func TestVectorStore_SearchMemories_ScopedToUser(t *testing.T) {
	database, store := setupTestDB(t)
	vectors := NewVectorStore(database)

	query := fullVec(1)

	mine, err := store.InsertCompressed(Compressed{
		UserID: "u1", PersonaName: "reverie",
		UserEssence: "a", ResponseEssence: "b",
		ArcSummary: validArc(), Salience: 5,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := vectors.UpsertMemoryEmbedding(mine, fullVec(1, 0.5)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// Another user's rows sit exactly on the query vector, so an unscoped
	// nearest-neighbour scan would fill every slot with them.
	for i := 0; i < 3; i++ {
		id, err := store.InsertCompressed(Compressed{
			UserID: "u2", PersonaName: "reverie",
			UserEssence: "a", ResponseEssence: "b",
			ArcSummary: validArc(), Salience: 5,
		})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		if err := vectors.UpsertMemoryEmbedding(id, query); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	matches, err := vectors.SearchMemories("u1", query, 3, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected exactly the caller's row, got %d matches", len(matches))
	}
	if matches[0].ID != mine {
		t.Errorf("expected id %s, got %s", mine, matches[0].ID)
	}
}

func TestVectorStore_SearchReportsQueryErrors(t *testing.T) {
	database, _ := setupTestDB(t)
	vectors := NewVectorStore(database)
	database.Close()

	if _, err := vectors.SearchMemories("u1", fullVec(1), 5, nil); err == nil {
		t.Fatal("expected an error from a closed database, got nil")
	}
}
