package memory

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/reverie-ai/reverie/internal/db"
)

// VectorStore provides vector similarity search via sqlite-vec.
type VectorStore struct {
	conn *sql.DB
}

// NewVectorStore creates a VectorStore backed by the given DB.
func NewVectorStore(database *db.DB) *VectorStore {
	return &VectorStore{conn: database.Conn()}
}

// UpsertMemoryEmbedding inserts or updates a compressed-memory embedding.
func (v *VectorStore) UpsertMemoryEmbedding(id string, embedding []float32) error {
	return v.upsert("vec_memories", id, embedding)
}

// UpsertFileEmbedding inserts or updates a file-description embedding.
func (v *VectorStore) UpsertFileEmbedding(id string, embedding []float32) error {
	return v.upsert("vec_files", id, embedding)
}

// vec0 virtual tables reject ON CONFLICT clauses, so upsert is a
// delete-then-insert inside one transaction.
func (v *VectorStore) upsert(table, id string, embedding []float32) error {
	if len(embedding) == 0 {
		return nil
	}
	blob := float32SliceToBlob(embedding)
	tx, err := v.conn.Begin()
	if err != nil {
		return fmt.Errorf("vector: upsert %s embedding: %w", table, err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table), id); err != nil {
		return fmt.Errorf("vector: upsert %s embedding: %w", table, err)
	}
	if _, err := tx.Exec(fmt.Sprintf(`INSERT INTO %s (id, embedding) VALUES (?, ?)`, table), id, blob); err != nil {
		return fmt.Errorf("vector: upsert %s embedding: %w", table, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("vector: upsert %s embedding: %w", table, err)
	}
	return nil
}

// Match represents a single similarity search result.
type Match struct {
	ID         string
	Similarity float64
}

// maxSearchK caps the KNN over-fetch loop.
const maxSearchK = 4096

// SearchMemories finds the topK most similar compressed-memory embeddings to
// the query vector, skipping any id present in exclude and any row owned by
// another user. vec0 cannot filter the KNN scan itself, so the search
// over-fetches and widens k until topK owned, non-excluded matches are found
// or the index is exhausted.
func (v *VectorStore) SearchMemories(userID string, query []float32, topK int, exclude map[string]bool) ([]Match, error) {
	return v.search("vec_memories", "compressed_memories", userID, query, topK, exclude)
}

// SearchFiles finds the topK most similar file-description embeddings owned
// by the user.
func (v *VectorStore) SearchFiles(userID string, query []float32, topK int, exclude map[string]bool) ([]Match, error) {
	return v.search("vec_files", "file_records", userID, query, topK, exclude)
}

func (v *VectorStore) search(table, ownerTable, userID string, query []float32, topK int, exclude map[string]bool) ([]Match, error) {
	if len(query) == 0 || topK <= 0 {
		return nil, nil
	}
	blob := float32SliceToBlob(query)

	k := topK + len(exclude)
	for {
		matches, err := v.knn(table, blob, k)
		if err != nil {
			if isVecMissing(err) {
				return nil, nil
			}
			return nil, err
		}

		owned, err := v.ownedBy(ownerTable, userID, matches)
		if err != nil {
			return nil, err
		}

		var out []Match
		for _, m := range matches {
			if exclude[m.ID] || !owned[m.ID] {
				continue
			}
			out = append(out, m)
			if len(out) == topK {
				return out, nil
			}
		}
		// Fewer rows than requested means the index is exhausted.
		if len(matches) < k || k >= maxSearchK {
			return out, nil
		}
		k *= 2
	}
}

func (v *VectorStore) knn(table string, blob []byte, k int) ([]Match, error) {
	rows, err := v.conn.Query(
		fmt.Sprintf(`SELECT id, distance FROM %s WHERE embedding MATCH ? AND k = ?
		 ORDER BY distance`, table),
		blob, k,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var id string
		var distance float64
		if err := rows.Scan(&id, &distance); err != nil {
			return nil, err
		}
		// sqlite-vec returns L2 distance; convert to a 0-1 similarity:
		// similarity = 1 / (1 + distance).
		out = append(out, Match{ID: id, Similarity: 1.0 / (1.0 + distance)})
	}
	return out, rows.Err()
}

// ownedBy returns the subset of match ids owned by userID.
func (v *VectorStore) ownedBy(ownerTable, userID string, matches []Match) (map[string]bool, error) {
	if len(matches) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(matches))
	args := make([]any, 0, len(matches)+1)
	args = append(args, userID)
	for i, m := range matches {
		placeholders[i] = "?"
		args = append(args, m.ID)
	}
	rows, err := v.conn.Query(
		fmt.Sprintf(`SELECT id FROM %s WHERE user_id = ? AND id IN (%s)`,
			ownerTable, strings.Join(placeholders, ",")),
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	owned := make(map[string]bool, len(matches))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		owned[id] = true
	}
	return owned, rows.Err()
}

// isVecMissing reports whether the error means the sqlite-vec extension was
// never loaded. Only that case degrades to an empty result.
func isVecMissing(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "no such module: vec0") ||
		strings.Contains(msg, "no such table: vec_")
}

// DeleteMemoryEmbedding removes a compressed-memory embedding.
func (v *VectorStore) DeleteMemoryEmbedding(id string) error {
	_, err := v.conn.Exec(`DELETE FROM vec_memories WHERE id = ?`, id)
	return err
}

// DeleteFileEmbedding removes a file-description embedding.
func (v *VectorStore) DeleteFileEmbedding(id string) error {
	_, err := v.conn.Exec(`DELETE FROM vec_files WHERE id = ?`, id)
	return err
}

// HasFileEmbedding reports whether a vector row exists for the file id.
func (v *VectorStore) HasFileEmbedding(id string) (bool, error) {
	var n int
	err := v.conn.QueryRow(`SELECT COUNT(*) FROM vec_files WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, nil //nolint:nilerr
	}
	return n > 0, nil
}

// ---- Helpers ----

// float32SliceToBlob serialises a float32 slice to a little-endian byte blob.
// This is the format expected by sqlite-vec's BLOB column input.
func float32SliceToBlob(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// BlobToFloat32Slice deserialises a little-endian byte blob to a float32 slice.
func BlobToFloat32Slice(b []byte) []float32 {
	result := make([]float32, len(b)/4)
	for i := range result {
		bits := binary.LittleEndian.Uint32(b[i*4:])
		result[i] = math.Float32frombits(bits)
	}
	return result
}
