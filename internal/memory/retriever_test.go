package memory

import (
	"context"
	"testing"
	"time"
)

func TestRetrieve_EmptyQueryInactive(t *testing.T) {
	_, store := setupTestDB(t)
	emb := &fakeEmbedder{vec: []float32{1, 0, 0}}
	r := NewRetriever(store, nil, emb, DefaultRetrieverOptions())

	got, err := r.Retrieve(context.Background(), "u1", "", nil)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if got != nil {
		t.Errorf("expected inactive tier, got %d candidates", len(got))
	}
	if emb.calls != 0 {
		t.Error("embedder must not be called without a query")
	}
}

func TestRetrieve_BelowThresholdInactive(t *testing.T) {
	_, store := setupTestDB(t)

	// Five memories, threshold ten: retrieval stays off.
	for i := 0; i < 5; i++ {
		_, err := store.InsertCompressed(Compressed{
			UserID: "u1", PersonaName: "reverie",
			UserEssence: "a", ResponseEssence: "b",
			ArcSummary: validArc(), Salience: 5,
		})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	emb := &fakeEmbedder{vec: []float32{1, 0, 0}}
	r := NewRetriever(store, nil, emb, RetrieverOptions{ActivationThreshold: 10, CandidateLimit: 50, TopK: 10})

	got, err := r.Retrieve(context.Background(), "u1", "trips", nil)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil below threshold, got %d candidates", len(got))
	}
	if emb.calls != 0 {
		t.Error("embedder must not be called below the activation threshold")
	}
}

func TestRetrieve_NilEmbedderInactive(t *testing.T) {
	_, store := setupTestDB(t)
	r := NewRetriever(store, nil, nil, DefaultRetrieverOptions())

	got, err := r.Retrieve(context.Background(), "u1", "anything", nil)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if got != nil {
		t.Error("expected inactive tier without an embedder")
	}
}

func TestWeightedScore(t *testing.T) {
	tests := []struct {
		similarity float64
		salience   int
		want       float64
	}{
		{1.0, 10, 1.0},
		{1.0, 5, 0.5},
		{0.5, 10, 0.5},
		{0.8, 5, 0.4},
		{0.0, 10, 0.0},
	}
	for _, tt := range tests {
		if got := WeightedScore(tt.similarity, tt.salience); got != tt.want {
			t.Errorf("WeightedScore(%f, %d) = %f, want %f", tt.similarity, tt.salience, got, tt.want)
		}
	}
}

func TestRankCandidates(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	cands := []RetrievalCandidate{
		{Entry: Compressed{ID: "low"}, WeightedScore: 0.2},
		{Entry: Compressed{ID: "high"}, WeightedScore: 0.9},
		{Entry: Compressed{ID: "mid"}, WeightedScore: 0.5},
	}
	rankCandidates(cands)
	if cands[0].Entry.ID != "high" || cands[1].Entry.ID != "mid" || cands[2].Entry.ID != "low" {
		t.Errorf("wrong order: %s, %s, %s", cands[0].Entry.ID, cands[1].Entry.ID, cands[2].Entry.ID)
	}

	// Equal scores: newer entry wins.
	cands = []RetrievalCandidate{
		{Entry: Compressed{ID: "older", CreatedAt: now}, WeightedScore: 0.5},
		{Entry: Compressed{ID: "newer", CreatedAt: now.Add(time.Hour)}, WeightedScore: 0.5},
	}
	rankCandidates(cands)
	if cands[0].Entry.ID != "newer" {
		t.Errorf("tie should break to newer entry, got %s", cands[0].Entry.ID)
	}

	// Equal score and time: larger id wins, deterministically.
	cands = []RetrievalCandidate{
		{Entry: Compressed{ID: "aaa", CreatedAt: now}, WeightedScore: 0.5},
		{Entry: Compressed{ID: "bbb", CreatedAt: now}, WeightedScore: 0.5},
	}
	rankCandidates(cands)
	if cands[0].Entry.ID != "bbb" {
		t.Errorf("tie should break to larger id, got %s", cands[0].Entry.ID)
	}
}

func TestRetrieve_SalienceOutranksSimilarity(t *testing.T) {
	// A very salient memory at moderate similarity must outrank a highly
	// similar but trivial one.
	trivial := WeightedScore(0.95, 2)  // 0.19
	salient := WeightedScore(0.60, 9) // 0.54
	if salient <= trivial {
		t.Errorf("salient memory should win: %f vs %f", salient, trivial)
	}
}

func TestRetrieve_OtherUsersRowsDoNotCrowdOutResults(t *testing.T) {
	database, store := setupTestDB(t)
	vectors := NewVectorStore(database)
	query := fullVec(1)

	// Two memories push u1 past a threshold of one; only the first carries
	// a vector, so it is the lone retrievable row.
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
	if _, err := store.InsertCompressed(Compressed{
		UserID: "u1", PersonaName: "reverie",
		UserEssence: "c", ResponseEssence: "d",
		ArcSummary: validArc(), Salience: 5,
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Another user's rows match the query exactly. With a candidate limit of
	// three they would consume every slot if the search were unscoped.
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

	emb := &fakeEmbedder{vec: query}
	r := NewRetriever(store, vectors, emb, RetrieverOptions{ActivationThreshold: 1, CandidateLimit: 3, TopK: 3})

	got, err := r.Retrieve(context.Background(), "u1", "trips", nil)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected the caller's memory back, got %d candidates", len(got))
	}
	if got[0].Entry.ID != mine || got[0].Entry.UserID != "u1" {
		t.Errorf("retrieved someone else's memory: %+v", got[0].Entry)
	}
}
