package store

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"memvault/internal/domain"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1},
		{"orthogonal", []float32{1, 0, 0}, []float32{0, 1, 0}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"empty", nil, nil, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("cosineSimilarity = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVectorBytesRoundtrip(t *testing.T) {
	vec := []float32{0.5, -1.25, 3.75, 0}
	got := bytesToFloat32(float32ToBytes(vec))
	if len(got) != len(vec) {
		t.Fatalf("len = %d, want %d", len(got), len(vec))
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("got[%d] = %v, want %v", i, got[i], vec[i])
		}
	}

	if bytesToFloat32([]byte{1, 2, 3}) != nil {
		t.Error("truncated blob should decode to nil")
	}
	if bytesToFloat32(nil) != nil {
		t.Error("empty blob should decode to nil")
	}
}

func TestFindSimilarSelf(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	vec := []float32{0.2, 0.8, 0.1, 0.4}
	if err := s.Insert(ctx, testRecord("a", time.Now()), vec); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	hits, err := s.FindSimilar(ctx, vec, 0.95)
	if err != nil {
		t.Fatalf("FindSimilar: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("len = %d, want 1", len(hits))
	}
	if hits[0].Record.ID != "a" {
		t.Errorf("hit = %s, want a", hits[0].Record.ID)
	}
	if hits[0].Similarity < 0.999 {
		t.Errorf("self similarity = %v, want ~1", hits[0].Similarity)
	}
}

func TestFindSimilarThreshold(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Insert(ctx, testRecord("x", time.Now()), []float32{1, 0, 0, 0}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	// Orthogonal query: nothing above a high threshold.
	hits, err := s.FindSimilar(ctx, []float32{0, 1, 0, 0}, 0.95)
	if err != nil {
		t.Fatalf("FindSimilar: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("len = %d, want 0", len(hits))
	}
}

func TestKNNSearchOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Vectors at increasing angular distance from the query.
	vecs := map[string][]float32{
		"close": {1, 0.1, 0, 0},
		"mid":   {1, 1, 0, 0},
		"far":   {0.1, 1, 0, 0},
	}
	for id, v := range vecs {
		if err := s.Insert(ctx, testRecord(id, time.Now()), v); err != nil {
			t.Fatalf("Insert %s: %v", id, err)
		}
	}

	got, err := s.KNNSearch(ctx, []float32{1, 0, 0, 0}, 3, nil)
	if err != nil {
		t.Fatalf("KNNSearch: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Record.ID != "close" || got[2].Record.ID != "far" {
		t.Errorf("order = [%s, %s, %s]", got[0].Record.ID, got[1].Record.ID, got[2].Record.ID)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Similarity > got[i-1].Similarity {
			t.Errorf("similarity not descending at %d", i)
		}
	}
}

func TestKNNSearchOverFetch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		rec := testRecord(string(rune('a'+i)), time.Now())
		if err := s.Insert(ctx, rec, makeVec(4, float32(i)*0.05+0.1)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	// k=2 over-fetches to 6 candidates for the caller to re-rank.
	got, err := s.KNNSearch(ctx, makeVec(4, 0.1), 2, nil)
	if err != nil {
		t.Fatalf("KNNSearch: %v", err)
	}
	if len(got) != 6 {
		t.Errorf("len = %d, want 6 (3x over-fetch)", len(got))
	}
}

func TestKNNSearchExcludesConsolidated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	vec := []float32{1, 0, 0, 0}
	if err := s.Insert(ctx, testRecord("member", time.Now()), vec); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.InsertMerged(ctx, testRecord("successor", time.Now()), vec, []string{"member"}); err != nil {
		t.Fatalf("InsertMerged: %v", err)
	}

	got, err := s.KNNSearch(ctx, vec, 10, nil)
	if err != nil {
		t.Fatalf("KNNSearch: %v", err)
	}
	for _, c := range got {
		if c.Record.ID == "member" {
			t.Error("consolidated member surfaced in search")
		}
	}
	if len(got) != 1 || got[0].Record.ID != "successor" {
		t.Errorf("expected only successor, got %d results", len(got))
	}
}

func TestKNNSearchFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testRecord("a", time.Now())
	a.Namespace = "work"
	b := testRecord("b", time.Now())
	b.Namespace = "home"

	vec := []float32{1, 0, 0, 0}
	if err := s.Insert(ctx, a, vec); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Insert(ctx, b, vec); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := s.KNNSearch(ctx, vec, 10, &domain.RecordFilter{Namespace: "work"})
	if err != nil {
		t.Fatalf("KNNSearch: %v", err)
	}
	if len(got) != 1 || got[0].Record.ID != "a" {
		t.Errorf("filter returned %d results", len(got))
	}
}

func TestSearchEmptyStore(t *testing.T) {
	s := newTestStore(t)

	got, err := s.KNNSearch(context.Background(), []float32{1, 0}, 5, nil)
	if err != nil {
		t.Fatalf("KNNSearch on empty store: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("len = %d, want 0", len(got))
	}
}

func TestSearchDimensionMismatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Insert(ctx, testRecord("a", time.Now()), makeVec(4, 0.1)); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	_, err := s.KNNSearch(ctx, makeVec(8, 0.1), 5, nil)
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Errorf("err = %v, want ErrDimensionMismatch", err)
	}

	_, err = s.KNNSearch(ctx, nil, 5, nil)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestIndexTracksWritesAfterLoad(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	vec := []float32{1, 0, 0, 0}
	if err := s.Insert(ctx, testRecord("first", time.Now()), vec); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	// Force the index to load.
	if _, err := s.KNNSearch(ctx, vec, 5, nil); err != nil {
		t.Fatalf("KNNSearch: %v", err)
	}

	// Writes after load must be visible without reopening.
	if err := s.Insert(ctx, testRecord("second", time.Now()), vec); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err := s.KNNSearch(ctx, vec, 5, nil)
	if err != nil {
		t.Fatalf("KNNSearch: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}

	if _, err := s.DeleteByID(ctx, "first"); err != nil {
		t.Fatalf("DeleteByID: %v", err)
	}
	got, err = s.KNNSearch(ctx, vec, 5, nil)
	if err != nil {
		t.Fatalf("KNNSearch: %v", err)
	}
	if len(got) != 1 || got[0].Record.ID != "second" {
		t.Errorf("expected only second after delete, got %d", len(got))
	}
}

func TestSearchSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir+"/vault.db", newTestLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	vec := []float32{0.3, 0.6, 0.1, 0.9}
	if err := s.Insert(ctx, testRecord("persist", time.Now()), vec); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	s.Close()

	s2, err := Open(dir+"/vault.db", newTestLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	hits, err := s2.FindSimilar(ctx, vec, 0.95)
	if err != nil {
		t.Fatalf("FindSimilar: %v", err)
	}
	if len(hits) != 1 || hits[0].Record.ID != "persist" {
		t.Errorf("record not searchable after reopen")
	}
}
