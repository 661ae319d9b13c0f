package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"memvault/internal/domain"
)

const (
	// knnOverFetch is the multiple of k fetched by KNNSearch so the caller
	// can re-rank before truncating.
	knnOverFetch = 3

	// findSimilarLimit bounds the candidate set used for dedup and
	// clustering.
	findSimilarLimit = 5
)

// KNNSearch implements domain.RecordStore. Returns up to 3×k active
// candidates ordered by descending cosine similarity.
func (s *Store) KNNSearch(ctx context.Context, vec []float32, k int, filter *domain.RecordFilter) ([]domain.Candidate, error) {
	if k <= 0 {
		k = 10
	}
	return s.search(ctx, vec, k*knnOverFetch, 0, filter)
}

// FindSimilar implements domain.RecordStore. A small bounded candidate set
// (top 5 by distance) filtered to similarity >= threshold.
func (s *Store) FindSimilar(ctx context.Context, vec []float32, threshold float64) ([]domain.Candidate, error) {
	return s.search(ctx, vec, findSimilarLimit, threshold, nil)
}

// search runs an in-memory cosine search over the lazily loaded index.
// An empty store yields empty results, not an error.
func (s *Store) search(ctx context.Context, vec []float32, limit int, threshold float64, filter *domain.RecordFilter) ([]domain.Candidate, error) {
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", domain.ErrInvalidInput)
	}
	if dim := s.Dimension(); dim != 0 && len(vec) != dim {
		return nil, fmt.Errorf("%w: query dimension %d, store committed to %d", domain.ErrDimensionMismatch, len(vec), dim)
	}

	if !s.vecIdx.isLoaded() {
		if err := s.vecIdx.loadFromDB(ctx, s); err != nil {
			return nil, fmt.Errorf("%w: load vector index: %v", domain.ErrVaultSearch, err)
		}
	}

	return s.vecIdx.search(vec, limit, threshold, filter), nil
}

// cosineSimilarity computes dot(a,b) / (||a|| * ||b||).
// Returns 0 for zero-length vectors, length mismatch, or NaN/Inf results.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	result := dot / denom
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0
	}
	return result
}

// float32ToBytes converts a float32 slice to little-endian bytes.
func float32ToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32 converts little-endian bytes back to a float32 slice.
func bytesToFloat32(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
