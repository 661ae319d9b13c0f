package domain

import (
	"context"
	"time"
)

// RecordStore is the port for durable record + vector storage with
// cosine-similarity nearest-neighbor search.
//
// The vector dimension is committed by the first vector ever stored and is
// immutable for the lifetime of the backing database. Multi-row mutations
// (record+vector insert, merge+mark) are transactional: either both sides
// persist or neither does.
type RecordStore interface {
	// Initialize commits the embedding dimension. Idempotent; if a different
	// dimension was previously committed it fails with ErrDimensionMismatch
	// and leaves existing data untouched.
	Initialize(ctx context.Context, dimension int) error

	// Insert atomically persists a record and its paired vector.
	Insert(ctx context.Context, rec MemoryRecord, vec []float32) error

	// Get returns a record by ID, or ErrNotFound.
	Get(ctx context.Context, id string) (*MemoryRecord, error)

	// KNNSearch returns active candidates ordered by descending cosine
	// similarity (ascending distance). It over-fetches roughly 3×k to leave
	// room for re-ranking before the caller truncates to k.
	KNNSearch(ctx context.Context, vec []float32, k int, filter *RecordFilter) ([]Candidate, error)

	// FindSimilar returns a small bounded candidate set (top 5 by distance)
	// filtered to similarity >= threshold, excluding consolidated records.
	FindSimilar(ctx context.Context, vec []float32, threshold float64) ([]Candidate, error)

	// VectorOf returns the stored vector for a record ID, or ErrNotFound.
	VectorOf(ctx context.Context, id string) ([]float32, error)

	// DeleteByID hard-deletes a record and its vector. Idempotent; reports
	// whether anything was removed.
	DeleteByID(ctx context.Context, id string) (bool, error)

	// InsertMerged persists a consolidation result: the merged record and
	// its vector are inserted and every member is tombstoned with
	// ConsolidatedInto pointing at the merged ID, all in one transaction.
	InsertMerged(ctx context.Context, merged MemoryRecord, vec []float32, memberIDs []string) error

	// TouchAccess increments access counts and stamps LastAccessedAt on the
	// given record IDs.
	TouchAccess(ctx context.Context, ids []string, at time.Time) error

	// GetOlderThan returns active records created before the cutoff,
	// oldest first.
	GetOlderThan(ctx context.Context, cutoff time.Time) ([]MemoryRecord, error)

	// ListAll returns every record, tombstones included, ordered by
	// creation time ascending. Used for export.
	ListAll(ctx context.Context) ([]MemoryRecord, error)

	// Stats returns counts by category plus active/consolidated totals.
	Stats(ctx context.Context) (*VaultStats, error)

	Close() error
}
