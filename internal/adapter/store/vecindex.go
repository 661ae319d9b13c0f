package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"memvault/internal/domain"
)

// vecIndex is an in-memory index of active records and their embedding
// vectors. Entries are loaded lazily on the first search and updated
// incrementally on writes; consolidated members leave the index when they
// are tombstoned, so searches never surface them.
type vecIndex struct {
	mu      sync.RWMutex
	entries map[string]vecEntry // id → record with embedding
	loaded  bool
}

type vecEntry struct {
	record    domain.MemoryRecord
	embedding []float32
}

func newVecIndex() *vecIndex {
	return &vecIndex{
		entries: make(map[string]vecEntry),
	}
}

// search performs a cosine similarity scan over all cached embeddings.
// Candidates below threshold or failing the filter are dropped; the rest
// are returned in descending similarity order, truncated to limit.
func (idx *vecIndex) search(queryVec []float32, limit int, threshold float64, filter *domain.RecordFilter) []domain.Candidate {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	candidates := make([]domain.Candidate, 0, len(idx.entries))
	for _, ve := range idx.entries {
		if !filter.Matches(ve.record) {
			continue
		}
		sim := cosineSimilarity(queryVec, ve.embedding)
		if sim <= 0 || sim < threshold {
			continue
		}
		candidates = append(candidates, domain.Candidate{Record: ve.record, Similarity: sim})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Similarity > candidates[j].Similarity
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}

// put adds or updates an active record in the index.
func (idx *vecIndex) put(rec domain.MemoryRecord, embedding []float32) {
	if embedding == nil || !rec.Active() {
		return
	}
	idx.mu.Lock()
	idx.entries[rec.ID] = vecEntry{record: rec, embedding: embedding}
	idx.mu.Unlock()
}

// remove deletes a record from the index.
func (idx *vecIndex) remove(id string) {
	idx.mu.Lock()
	delete(idx.entries, id)
	idx.mu.Unlock()
}

// touch updates access bookkeeping on cached record snapshots.
func (idx *vecIndex) touch(ids []string, at time.Time) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, id := range ids {
		if ve, ok := idx.entries[id]; ok {
			ve.record.AccessCount++
			ve.record.LastAccessedAt = at
			ve.record.UpdatedAt = at
			idx.entries[id] = ve
		}
	}
}

// isLoaded returns whether the index has been populated from the database.
func (idx *vecIndex) isLoaded() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.loaded
}

// loadFromDB populates the index with every active record and its vector.
// Called once on the first search; subsequent calls are no-ops.
func (idx *vecIndex) loadFromDB(ctx context.Context, s *Store) error {
	idx.mu.Lock()
	if idx.loaded {
		idx.mu.Unlock()
		return nil
	}
	idx.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.text, r.category, r.importance, r.access_count,
		       r.created_at, r.updated_at, r.last_accessed_at,
		       r.consolidated_into, r.namespace, r.agent_id, r.metadata,
		       v.embedding
		FROM records r
		JOIN vectors v ON v.id = r.id
		WHERE r.consolidated_into IS NULL`,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	entries := make(map[string]vecEntry)
	for rows.Next() {
		rec, emb, err := scanRecordWithVector(rows)
		if err != nil {
			return err
		}
		if emb == nil {
			continue
		}
		entries[rec.ID] = vecEntry{record: rec, embedding: emb}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	idx.mu.Lock()
	idx.entries = entries
	idx.loaded = true
	idx.mu.Unlock()

	return nil
}

// scanRecordWithVector reads a joined record+vector row.
func scanRecordWithVector(row interface{ Scan(dest ...any) error }) (domain.MemoryRecord, []float32, error) {
	scanner := &vectorRowScanner{row: row}
	rec, err := scanRecord(scanner)
	if err != nil {
		return rec, nil, err
	}
	return rec, bytesToFloat32(scanner.blob), nil
}

// vectorRowScanner appends a trailing BLOB destination to a record scan.
type vectorRowScanner struct {
	row  interface{ Scan(dest ...any) error }
	blob []byte
}

func (v *vectorRowScanner) Scan(dest ...any) error {
	return v.row.Scan(append(dest, &v.blob)...)
}
