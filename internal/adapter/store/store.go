package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"memvault/internal/domain"
)

// metaDimensionKey is the vault_meta row recording the committed embedding
// dimension, checked across restarts.
const metaDimensionKey = "embedding_dimension"

// Store implements domain.RecordStore backed by SQLite. Records and their
// embedding vectors live in parallel tables keyed by the same ID; every
// multi-row mutation runs inside one transaction so a record and its vector
// are never half-committed.
//
// An in-memory vecIndex caches active records with their embeddings to avoid
// SQLite I/O on every similarity search. The index is lazily loaded on the
// first search and incrementally updated on writes.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	dbPath string
	vecIdx *vecIndex

	mu  sync.Mutex
	dim int // committed embedding dimension; 0 = not yet committed
}

// Open opens (or creates) a SQLite database at dbPath, runs migrations,
// loads the committed dimension if any, and returns a ready Store.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %v", domain.ErrVaultStore, err)
	}

	// SQLite write safety: single writer.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: pragma: %v", domain.ErrVaultStore, err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", domain.ErrVaultStore, err)
	}

	s := &Store{
		db:     db,
		logger: logger,
		dbPath: dbPath,
		vecIdx: newVecIndex(),
	}

	dim, err := s.loadCommittedDimension(context.Background())
	if err != nil {
		db.Close()
		return nil, err
	}
	s.dim = dim

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Dimension returns the committed embedding dimension, 0 if none yet.
func (s *Store) Dimension() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dim
}

// Initialize implements domain.RecordStore. Committing the same dimension
// again is a no-op; a different dimension fails without touching data.
func (s *Store) Initialize(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", domain.ErrInvalidInput, dimension)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitDimensionLocked(ctx, dimension)
}

// commitDimensionLocked commits dimension to vault_meta. Caller holds s.mu.
func (s *Store) commitDimensionLocked(ctx context.Context, dimension int) error {
	if s.dim != 0 {
		if s.dim != dimension {
			return fmt.Errorf("%w: store committed to %d, got %d", domain.ErrDimensionMismatch, s.dim, dimension)
		}
		return nil
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO vault_meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO NOTHING",
		metaDimensionKey, strconv.Itoa(dimension),
	)
	if err != nil {
		return fmt.Errorf("%w: commit dimension: %v", domain.ErrVaultStore, err)
	}
	s.dim = dimension
	s.logger.Info("embedding dimension committed", "dimension", dimension, "db", s.dbPath)
	return nil
}

// loadCommittedDimension reads the dimension recorded by a previous run.
func (s *Store) loadCommittedDimension(ctx context.Context) (int, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM vault_meta WHERE key = ?", metaDimensionKey,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: load dimension: %v", domain.ErrVaultStore, err)
	}
	dim, err := strconv.Atoi(value)
	if err != nil || dim <= 0 {
		return 0, fmt.Errorf("%w: corrupt dimension metadata %q", domain.ErrVaultStore, value)
	}
	return dim, nil
}

// checkVector validates vec against the committed dimension, committing it
// if this is the first vector ever stored.
func (s *Store) checkVector(ctx context.Context, vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty vector", domain.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitDimensionLocked(ctx, len(vec))
}

// Insert implements domain.RecordStore. The record row and its vector
// persist in one transaction or not at all.
func (s *Store) Insert(ctx context.Context, rec domain.MemoryRecord, vec []float32) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: record id required", domain.ErrInvalidInput)
	}
	if rec.Importance < 0 || rec.Importance > 1 {
		return fmt.Errorf("%w: importance %v out of [0,1]", domain.ErrInvalidInput, rec.Importance)
	}
	if err := s.checkVector(ctx, vec); err != nil {
		return err
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.LastAccessedAt.IsZero() {
		rec.LastAccessedAt = rec.CreatedAt
	}
	if rec.Category == "" {
		rec.Category = domain.CategoryOther
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", domain.ErrTxRetryable, err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM records WHERE id = ?", rec.ID).Scan(&exists)
	switch {
	case err == nil:
		return fmt.Errorf("%w: record %q already stored", domain.ErrDuplicate, rec.ID)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: check id %q: %v", domain.ErrVaultStore, rec.ID, err)
	}

	if err := insertRecordTx(ctx, tx, rec); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO vectors (id, embedding) VALUES (?, ?)",
		rec.ID, float32ToBytes(vec),
	); err != nil {
		return fmt.Errorf("%w: insert vector: %v", domain.ErrTxRetryable, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", domain.ErrTxRetryable, err)
	}

	if s.vecIdx.isLoaded() {
		s.vecIdx.put(rec, append([]float32(nil), vec...))
	}
	return nil
}

// insertRecordTx writes a record row inside an open transaction.
func insertRecordTx(ctx context.Context, tx *sql.Tx, rec domain.MemoryRecord) error {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("%w: marshal metadata: %v", domain.ErrVaultStore, err)
	}

	var consolidated any
	if rec.ConsolidatedInto != "" {
		consolidated = rec.ConsolidatedInto
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO records
			(id, text, category, importance, access_count,
			 created_at, updated_at, last_accessed_at,
			 consolidated_into, namespace, agent_id, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Text,
		string(rec.Category),
		rec.Importance,
		rec.AccessCount,
		rec.CreatedAt.UnixNano(),
		rec.UpdatedAt.UnixNano(),
		rec.LastAccessedAt.UnixNano(),
		consolidated,
		rec.Namespace,
		rec.AgentID,
		string(meta),
	)
	if err != nil {
		return fmt.Errorf("%w: insert record %q: %v", domain.ErrTxRetryable, rec.ID, err)
	}
	return nil
}

// Get implements domain.RecordStore.
func (s *Store) Get(ctx context.Context, id string) (*domain.MemoryRecord, error) {
	row := s.db.QueryRowContext(ctx, selectRecordSQL+" WHERE id = ?", id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: record %q", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %q: %v", domain.ErrVaultStore, id, err)
	}
	return &rec, nil
}

// VectorOf implements domain.RecordStore.
func (s *Store) VectorOf(ctx context.Context, id string) ([]float32, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT embedding FROM vectors WHERE id = ?", id,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: vector %q", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: vector of %q: %v", domain.ErrVaultStore, id, err)
	}
	vec := bytesToFloat32(blob)
	if vec == nil {
		return nil, fmt.Errorf("%w: corrupt vector blob for %q", domain.ErrVaultStore, id)
	}
	return vec, nil
}

// DeleteByID implements domain.RecordStore. Hard delete of record + vector;
// idempotent.
func (s *Store) DeleteByID(ctx context.Context, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%w: begin tx: %v", domain.ErrTxRetryable, err)
	}
	defer tx.Rollback() //nolint:errcheck

	result, err := tx.ExecContext(ctx, "DELETE FROM records WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("%w: delete record: %v", domain.ErrTxRetryable, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM vectors WHERE id = ?", id); err != nil {
		return false, fmt.Errorf("%w: delete vector: %v", domain.ErrTxRetryable, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%w: commit: %v", domain.ErrTxRetryable, err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return false, nil
	}
	s.vecIdx.remove(id)
	return true, nil
}

// InsertMerged implements domain.RecordStore. The merged record+vector
// insert and the member tombstoning execute in a single transaction — no
// crash state where one happens without the other.
func (s *Store) InsertMerged(ctx context.Context, merged domain.MemoryRecord, vec []float32, memberIDs []string) error {
	if len(memberIDs) == 0 {
		return fmt.Errorf("%w: no members to consolidate", domain.ErrInvalidInput)
	}
	if merged.ID == "" {
		return fmt.Errorf("%w: merged record id required", domain.ErrInvalidInput)
	}
	if err := s.checkVector(ctx, vec); err != nil {
		return err
	}

	now := time.Now().UTC()
	if merged.CreatedAt.IsZero() {
		merged.CreatedAt = now
	}
	merged.UpdatedAt = now
	if merged.LastAccessedAt.IsZero() {
		merged.LastAccessedAt = merged.CreatedAt
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", domain.ErrTxRetryable, err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := insertRecordTx(ctx, tx, merged); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO vectors (id, embedding) VALUES (?, ?)",
		merged.ID, float32ToBytes(vec),
	); err != nil {
		return fmt.Errorf("%w: insert merged vector: %v", domain.ErrTxRetryable, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"UPDATE records SET consolidated_into = ?, updated_at = ? WHERE id = ?")
	if err != nil {
		return fmt.Errorf("%w: prepare mark: %v", domain.ErrTxRetryable, err)
	}
	defer stmt.Close()

	for _, id := range memberIDs {
		if _, err := stmt.ExecContext(ctx, merged.ID, now.UnixNano(), id); err != nil {
			return fmt.Errorf("%w: mark %q consolidated: %v", domain.ErrTxRetryable, id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", domain.ErrTxRetryable, err)
	}

	if s.vecIdx.isLoaded() {
		s.vecIdx.put(merged, append([]float32(nil), vec...))
		for _, id := range memberIDs {
			s.vecIdx.remove(id)
		}
	}
	return nil
}

// TouchAccess implements domain.RecordStore.
func (s *Store) TouchAccess(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+2)
	args = append(args, at.UTC().UnixNano(), at.UTC().UnixNano())
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}

	_, err := s.db.ExecContext(ctx,
		"UPDATE records SET access_count = access_count + 1, last_accessed_at = ?, updated_at = ? WHERE id IN ("+
			strings.Join(placeholders, ",")+")",
		args...,
	)
	if err != nil {
		return fmt.Errorf("%w: touch access: %v", domain.ErrVaultStore, err)
	}

	s.vecIdx.touch(ids, at.UTC())
	return nil
}

// GetOlderThan implements domain.RecordStore. Active records created before
// cutoff, oldest first.
func (s *Store) GetOlderThan(ctx context.Context, cutoff time.Time) ([]domain.MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		selectRecordSQL+" WHERE consolidated_into IS NULL AND created_at < ? ORDER BY created_at ASC",
		cutoff.UTC().UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: get older than: %v", domain.ErrVaultStore, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ListAll implements domain.RecordStore. Every record, tombstones included,
// ordered by creation time ascending.
func (s *Store) ListAll(ctx context.Context) ([]domain.MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectRecordSQL+" ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("%w: list all: %v", domain.ErrVaultStore, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Stats implements domain.RecordStore.
func (s *Store) Stats(ctx context.Context) (*domain.VaultStats, error) {
	stats := &domain.VaultStats{ByCategory: make(map[domain.Category]int)}

	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM records WHERE consolidated_into IS NULL",
	).Scan(&stats.Active)
	if err != nil {
		return nil, fmt.Errorf("%w: stats active: %v", domain.ErrVaultStore, err)
	}

	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM records WHERE consolidated_into IS NOT NULL",
	).Scan(&stats.Consolidated)
	if err != nil {
		return nil, fmt.Errorf("%w: stats consolidated: %v", domain.ErrVaultStore, err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT category, COUNT(*) FROM records WHERE consolidated_into IS NULL GROUP BY category",
	)
	if err != nil {
		return nil, fmt.Errorf("%w: stats categories: %v", domain.ErrVaultStore, err)
	}
	defer rows.Close()

	for rows.Next() {
		var category string
		var count int
		if err := rows.Scan(&category, &count); err != nil {
			return nil, fmt.Errorf("%w: stats scan: %v", domain.ErrVaultStore, err)
		}
		stats.ByCategory[domain.Category(category)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: stats rows: %v", domain.ErrVaultStore, err)
	}

	return stats, nil
}

// --- row scanning ---

const selectRecordSQL = `
	SELECT id, text, category, importance, access_count,
	       created_at, updated_at, last_accessed_at,
	       consolidated_into, namespace, agent_id, metadata
	FROM records`

// scanRecord reads a single record row.
func scanRecord(row interface{ Scan(dest ...any) error }) (domain.MemoryRecord, error) {
	var (
		rec          domain.MemoryRecord
		category     string
		createdAt    int64
		updatedAt    int64
		lastAccessed int64
		consolidated sql.NullString
		metaJSON     string
	)
	err := row.Scan(
		&rec.ID, &rec.Text, &category, &rec.Importance, &rec.AccessCount,
		&createdAt, &updatedAt, &lastAccessed,
		&consolidated, &rec.Namespace, &rec.AgentID, &metaJSON,
	)
	if err != nil {
		return rec, err
	}

	rec.Category = domain.Category(category)
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	rec.UpdatedAt = time.Unix(0, updatedAt).UTC()
	rec.LastAccessedAt = time.Unix(0, lastAccessed).UTC()
	if consolidated.Valid {
		rec.ConsolidatedInto = consolidated.String
	}
	if err := json.Unmarshal([]byte(metaJSON), &rec.Metadata); err != nil {
		// Corrupt metadata is logged at read, not fatal for retrieval.
		slog.Warn("vault store: corrupt metadata JSON", "id", rec.ID, "error", err)
	}
	return rec, nil
}

func scanRecords(rows *sql.Rows) ([]domain.MemoryRecord, error) {
	var records []domain.MemoryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan record: %v", domain.ErrVaultStore, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate records: %v", domain.ErrVaultStore, err)
	}
	return records, nil
}

// Compile-time interface check.
var _ domain.RecordStore = (*Store)(nil)
