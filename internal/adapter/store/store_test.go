package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"memvault/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "vault.db"), newTestLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// makeVec builds a deterministic unit-ish vector of the given dimension.
func makeVec(dim int, seed float32) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = seed + float32(i)*0.01
	}
	return v
}

func testRecord(id string, createdAt time.Time) domain.MemoryRecord {
	return domain.MemoryRecord{
		ID:         id,
		Text:       "record " + id,
		Category:   domain.CategoryFact,
		Importance: 0.7,
		CreatedAt:  createdAt,
	}
}

func TestInsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	rec := domain.MemoryRecord{
		ID:         "rec-1",
		Text:       "the deploy runs from the main branch",
		Category:   domain.CategoryProcedure,
		Importance: 0.9,
		CreatedAt:  created,
		Namespace:  "work",
		AgentID:    "agent-a",
		Metadata:   map[string]string{"source": "chat"},
	}

	if err := s.Insert(ctx, rec, makeVec(4, 0.1)); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := s.Get(ctx, "rec-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Text != rec.Text {
		t.Errorf("Text = %q, want %q", got.Text, rec.Text)
	}
	if got.Category != domain.CategoryProcedure {
		t.Errorf("Category = %q, want procedure", got.Category)
	}
	if got.Importance != 0.9 {
		t.Errorf("Importance = %v, want 0.9", got.Importance)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v (nanosecond precision)", got.CreatedAt, created)
	}
	if got.Namespace != "work" || got.AgentID != "agent-a" {
		t.Errorf("Namespace/AgentID = %q/%q", got.Namespace, got.AgentID)
	}
	if got.Metadata["source"] != "chat" {
		t.Errorf("Metadata = %v", got.Metadata)
	}
	if !got.Active() {
		t.Error("fresh record should be active")
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestInsertDuplicateID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Insert(ctx, testRecord("dup", time.Now()), makeVec(4, 0.1)); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	second := testRecord("dup", time.Now())
	second.Text = "a different text under the same id"
	err := s.Insert(ctx, second, makeVec(4, 0.2))
	if !errors.Is(err, domain.ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}

	got, err := s.Get(ctx, "dup")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Text != "record dup" {
		t.Errorf("Text = %q, original row was overwritten", got.Text)
	}
}

func TestInsertInvalidImportance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("bad", time.Now())
	rec.Importance = 1.5

	err := s.Insert(ctx, rec, makeVec(4, 0.1))
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestDimensionCommittedByFirstInsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if s.Dimension() != 0 {
		t.Fatalf("Dimension = %d before any insert, want 0", s.Dimension())
	}
	if err := s.Insert(ctx, testRecord("a", time.Now()), makeVec(8, 0.1)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if s.Dimension() != 8 {
		t.Errorf("Dimension = %d, want 8", s.Dimension())
	}

	// A differently-sized vector must fail and leave existing data intact.
	err := s.Insert(ctx, testRecord("b", time.Now()), makeVec(4, 0.1))
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("err = %v, want ErrDimensionMismatch", err)
	}
	if _, err := s.Get(ctx, "a"); err != nil {
		t.Errorf("existing record gone after mismatch: %v", err)
	}
}

func TestInitializeConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Initialize(ctx, 16); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := s.Initialize(ctx, 16); err != nil {
		t.Fatalf("Initialize same dim: %v", err)
	}
	if err := s.Initialize(ctx, 32); !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Errorf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestDimensionSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vault.db")
	ctx := context.Background()

	s, err := Open(path, newTestLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Insert(ctx, testRecord("a", time.Now()), makeVec(6, 0.2)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	s.Close()

	s2, err := Open(path, newTestLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	if s2.Dimension() != 6 {
		t.Errorf("Dimension after reopen = %d, want 6", s2.Dimension())
	}
	if _, err := s2.Get(ctx, "a"); err != nil {
		t.Errorf("record lost across reopen: %v", err)
	}
}

func TestVectorOf(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	vec := makeVec(4, 0.3)
	if err := s.Insert(ctx, testRecord("a", time.Now()), vec); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := s.VectorOf(ctx, "a")
	if err != nil {
		t.Fatalf("VectorOf: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4", len(got))
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("vec[%d] = %v, want %v", i, got[i], vec[i])
		}
	}

	if _, err := s.VectorOf(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteByIDIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Insert(ctx, testRecord("a", time.Now()), makeVec(4, 0.1)); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	removed, err := s.DeleteByID(ctx, "a")
	if err != nil || !removed {
		t.Fatalf("DeleteByID = (%v, %v), want (true, nil)", removed, err)
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("record still present after delete")
	}
	if _, err := s.VectorOf(ctx, "a"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("vector still present after delete")
	}

	removed, err = s.DeleteByID(ctx, "a")
	if err != nil || removed {
		t.Errorf("second DeleteByID = (%v, %v), want (false, nil)", removed, err)
	}
}

func TestInsertMerged(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-30 * 24 * time.Hour)
	for _, id := range []string{"m1", "m2", "m3"} {
		if err := s.Insert(ctx, testRecord(id, old), makeVec(4, 0.1)); err != nil {
			t.Fatalf("Insert %s: %v", id, err)
		}
	}

	merged := testRecord("merged", time.Now())
	merged.Text = "merged summary"
	if err := s.InsertMerged(ctx, merged, makeVec(4, 0.15), []string{"m1", "m2", "m3"}); err != nil {
		t.Fatalf("InsertMerged: %v", err)
	}

	for _, id := range []string{"m1", "m2", "m3"} {
		got, err := s.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get %s: %v", id, err)
		}
		if got.ConsolidatedInto != "merged" {
			t.Errorf("%s ConsolidatedInto = %q, want merged", id, got.ConsolidatedInto)
		}
		if got.Active() {
			t.Errorf("%s should be inactive after merge", id)
		}
	}

	got, err := s.Get(ctx, "merged")
	if err != nil {
		t.Fatalf("Get merged: %v", err)
	}
	if !got.Active() {
		t.Error("merged record should be active")
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Active != 1 || stats.Consolidated != 3 {
		t.Errorf("Stats = %d active / %d consolidated, want 1/3", stats.Active, stats.Consolidated)
	}
}

func TestInsertMergedNoMembers(t *testing.T) {
	s := newTestStore(t)

	err := s.InsertMerged(context.Background(), testRecord("m", time.Now()), makeVec(4, 0.1), nil)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestTouchAccess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Insert(ctx, testRecord("a", time.Now()), makeVec(4, 0.1)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Insert(ctx, testRecord("b", time.Now()), makeVec(4, 0.2)); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	at := time.Now().Add(time.Hour).UTC().Truncate(time.Microsecond)
	if err := s.TouchAccess(ctx, []string{"a"}, at); err != nil {
		t.Fatalf("TouchAccess: %v", err)
	}

	got, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.AccessCount != 1 {
		t.Errorf("AccessCount = %d, want 1", got.AccessCount)
	}
	if !got.LastAccessedAt.Equal(at) {
		t.Errorf("LastAccessedAt = %v, want %v", got.LastAccessedAt, at)
	}

	other, _ := s.Get(ctx, "b")
	if other.AccessCount != 0 {
		t.Errorf("untouched record AccessCount = %d, want 0", other.AccessCount)
	}

	// Empty slice is a no-op.
	if err := s.TouchAccess(ctx, nil, at); err != nil {
		t.Errorf("TouchAccess(nil): %v", err)
	}
}

func TestGetOlderThan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	old1 := testRecord("old1", now.Add(-10*24*time.Hour))
	old2 := testRecord("old2", now.Add(-8*24*time.Hour))
	fresh := testRecord("fresh", now.Add(-time.Hour))

	for _, rec := range []domain.MemoryRecord{old2, fresh, old1} {
		if err := s.Insert(ctx, rec, makeVec(4, 0.1)); err != nil {
			t.Fatalf("Insert %s: %v", rec.ID, err)
		}
	}

	aged, err := s.GetOlderThan(ctx, now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("GetOlderThan: %v", err)
	}
	if len(aged) != 2 {
		t.Fatalf("len = %d, want 2", len(aged))
	}
	// Oldest first.
	if aged[0].ID != "old1" || aged[1].ID != "old2" {
		t.Errorf("order = [%s, %s], want [old1, old2]", aged[0].ID, aged[1].ID)
	}

	// Tombstoned records are excluded.
	merged := testRecord("merged", now)
	if err := s.InsertMerged(ctx, merged, makeVec(4, 0.1), []string{"old1", "old2"}); err != nil {
		t.Fatalf("InsertMerged: %v", err)
	}
	aged, err = s.GetOlderThan(ctx, now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("GetOlderThan: %v", err)
	}
	if len(aged) != 0 {
		t.Errorf("len after merge = %d, want 0", len(aged))
	}
}

func TestListAllIncludesTombstones(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	if err := s.Insert(ctx, testRecord("a", now.Add(-2*time.Hour)), makeVec(4, 0.1)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Insert(ctx, testRecord("b", now.Add(-time.Hour)), makeVec(4, 0.2)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.InsertMerged(ctx, testRecord("c", now), makeVec(4, 0.15), []string{"a", "b"}); err != nil {
		t.Fatalf("InsertMerged: %v", err)
	}

	all, err := s.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	// Creation order.
	if all[0].ID != "a" || all[1].ID != "b" || all[2].ID != "c" {
		t.Errorf("order = [%s, %s, %s]", all[0].ID, all[1].ID, all[2].ID)
	}
}

func TestStatsByCategory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	recs := []domain.MemoryRecord{
		{ID: "p1", Text: "p1", Category: domain.CategoryPreference, Importance: 0.5, CreatedAt: time.Now()},
		{ID: "p2", Text: "p2", Category: domain.CategoryPreference, Importance: 0.5, CreatedAt: time.Now()},
		{ID: "f1", Text: "f1", Category: domain.CategoryFact, Importance: 0.5, CreatedAt: time.Now()},
	}
	for i, rec := range recs {
		if err := s.Insert(ctx, rec, makeVec(4, float32(i)*0.1+0.1)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Active != 3 {
		t.Errorf("Active = %d, want 3", stats.Active)
	}
	if stats.ByCategory[domain.CategoryPreference] != 2 {
		t.Errorf("preference count = %d, want 2", stats.ByCategory[domain.CategoryPreference])
	}
	if stats.ByCategory[domain.CategoryFact] != 1 {
		t.Errorf("fact count = %d, want 1", stats.ByCategory[domain.CategoryFact])
	}
}
