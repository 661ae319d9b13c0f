package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"memvault/internal/domain"
	"memvault/internal/infra/tracer"
)

const (
	// dedupThreshold is the similarity above which a new save is treated
	// as a duplicate of an existing record.
	dedupThreshold = 0.95

	// defaultImportance applies when a save does not specify one.
	defaultImportance = 0.7

	// saveMaxLen bounds stored record text.
	saveMaxLen = 2000

	// captureThreshold is the minimum capture score AutoSave accepts.
	captureThreshold = 0.3
)

// SaveStatus describes the outcome of a Save call.
type SaveStatus string

const (
	SaveStatusStored    SaveStatus = "stored"
	SaveStatusDuplicate SaveStatus = "duplicate"
	SaveStatusRejected  SaveStatus = "rejected"
)

// SaveOptions carries optional attributes for a new record.
type SaveOptions struct {
	Category   domain.Category
	Importance *float64 // nil = defaultImportance
	Namespace  string
	AgentID    string
	Metadata   map[string]string
}

// SaveResult reports what happened to a save. On SaveStatusDuplicate the
// Record field holds the nearest existing match instead of a new record.
type SaveResult struct {
	Status SaveStatus
	Record *domain.MemoryRecord
	Reason string
}

// VaultOption configures a Vault.
type VaultOption func(*Vault)

// WithClock overrides the vault's time source.
func WithClock(now func() time.Time) VaultOption {
	return func(v *Vault) { v.now = now }
}

// Vault composes the record store, embedding provider, and sanitizer into
// the save/recall/forget surface. All collaborators are passed in by the
// constructor; the vault holds no ambient state.
type Vault struct {
	store     domain.RecordStore
	embedder  domain.EmbeddingProvider
	sanitizer domain.Sanitizer
	logger    *slog.Logger
	now       func() time.Time
}

// NewVault creates a Vault. The embedder may be nil, in which case every
// embedding-dependent operation fails with ErrEmbedderNotConfigured. A nil
// sanitizer skips sanitization.
func NewVault(store domain.RecordStore, embedder domain.EmbeddingProvider, sanitizer domain.Sanitizer, logger *slog.Logger, opts ...VaultOption) *Vault {
	v := &Vault{
		store:     store,
		embedder:  embedder,
		sanitizer: sanitizer,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// embedOne embeds a single text, failing fast when no provider is
// configured. Never call this with a transaction open: embedding is remote
// I/O and transactions stay short.
func (v *Vault) embedOne(ctx context.Context, text string) ([]float32, error) {
	if v.embedder == nil {
		return nil, domain.ErrEmbedderNotConfigured
	}
	vecs, err := v.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("%w: provider %q returned no vector", domain.ErrEmbeddingFailed, v.embedder.Name())
	}
	return vecs[0], nil
}

// Save validates, sanitizes, dedups, and stores text as a new record.
// Flagged or malformed text is a soft rejection; a similarity hit at the
// dedup threshold short-circuits and surfaces the existing match.
func (v *Vault) Save(ctx context.Context, text string, opts SaveOptions) (*SaveResult, error) {
	ctx, span := tracer.StartSpan(ctx, "vault.save")
	defer span.End()

	trimmed := strings.TrimSpace(text)
	if trimmed == "" || len(trimmed) > saveMaxLen {
		return &SaveResult{Status: SaveStatusRejected, Reason: "text empty or too long"}, nil
	}
	if opts.Importance != nil && (*opts.Importance < 0 || *opts.Importance > 1) {
		return nil, domain.NewDomainError("Vault.Save", domain.ErrInvalidInput,
			fmt.Sprintf("importance %v out of [0,1]", *opts.Importance))
	}

	cleaned := trimmed
	if v.sanitizer != nil {
		res, err := v.sanitizer.Sanitize(ctx, trimmed)
		if err != nil {
			tracer.RecordError(span, err)
			return nil, domain.WrapOp("Vault.Save", err)
		}
		if res.Flagged {
			v.logger.Warn("save rejected by sanitizer", "reason", res.Reason)
			return &SaveResult{Status: SaveStatusRejected, Reason: res.Reason}, nil
		}
		cleaned = res.Cleaned
	}

	vec, err := v.embedOne(ctx, cleaned)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, domain.WrapOp("Vault.Save", err)
	}

	hits, err := v.store.FindSimilar(ctx, vec, dedupThreshold)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, domain.WrapOp("Vault.Save", err)
	}
	if len(hits) > 0 {
		nearest := hits[0].Record
		v.logger.Debug("save deduplicated",
			"existing_id", nearest.ID,
			"similarity", hits[0].Similarity,
		)
		return &SaveResult{
			Status: SaveStatusDuplicate,
			Record: &nearest,
			Reason: fmt.Sprintf("duplicate of %s (similarity %.3f)", nearest.ID, hits[0].Similarity),
		}, nil
	}

	importance := defaultImportance
	if opts.Importance != nil {
		importance = *opts.Importance
	}
	category := opts.Category
	if category == "" {
		category = domain.CategoryOther
	}

	now := v.now().UTC()
	rec := domain.MemoryRecord{
		ID:             newID(now),
		Text:           cleaned,
		Category:       category,
		Importance:     importance,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastAccessedAt: now,
		Namespace:      opts.Namespace,
		AgentID:        opts.AgentID,
		Metadata:       opts.Metadata,
	}

	if err := v.store.Insert(ctx, rec, vec); err != nil {
		tracer.RecordError(span, err)
		return nil, domain.WrapOp("Vault.Save", err)
	}

	v.logger.Info("memory saved", "id", rec.ID, "category", rec.Category, "importance", rec.Importance)
	tracer.SetOK(span)
	return &SaveResult{Status: SaveStatusStored, Record: &rec}, nil
}

// AutoSave runs the capture heuristics over text and stores it only when the
// score clears captureThreshold. The evaluator's category applies unless opts
// already names one; everything else follows Save.
func (v *Vault) AutoSave(ctx context.Context, text string, opts SaveOptions) (*SaveResult, error) {
	eval := EvaluateCapture(text)
	if eval.Score < captureThreshold {
		v.logger.Debug("auto-save skipped", "score", eval.Score)
		return &SaveResult{
			Status: SaveStatusRejected,
			Reason: fmt.Sprintf("capture score %.2f below threshold", eval.Score),
		}, nil
	}
	if opts.Category == "" {
		opts.Category = eval.Category
	}
	return v.Save(ctx, text, opts)
}

// Recall embeds the query, over-fetches nearest neighbors, re-ranks them by
// the combined score, and returns the top k. Exactly the returned records
// get their access counters bumped.
func (v *Vault) Recall(ctx context.Context, query string, k int, filter *domain.RecordFilter) ([]domain.ScoredRecord, error) {
	ctx, span := tracer.StartSpan(ctx, "vault.recall",
		trace.WithAttributes(tracer.IntAttr("k", k)))
	defer span.End()

	if k <= 0 {
		k = 5
	}

	vec, err := v.embedOne(ctx, query)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, domain.WrapOp("Vault.Recall", err)
	}

	candidates, err := v.store.KNNSearch(ctx, vec, k, filter)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, domain.WrapOp("Vault.Recall", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	now := v.now().UTC()
	scored := make([]domain.ScoredRecord, len(candidates))
	for i, c := range candidates {
		scored[i] = domain.ScoredRecord{
			Record:     c.Record,
			Similarity: c.Similarity,
			Score:      Score(c.Similarity, c.Record.CreatedAt, c.Record.Importance, c.Record.AccessCount, now),
		}
	}

	// Stable sort: score ties keep the original distance order.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > k {
		scored = scored[:k]
	}

	ids := make([]string, len(scored))
	for i := range scored {
		ids[i] = scored[i].Record.ID
	}
	if err := v.store.TouchAccess(ctx, ids, now); err != nil {
		tracer.RecordError(span, err)
		return nil, domain.WrapOp("Vault.Recall", err)
	}
	for i := range scored {
		scored[i].Record.AccessCount++
		scored[i].Record.LastAccessedAt = now
	}

	v.logger.Debug("recall complete", "query_len", len(query), "returned", len(scored))
	tracer.SetOK(span)
	return scored, nil
}

// Forget hard-deletes a record. The argument is tried as an ID first; when
// no row matches it is treated as a query and the single nearest neighbor
// is deleted. Reports whether anything was removed.
func (v *Vault) Forget(ctx context.Context, idOrQuery string) (bool, error) {
	ctx, span := tracer.StartSpan(ctx, "vault.forget")
	defer span.End()

	removed, err := v.store.DeleteByID(ctx, idOrQuery)
	if err != nil {
		tracer.RecordError(span, err)
		return false, domain.WrapOp("Vault.Forget", err)
	}
	if removed {
		v.logger.Info("memory forgotten", "id", idOrQuery)
		return true, nil
	}

	vec, err := v.embedOne(ctx, idOrQuery)
	if err != nil {
		tracer.RecordError(span, err)
		return false, domain.WrapOp("Vault.Forget", err)
	}
	candidates, err := v.store.KNNSearch(ctx, vec, 1, nil)
	if err != nil {
		tracer.RecordError(span, err)
		return false, domain.WrapOp("Vault.Forget", err)
	}
	if len(candidates) == 0 {
		return false, nil
	}

	nearest := candidates[0].Record.ID
	removed, err = v.store.DeleteByID(ctx, nearest)
	if err != nil {
		tracer.RecordError(span, err)
		return false, domain.WrapOp("Vault.Forget", err)
	}
	if removed {
		v.logger.Info("memory forgotten by query", "id", nearest)
	}
	return removed, nil
}

// Export returns every record, tombstones included, ordered by creation
// time ascending.
func (v *Vault) Export(ctx context.Context) ([]domain.MemoryRecord, error) {
	return v.store.ListAll(ctx)
}

// Import embeds and inserts each record, generating a new ID when absent.
// Imported text passes through the same sanitizer gate as Save. Per-record
// failures are logged and skipped; returns the number stored.
func (v *Vault) Import(ctx context.Context, records []domain.MemoryRecord) (int, error) {
	if v.embedder == nil {
		return 0, domain.ErrEmbedderNotConfigured
	}

	stored := 0
	for _, rec := range records {
		if rec.ID == "" {
			rec.ID = newID(v.now().UTC())
		}
		if rec.Category == "" {
			rec.Category = domain.CategoryOther
		}

		if v.sanitizer != nil {
			res, err := v.sanitizer.Sanitize(ctx, rec.Text)
			if err != nil {
				v.logger.Warn("import: sanitize failed, skipping record", "id", rec.ID, "error", err)
				continue
			}
			if res.Flagged {
				v.logger.Warn("import: record skipped", "id", rec.ID,
					"error", fmt.Errorf("%w: %s", domain.ErrContentFlagged, res.Reason))
				continue
			}
			rec.Text = res.Cleaned
		}

		vec, err := v.embedOne(ctx, rec.Text)
		if err != nil {
			v.logger.Warn("import: embed failed, skipping record", "id", rec.ID, "error", err)
			continue
		}
		if err := v.store.Insert(ctx, rec, vec); err != nil {
			v.logger.Warn("import: insert failed, skipping record", "id", rec.ID, "error", err)
			continue
		}
		stored++
	}

	v.logger.Info("import complete", "stored", stored, "skipped", len(records)-stored)
	return stored, nil
}

// Stats reports store contents.
func (v *Vault) Stats(ctx context.Context) (*domain.VaultStats, error) {
	return v.store.Stats(ctx)
}

// newID returns a ULID for the given time. ULIDs sort lexically by creation
// time, which keeps the consolidated-into forest forward-only by
// construction: a successor's ID always compares greater than its members'.
func newID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
