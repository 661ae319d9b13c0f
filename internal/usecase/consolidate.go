package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"memvault/internal/domain"
	"memvault/internal/infra/tracer"
)

const (
	// consolidationMinAge keeps fresh records out of consolidation; only
	// records older than this are eligible for clustering.
	consolidationMinAge = 7 * 24 * time.Hour

	// consolidationSimThreshold is the pairwise cosine similarity at which
	// two aged records are considered near-duplicates.
	consolidationSimThreshold = 0.85
)

// ConsolidationReport summarizes one consolidation run.
type ConsolidationReport struct {
	Examined int           `json:"examined"`
	Clusters int           `json:"clusters"`
	Merged   int           `json:"merged"` // member records tombstoned
	Duration time.Duration `json:"duration"`
}

// ConsolidatorOption configures a Consolidator.
type ConsolidatorOption func(*Consolidator)

// WithConsolidatorClock overrides the consolidator's time source.
func WithConsolidatorClock(now func() time.Time) ConsolidatorOption {
	return func(c *Consolidator) { c.now = now }
}

// Consolidator clusters aged near-duplicate records and merges each cluster
// into a single successor, tombstoning the members. Runs are single-flight:
// a run that starts while another is in progress returns immediately.
type Consolidator struct {
	store    domain.RecordStore
	embedder domain.EmbeddingProvider
	logger   *slog.Logger
	now      func() time.Time
	running  atomic.Bool
}

func NewConsolidator(store domain.RecordStore, embedder domain.EmbeddingProvider, logger *slog.Logger, opts ...ConsolidatorOption) *Consolidator {
	c := &Consolidator{
		store:    store,
		embedder: embedder,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// member pairs an eligible record with its stored embedding.
type member struct {
	record    domain.MemoryRecord
	embedding []float32
}

// Run executes one consolidation pass. A nil report with nil error means
// another run was already in progress.
func (c *Consolidator) Run(ctx context.Context) (*ConsolidationReport, error) {
	if !c.running.CompareAndSwap(false, true) {
		c.logger.Debug("consolidation already running, skipping")
		return nil, nil
	}
	defer c.running.Store(false)

	ctx, span := tracer.StartSpan(ctx, "consolidate.run")
	defer span.End()

	if c.embedder == nil {
		return nil, domain.ErrEmbedderNotConfigured
	}

	start := c.now().UTC()
	cutoff := start.Add(-consolidationMinAge)

	aged, err := c.store.GetOlderThan(ctx, cutoff)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("%w: fetch aged records: %v", domain.ErrConsolidation, err)
	}

	report := &ConsolidationReport{Examined: len(aged)}
	if len(aged) < 2 {
		report.Duration = c.now().UTC().Sub(start)
		return report, nil
	}

	members := make([]member, 0, len(aged))
	for _, rec := range aged {
		vec, err := c.store.VectorOf(ctx, rec.ID)
		if err != nil {
			c.logger.Warn("consolidation: missing vector, skipping record", "id", rec.ID, "error", err)
			continue
		}
		members = append(members, member{record: rec, embedding: vec})
	}

	clusters := clusterBySimilarity(members, consolidationSimThreshold)
	span.AddEvent("clustered", trace.WithAttributes(
		tracer.IntAttr("examined", report.Examined),
		tracer.IntAttr("clusters", len(clusters)),
	))

	for _, cluster := range clusters {
		if len(cluster) < 2 {
			continue
		}
		if err := c.mergeCluster(ctx, cluster); err != nil {
			c.logger.Error("consolidation: cluster merge failed",
				"seed_id", cluster[0].record.ID,
				"size", len(cluster),
				"retryable", domain.IsRetryableError(err),
				"error", err,
			)
			continue
		}
		report.Clusters++
		report.Merged += len(cluster)
	}

	report.Duration = c.now().UTC().Sub(start)
	c.logger.Info("consolidation run complete",
		"examined", report.Examined,
		"clusters", report.Clusters,
		"merged", report.Merged,
		"duration", report.Duration,
	)
	tracer.SetOK(span)
	return report, nil
}

// mergeCluster builds the successor record for one cluster, embeds its text,
// and commits the merge. Insert and member tombstoning happen in one store
// transaction, so a failure leaves the cluster untouched.
func (c *Consolidator) mergeCluster(ctx context.Context, cluster []member) error {
	seed := cluster[0].record

	texts := make([]string, len(cluster))
	importance := seed.Importance
	memberIDs := make([]string, len(cluster))
	for i, m := range cluster {
		texts[i] = m.record.Text
		memberIDs[i] = m.record.ID
		if m.record.Importance > importance {
			importance = m.record.Importance
		}
	}
	mergedText := strings.Join(texts, "\n\n")

	vecs, err := c.embedder.Embed(ctx, []string{mergedText})
	if err != nil {
		return fmt.Errorf("embed merged text: %w", err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return fmt.Errorf("%w: provider %q returned no vector", domain.ErrEmbeddingFailed, c.embedder.Name())
	}

	now := c.now().UTC()
	merged := domain.MemoryRecord{
		ID:             newID(now),
		Text:           mergedText,
		Category:       seed.Category,
		Importance:     importance,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastAccessedAt: now,
		Namespace:      seed.Namespace,
		AgentID:        seed.AgentID,
		Metadata:       seed.Metadata,
	}

	if err := c.store.InsertMerged(ctx, merged, vecs[0], memberIDs); err != nil {
		return fmt.Errorf("insert merged record: %w", err)
	}

	c.logger.Debug("cluster merged",
		"merged_id", merged.ID,
		"members", len(memberIDs),
		"category", merged.Category,
	)
	return nil
}

// clusterBySimilarity groups members greedily: scanning in creation order,
// each unclaimed record seeds a cluster of the unclaimed records within the
// threshold of the seed itself. Neighbors keep nearest-first order, not time
// order, and a claimed record never joins a second cluster in the same pass.
func clusterBySimilarity(members []member, threshold float64) [][]member {
	claimed := make([]bool, len(members))
	var clusters [][]member

	for i := range members {
		if claimed[i] {
			continue
		}
		claimed[i] = true

		type neighbor struct {
			idx int
			sim float64
		}
		var near []neighbor
		for j := range members {
			if claimed[j] {
				continue
			}
			if sim := vectorCosine(members[j].embedding, members[i].embedding); sim >= threshold {
				near = append(near, neighbor{idx: j, sim: sim})
			}
		}
		sort.SliceStable(near, func(a, b int) bool { return near[a].sim > near[b].sim })

		cluster := []member{members[i]}
		for _, n := range near {
			cluster = append(cluster, members[n.idx])
			claimed[n.idx] = true
		}
		clusters = append(clusters, cluster)
	}
	return clusters
}

// vectorCosine computes cosine similarity between two stored embeddings.
func vectorCosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
