package domain

import "time"

// Category classifies what kind of knowledge a memory record holds.
type Category string

const (
	CategoryPreference Category = "preference"
	CategoryFact       Category = "fact"
	CategoryDecision   Category = "decision"
	CategoryEntity     Category = "entity"
	CategoryProcedure  Category = "procedure"
	CategoryContext    Category = "context"
	CategoryOther      Category = "other"
)

// Categories lists every valid category.
var Categories = []Category{
	CategoryPreference,
	CategoryFact,
	CategoryDecision,
	CategoryEntity,
	CategoryProcedure,
	CategoryContext,
	CategoryOther,
}

// ParseCategory maps a string to a known Category, falling back to
// CategoryOther for unknown values.
func ParseCategory(s string) Category {
	c := Category(s)
	for _, known := range Categories {
		if c == known {
			return c
		}
	}
	return CategoryOther
}

// MemoryRecord is a stored memory entry. A record is active until a
// consolidation pass merges it into a successor, at which point
// ConsolidatedInto carries the successor's ID and the record becomes a
// tombstone. Tombstones are never hard-deleted by consolidation; only an
// explicit forget removes rows.
type MemoryRecord struct {
	ID               string            `json:"id"`
	Text             string            `json:"text"`
	Category         Category          `json:"category"`
	Importance       float64           `json:"importance"` // [0,1]
	AccessCount      int64             `json:"access_count"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	LastAccessedAt   time.Time         `json:"last_accessed_at"`
	ConsolidatedInto string            `json:"consolidated_into,omitempty"` // empty = active
	Namespace        string            `json:"namespace,omitempty"`
	AgentID          string            `json:"agent_id,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// Active reports whether the record has not been consolidated away.
func (r MemoryRecord) Active() bool { return r.ConsolidatedInto == "" }

// RecordFilter narrows search and listing operations. Zero-valued fields
// match everything.
type RecordFilter struct {
	Category  Category
	Namespace string
	AgentID   string
}

// Matches reports whether the record passes the filter.
func (f *RecordFilter) Matches(r MemoryRecord) bool {
	if f == nil {
		return true
	}
	if f.Category != "" && r.Category != f.Category {
		return false
	}
	if f.Namespace != "" && r.Namespace != f.Namespace {
		return false
	}
	if f.AgentID != "" && r.AgentID != f.AgentID {
		return false
	}
	return true
}

// Candidate pairs a record with its cosine similarity to a query vector.
type Candidate struct {
	Record     MemoryRecord
	Similarity float64
}

// ScoredRecord is a recall result: the record, its raw similarity, and the
// final rank score combining similarity, recency, importance, and access
// frequency.
type ScoredRecord struct {
	Record     MemoryRecord `json:"record"`
	Similarity float64      `json:"similarity"`
	Score      float64      `json:"score"`
}

// VaultStats summarizes store contents.
type VaultStats struct {
	Active       int              `json:"active"`
	Consolidated int              `json:"consolidated"`
	ByCategory   map[Category]int `json:"by_category"`
}
