package embedding

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"

	"memvault/internal/domain"
)

// cacheEntry is one text/vector pair in eviction order.
type cacheEntry struct {
	key uint64
	vec []float32
}

// CachedEmbedder keeps an LRU cache of single-text embeddings in front of a
// provider. Keys mix the provider's name and dimensionality into the text
// hash, so an entry can never answer for a different provider behind the
// same cache. Batch calls bypass the cache entirely: recall queries repeat,
// imports do not.
type CachedEmbedder struct {
	inner domain.EmbeddingProvider
	cap   int
	scope string

	mu      sync.Mutex
	entries map[uint64]*list.Element
	order   *list.List // least recently used at the front
	hits    uint64
	misses  uint64
}

// NewCachedEmbedder wraps inner with an LRU embedding cache of size entries.
// A non-positive size returns inner unwrapped.
func NewCachedEmbedder(inner domain.EmbeddingProvider, size int) domain.EmbeddingProvider {
	if size <= 0 {
		return inner
	}
	return &CachedEmbedder{
		inner:   inner,
		cap:     size,
		scope:   fmt.Sprintf("%s/%d", inner.Name(), inner.Dimensions()),
		entries: make(map[uint64]*list.Element, size),
		order:   list.New(),
	}
}

// key hashes the provider scope and text together.
func (c *CachedEmbedder) key(text string) uint64 {
	d := xxhash.New()
	d.WriteString(c.scope)
	d.Write([]byte{0})
	d.WriteString(text)
	return d.Sum64()
}

// Embed implements domain.EmbeddingProvider. Cached vectors are returned as
// copies, so a caller mutating its result cannot poison later hits.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) != 1 {
		return c.inner.Embed(ctx, texts)
	}
	key := c.key(texts[0])

	c.mu.Lock()
	if elem, ok := c.entries[key]; ok {
		c.order.MoveToBack(elem)
		c.hits++
		vec := cloneVec(elem.Value.(*cacheEntry).vec)
		c.mu.Unlock()
		return [][]float32{vec}, nil
	}
	c.misses++
	c.mu.Unlock()

	result, err := c.inner.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 || len(result[0]) == 0 {
		return result, nil
	}

	c.mu.Lock()
	c.store(key, cloneVec(result[0]))
	c.mu.Unlock()
	return result, nil
}

// store inserts under c.mu, evicting from the front at capacity.
func (c *CachedEmbedder) store(key uint64, vec []float32) {
	if elem, ok := c.entries[key]; ok {
		elem.Value.(*cacheEntry).vec = vec
		c.order.MoveToBack(elem)
		return
	}
	for c.order.Len() >= c.cap {
		front := c.order.Front()
		c.order.Remove(front)
		delete(c.entries, front.Value.(*cacheEntry).key)
	}
	c.entries[key] = c.order.PushBack(&cacheEntry{key: key, vec: vec})
}

// Metrics reports cache hits and misses since construction.
func (c *CachedEmbedder) Metrics() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Dimensions implements domain.EmbeddingProvider.
func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

// Name implements domain.EmbeddingProvider.
func (c *CachedEmbedder) Name() string { return c.inner.Name() }

func cloneVec(v []float32) []float32 {
	return append([]float32(nil), v...)
}

// Compile-time interface check.
var _ domain.EmbeddingProvider = (*CachedEmbedder)(nil)
