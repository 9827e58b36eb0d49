// Package ranker finds the corpus item most similar to a query, independent
// of the vector index.
package ranker

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/xhad/tutor/internal/models"
	"github.com/xhad/tutor/internal/types"
)

// Cosine returns dot(a,b) / (|a| * |b|). It is 0 when either vector has zero
// norm or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Cache stores item embeddings across ranking calls.
type Cache interface {
	Get(model, itemID string) (models.Vector, bool)
	Put(model, itemID string, v models.Vector)
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	vectors map[string]models.Vector
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{vectors: make(map[string]models.Vector)}
}

func (c *MemoryCache) Get(model, itemID string) (models.Vector, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.vectors[model+"\x00"+itemID]
	return v, ok
}

func (c *MemoryCache) Put(model, itemID string, v models.Vector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vectors[model+"\x00"+itemID] = v
}

// Ranked is the winning item and its similarity to the query.
type Ranked struct {
	Item  models.CorpusItem
	Score float64
}

type Ranker struct {
	embedder types.Embedder
	cache    Cache
}

// New returns a Ranker. A nil cache gets a MemoryCache.
func New(embedder types.Embedder, cache Cache) *Ranker {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Ranker{embedder: embedder, cache: cache}
}

// FindMostSimilar returns the corpus item closest to query, or nil for an
// empty corpus. Ties keep the earlier item. Items without a usable embedding
// are embedded from their title and summary and cached; the corpus itself is
// not modified.
func (r *Ranker) FindMostSimilar(ctx context.Context, query string, corpus []models.CorpusItem) (*Ranked, error) {
	if len(corpus) == 0 {
		return nil, nil
	}

	q, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var best *Ranked
	for _, item := range corpus {
		v, err := r.itemVector(ctx, item)
		if err != nil {
			return nil, fmt.Errorf("embed corpus item %s: %w", item.ID, err)
		}

		score := 0.0
		if v.Comparable(q) {
			score = Cosine(q.Values, v.Values)
		}
		if best == nil || score > best.Score {
			best = &Ranked{Item: item, Score: score}
		}
	}
	return best, nil
}

func (r *Ranker) itemVector(ctx context.Context, item models.CorpusItem) (models.Vector, error) {
	model := r.embedder.Model()
	if item.Embedding != nil && item.Embedding.Model == model {
		return *item.Embedding, nil
	}
	if item.ID != "" {
		if v, ok := r.cache.Get(model, item.ID); ok {
			return v, nil
		}
	}

	v, err := r.embedder.Embed(ctx, ItemText(item))
	if err != nil {
		return models.Vector{}, err
	}
	if item.ID != "" {
		r.cache.Put(model, item.ID, v)
	}
	return v, nil
}

// ItemText is the text embedded for a corpus item.
func ItemText(item models.CorpusItem) string {
	if item.Summary == "" {
		return item.Title
	}
	return item.Title + "\n" + item.Summary
}
