package embed

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// Cached memoizes embeddings of repeated texts (mostly recall queries).
type Cached struct {
	inner Embedder
	cache *ristretto.Cache
}

// NewCached wraps inner with a bounded cache holding roughly maxItems vectors.
func NewCached(inner Embedder, maxItems int64) (*Cached, error) {
	if maxItems <= 0 {
		maxItems = 4096
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxItems * 10,
		MaxCost:     maxItems,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Cached{inner: inner, cache: cache}, nil
}

func (c *Cached) Model() string   { return c.inner.Model() }
func (c *Cached) Dimensions() int { return c.inner.Dimensions() }

// Embed returns a cached vector when present. Callers must not mutate the result.
func (c *Cached) Embed(ctx context.Context, text string) ([]float64, error) {
	key := c.inner.Model() + "\x00" + text
	if v, ok := c.cache.Get(key); ok {
		return v.([]float64), nil
	}
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, vec, 1)
	return vec, nil
}

// Wait blocks until pending cache writes are visible.
func (c *Cached) Wait() { c.cache.Wait() }

// Close releases the cache goroutines.
func (c *Cached) Close() { c.cache.Close() }
