// Package embedding holds helpers shared by the embedder implementations.
package embedding

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"localrag/internal/domain"
)

// Cached memoizes embeddings of repeated texts. It is meant for the query
// path, where the same question is often asked more than once.
type Cached struct {
	inner domain.Embedder
	cache *cache.Cache
}

func NewCached(inner domain.Embedder, ttl, cleanupInterval time.Duration) *Cached {
	return &Cached{inner: inner, cache: cache.New(ttl, cleanupInterval)}
}

func (c *Cached) Name() string { return c.inner.Name() }

// Embed returns a cached vector when present. Failures are never cached.
// Callers must not modify the returned slice.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return v.([]float32), nil
	}
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(text, vec)
	return vec, nil
}

// Flush drops every cached vector.
func (c *Cached) Flush() { c.cache.Flush() }
