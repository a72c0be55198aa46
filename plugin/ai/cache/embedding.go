package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hrygo/assetvault/plugin/ai"
)

// EmbeddingCache wraps an EmbeddingService and memoizes single-text embeddings.
// Search traffic repeats queries often; batch calls go straight to the provider.
type EmbeddingCache struct {
	ai.EmbeddingService

	lru    *LRUCache[[]float32]
	ttl    time.Duration
	hits   atomic.Int64
	misses atomic.Int64

	observe func(hit bool)
}

// NewEmbeddingCache creates an EmbeddingCache holding up to capacity vectors for ttl.
func NewEmbeddingCache(svc ai.EmbeddingService, capacity int, ttl time.Duration) *EmbeddingCache {
	return &EmbeddingCache{
		EmbeddingService: svc,
		lru:              NewLRUCache[[]float32](capacity, ttl),
		ttl:              ttl,
	}
}

// OnLookup registers a callback invoked after every cache lookup.
// It must be set before the cache is shared between goroutines.
func (c *EmbeddingCache) OnLookup(fn func(hit bool)) *EmbeddingCache {
	c.observe = fn
	return c
}

func (c *EmbeddingCache) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)
	if vector, ok := c.lru.Get(key); ok {
		c.hits.Add(1)
		c.notify(true)
		return vector, nil
	}
	c.misses.Add(1)
	c.notify(false)

	vector, err := c.EmbeddingService.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.lru.Set(key, vector, c.ttl)
	return vector, nil
}

// Stats returns the cache hit and miss counts.
func (c *EmbeddingCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Sweep drops expired vectors and returns how many were removed.
func (c *EmbeddingCache) Sweep() int {
	return c.lru.CleanupExpired()
}

// Len returns the number of cached vectors.
func (c *EmbeddingCache) Len() int {
	return c.lru.Size()
}

// RunJanitor sweeps the cache every interval until ctx is done.
func (c *EmbeddingCache) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := c.Sweep()
			hits, misses := c.Stats()
			slog.Debug("query embedding cache swept",
				slog.Int("removed", removed),
				slog.Int("size", c.Len()),
				slog.Int64("hits", hits),
				slog.Int64("misses", misses))
		}
	}
}

func (c *EmbeddingCache) notify(hit bool) {
	if c.observe != nil {
		c.observe(hit)
	}
}

func (c *EmbeddingCache) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return c.Model() + ":" + hex.EncodeToString(sum[:])
}

var _ ai.EmbeddingService = (*EmbeddingCache)(nil)
