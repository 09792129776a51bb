package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/steer/pkg/models"
)

// DefaultThreshold is the minimum cosine similarity for a hit.
const DefaultThreshold = 0.85

// Options configures a SemanticCache.
type Options struct {
	Prefix    string
	TTL       time.Duration
	Threshold float64
}

// SemanticCache serves responses for prompts similar to ones seen before.
// Lookups scan every live entry under the prefix.
type SemanticCache struct {
	store    Store
	embedder Embedder
	prefix   string
	ttl      time.Duration
	thresh   float64
	logger   *zap.Logger
	now      func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a SemanticCache over store.
func New(store Store, embedder Embedder, opts Options, logger *zap.Logger) *SemanticCache {
	if opts.Prefix == "" {
		opts.Prefix = "semantic_cache"
	}
	if opts.Threshold == 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SemanticCache{
		store:    store,
		embedder: embedder,
		prefix:   opts.Prefix,
		ttl:      opts.TTL,
		thresh:   opts.Threshold,
		logger:   logger.Named("cache"),
		now:      time.Now,
	}
}

// Key returns the namespaced key for prompt.
func (c *SemanticCache) Key(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return c.namespace() + hex.EncodeToString(sum[:])
}

func (c *SemanticCache) namespace() string {
	return c.prefix + ":"
}

// Set stores response for prompt. An embedding failure skips the write.
func (c *SemanticCache) Set(ctx context.Context, prompt, response string) error {
	vec, err := c.embedder.Embed(ctx, prompt)
	if err != nil {
		c.logger.Warn("skip cache write: embedding failed", zap.Error(err))
		return nil
	}
	entry := models.CacheEntry{
		Prompt:    prompt,
		Response:  response,
		Embedding: vec,
		Timestamp: c.now().UTC(),
		TTL:       c.ttl,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := c.store.Set(ctx, c.Key(prompt), data, c.ttl); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Get returns the most similar cached response if it clears the threshold.
// A miss, including an embedding failure, returns nil and no error.
func (c *SemanticCache) Get(ctx context.Context, prompt string) (*models.CacheHit, error) {
	query, err := c.embedder.Embed(ctx, prompt)
	if err != nil {
		c.logger.Warn("cache miss: embedding failed", zap.Error(err))
		c.misses.Add(1)
		return nil, nil
	}

	keys, err := c.store.Keys(ctx, c.namespace())
	if err != nil {
		c.misses.Add(1)
		return nil, fmt.Errorf("cache keys: %w", err)
	}

	var best *models.CacheEntry
	bestSim := -2.0
	for _, key := range keys {
		data, err := c.store.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			c.misses.Add(1)
			return nil, fmt.Errorf("cache get %s: %w", key, err)
		}
		var entry models.CacheEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			c.logger.Debug("skip undecodable cache entry", zap.String("key", key), zap.Error(err))
			continue
		}
		if sim := Cosine(query, entry.Embedding); sim > bestSim {
			bestSim = sim
			e := entry
			best = &e
		}
	}

	if best == nil || bestSim < c.thresh {
		c.misses.Add(1)
		return nil, nil
	}
	c.hits.Add(1)
	return &models.CacheHit{
		Response:       best.Response,
		Similarity:     bestSim,
		OriginalPrompt: best.Prompt,
	}, nil
}

// Clear deletes every entry under the prefix.
func (c *SemanticCache) Clear(ctx context.Context) error {
	keys, err := c.store.Keys(ctx, c.namespace())
	if err != nil {
		return fmt.Errorf("cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.store.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	return nil
}

// Stats reports entry count and hit/miss counters.
func (c *SemanticCache) Stats(ctx context.Context) (models.CacheStats, error) {
	keys, err := c.store.Keys(ctx, c.namespace())
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return models.CacheStats{
		Entries: int64(len(keys)),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}, nil
}
