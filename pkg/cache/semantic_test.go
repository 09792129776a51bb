package cache_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/steer/pkg/cache"
	"github.com/pario-ai/steer/pkg/cache/sqlite"
)

// vocabEmbedder maps prompts onto fixed axes by keyword.
func vocabEmbedder() cache.EmbedderFunc {
	return func(_ context.Context, text string) ([]float64, error) {
		if strings.Contains(text, "fail") {
			return nil, errors.New("embedding backend down")
		}
		v := make([]float64, 3)
		for i, w := range []string{"weather", "stock", "recipe"} {
			if strings.Contains(text, w) {
				v[i] = 1
			}
		}
		if strings.Contains(text, "today") {
			v[0] += 0.1
		}
		return v, nil
	}
}

func newTestCache(t *testing.T, emb cache.Embedder) *cache.SemanticCache {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return cache.New(store, emb, cache.Options{Prefix: "test", TTL: time.Hour}, nil)
}

func TestSemanticHit(t *testing.T) {
	c := newTestCache(t, vocabEmbedder())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "what is the weather", "sunny"))
	require.NoError(t, c.Set(ctx, "latest stock prices", "up"))

	hit, err := c.Get(ctx, "weather today please")
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, "sunny", hit.Response)
	assert.Equal(t, "what is the weather", hit.OriginalPrompt)
	assert.Greater(t, hit.Similarity, 0.85)
}

func TestSemanticMissBelowThreshold(t *testing.T) {
	c := newTestCache(t, vocabEmbedder())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "weather report", "sunny"))
	hit, err := c.Get(ctx, "a recipe for soup")
	require.NoError(t, err)
	assert.Nil(t, hit)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Entries)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(0), stats.Hits)
}

func TestSemanticEmbeddingFailureIsMiss(t *testing.T) {
	c := newTestCache(t, vocabEmbedder())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "weather", "sunny"))
	hit, err := c.Get(ctx, "weather fail")
	require.NoError(t, err)
	assert.Nil(t, hit)

	require.NoError(t, c.Set(ctx, "fail to store", "x"))
	stats, _ := c.Stats(ctx)
	assert.Equal(t, int64(1), stats.Entries, "failed embedding skips the write")
}

func TestSemanticKeyAndClear(t *testing.T) {
	c := newTestCache(t, vocabEmbedder())
	ctx := context.Background()

	assert.True(t, strings.HasPrefix(c.Key("p"), "test:"))
	assert.Equal(t, c.Key("p"), c.Key("p"))
	assert.NotEqual(t, c.Key("p"), c.Key("q"))

	require.NoError(t, c.Set(ctx, "weather", "sunny"))
	require.NoError(t, c.Set(ctx, "weather", "rainy"))
	hit, err := c.Get(ctx, "weather")
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, "rainy", hit.Response, "same prompt overwrites")

	require.NoError(t, c.Clear(ctx))
	hit, err = c.Get(ctx, "weather")
	require.NoError(t, err)
	assert.Nil(t, hit)
}
