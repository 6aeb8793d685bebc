package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openaleph/openaleph-search/internal/config"
)

func TestDisabledCacheIsNoop(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)
	assert.False(t, c.Enabled())

	ctx := context.Background()
	assert.Empty(t, c.GetMany(ctx, "idx", []string{"a", "b"}))
	c.SetMany(ctx, "idx", map[string]map[string]interface{}{
		"a": {"id": "a"},
	})
	c.Invalidate(ctx, "idx", "a")
	assert.NoError(t, c.Close())
}

func TestNilReceiverIsSafe(t *testing.T) {
	var c *Cache
	assert.False(t, c.Enabled())
	assert.Empty(t, c.GetMany(context.Background(), "idx", []string{"a"}))
}

func TestEmptyURLDisables(t *testing.T) {
	c, err := New(&config.CacheSettings{})
	require.NoError(t, err)
	assert.False(t, c.Enabled())
}

func TestMalformedURL(t *testing.T) {
	_, err := New(&config.CacheSettings{RedisURL: "not a url"})
	assert.Error(t, err)
}

func TestEnabledCacheKey(t *testing.T) {
	c, err := New(&config.CacheSettings{
		RedisURL: "redis://localhost:6379/0",
		Prefix:   "oas",
	})
	require.NoError(t, err)
	assert.True(t, c.Enabled())
	assert.Equal(t, "oas:openaleph-entity-things-v1:abc", c.key("openaleph-entity-things-v1", "abc"))
	assert.NoError(t, c.Close())
}
