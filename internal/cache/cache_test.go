package cache

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/sipanop/webgis/api/internal/config"
	"github.com/sipanop/webgis/api/internal/models"
	"github.com/sipanop/webgis/api/internal/tiles"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	tile := tiles.Tile{Z: 16, X: 53283, Y: 34840}

	assert.Equal(t, "tile:nops:3575030002:mvt:16:53283:34840",
		TileKey(models.LayerNop, "3575030002", tiles.FormatMVT, tile))
	assert.Equal(t, "tile:desas::geojson:all",
		DatasetKey(models.LayerDesa, "", tiles.FormatGeoJSON))

	village := VillagePrefix(models.LayerNop, "3575030002")
	assert.True(t, strings.HasPrefix(TileKey(models.LayerNop, "3575030002", tiles.FormatGeoJSON, tile), village))
	assert.True(t, strings.HasPrefix(DatasetKey(models.LayerNop, "3575030002", tiles.FormatGeoJSON), village))
	assert.False(t, strings.HasPrefix(TileKey(models.LayerNop, "3575030003", tiles.FormatMVT, tile), village))
	assert.False(t, strings.HasPrefix(TileKey(models.LayerBangunan, "3575030002", tiles.FormatMVT, tile), village))

	assert.True(t, strings.HasPrefix(DatasetKey(models.LayerDesa, "", tiles.FormatGeoJSON), LayerPrefix(models.LayerDesa)))
}

func TestNoopCache(t *testing.T) {
	var c TileCache = NoopCache{}
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := c.DeletePrefix(ctx, "k")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, c.Ping(ctx))
}

func redisOrSkip(t *testing.T) *RedisTileCache {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	host := os.Getenv("REDIS_HOST")
	if host == "" {
		host = "localhost"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := NewRedisClient(ctx, config.RedisConfig{Host: host, Port: "6379", DB: 15})
	if err != nil {
		t.Skipf("Redis not reachable: %v", err)
	}
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		_ = client.Close()
	})
	return NewRedisTileCache(client)
}

func TestRedisTileCache_RoundTrip(t *testing.T) {
	c := redisOrSkip(t)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "tile:nops:missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "tile:nops:3575030002:mvt:1:0:0", []byte{0x1a, 0x02}, time.Minute))
	body, ok, err := c.Get(ctx, "tile:nops:3575030002:mvt:1:0:0")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte{0x1a, 0x02}, body)

	// Empty tiles are stored and found.
	require.NoError(t, c.Set(ctx, "tile:nops:3575030002:mvt:1:1:1", nil, time.Minute))
	body, ok, err = c.Get(ctx, "tile:nops:3575030002:mvt:1:1:1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, body)
}

func TestRedisTileCache_DeletePrefix(t *testing.T) {
	c := redisOrSkip(t)
	ctx := context.Background()

	for _, k := range []string{
		"tile:nops:3575030002:mvt:1:0:0",
		"tile:nops:3575030002:geojson:all",
		"tile:nops:3575030003:mvt:1:0:0",
	} {
		require.NoError(t, c.Set(ctx, k, []byte("x"), time.Minute))
	}

	n, err := c.DeletePrefix(ctx, VillagePrefix(models.LayerNop, "3575030002"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, ok, err := c.Get(ctx, "tile:nops:3575030003:mvt:1:0:0")
	require.NoError(t, err)
	assert.True(t, ok)
}
