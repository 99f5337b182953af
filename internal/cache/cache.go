// Package cache stores encoded tiles between requests.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/sipanop/webgis/api/internal/models"
	"github.com/sipanop/webgis/api/internal/tiles"
)

const keyPrefix = "tile:"

// TileCache is a byte cache for encoded tiles. An empty value is a valid
// entry meaning the tile had no features.
type TileCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, body []byte, ttl time.Duration) error
	// DeletePrefix removes every key starting with prefix and returns how
	// many were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	Ping(ctx context.Context) error
}

// TileKey returns the cache key of one tile.
func TileKey(layer models.Layer, filter string, format tiles.Format, t tiles.Tile) string {
	return fmt.Sprintf("%s%s:%s:%s:%d:%d:%d", keyPrefix, layer, filter, format, t.Z, t.X, t.Y)
}

// DatasetKey returns the cache key of a request without a tile.
func DatasetKey(layer models.Layer, filter string, format tiles.Format) string {
	return fmt.Sprintf("%s%s:%s:%s:all", keyPrefix, layer, filter, format)
}

// LayerPrefix matches every key of layer.
func LayerPrefix(layer models.Layer) string {
	return keyPrefix + string(layer) + ":"
}

// VillagePrefix matches every key of layer filtered by village.
func VillagePrefix(layer models.Layer, village string) string {
	return LayerPrefix(layer) + village + ":"
}

// NoopCache never stores anything. It is used when Redis is disabled.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

func (NoopCache) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (NoopCache) DeletePrefix(context.Context, string) (int, error) { return 0, nil }

func (NoopCache) Ping(context.Context) error { return nil }
