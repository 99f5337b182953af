package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sipanop/webgis/api/internal/cache"
	"github.com/sipanop/webgis/api/internal/logger"
	"github.com/sipanop/webgis/api/internal/models"
	"github.com/sipanop/webgis/api/internal/tiles"
)

// Server-side cache lifetimes.
const (
	tileCacheTTL       = time.Hour
	datasetCacheTTL    = 24 * time.Hour
	vectorTileCacheTTL = 7 * 24 * time.Hour
	emptyCacheTTL      = time.Minute
)

var ErrUnsupportedFormat = errors.New("format not served for layer")

// TileService defines the interface for tile serving operations.
type TileService interface {
	// Tile renders req in format. Query failures never surface: they degrade
	// to the serializer's fallback response.
	// Returns ErrUnsupportedFormat if the layer is not served in format and
	// ErrInvalidTile for a vector tile request without z/x/y.
	Tile(ctx context.Context, format tiles.Format, req tiles.Request) (*tiles.Response, error)

	// Invalidate drops cached tiles of layer for the villages of codes.
	Invalidate(ctx context.Context, layer models.Layer, codes ...string)
}

// tileService is the concrete implementation of TileService.
type tileService struct {
	source      tiles.Source
	serializers tiles.Serializers
	cache       cache.TileCache
	log         *logger.Logger
}

// NewTileService creates a new instance of TileService.
func NewTileService(source tiles.Source, serializers tiles.Serializers, tileCache cache.TileCache, log *logger.Logger) TileService {
	if tileCache == nil {
		tileCache = cache.NoopCache{}
	}
	return &tileService{
		source:      source,
		serializers: serializers,
		cache:       tileCache,
		log:         log,
	}
}

func (s *tileService) Tile(ctx context.Context, format tiles.Format, req tiles.Request) (*tiles.Response, error) {
	cfg, ok := tiles.ConfigFor(req.Layer)
	if !ok || !cfg.Supports(format) {
		return nil, fmt.Errorf("%w: %s as %s", ErrUnsupportedFormat, req.Layer, format)
	}
	serializer, ok := s.serializers[format]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if format == tiles.FormatMVT && req.Tile == nil {
		return nil, fmt.Errorf("%w: vector tiles need z/x/y", tiles.ErrInvalidTile)
	}

	log := s.log.WithLayer(string(req.Layer))
	fields := tileFields(format, req)

	if cfg.RequiresFilter && req.Filter == "" {
		log.Debug("Tile request without village filter", fields)
		return serializer.Fallback(), nil
	}

	key := cacheKey(format, req)
	body, hit, err := s.cache.Get(ctx, key)
	if err != nil {
		log.Warn("Tile cache read failed", withError(fields, err))
	}
	if hit {
		if len(body) == 0 {
			return serializer.Fallback(), nil
		}
		return serializer.Restore(req, body), nil
	}

	resp, err := serializer.Render(ctx, s.source, req)
	if err != nil {
		log.Error("Failed to render tile", err, fields)
		return serializer.Fallback(), nil
	}

	stored := resp.Body
	if resp.Empty {
		stored = []byte{}
	}
	if err := s.cache.Set(ctx, key, stored, cacheTTL(format, req, resp)); err != nil {
		log.Warn("Tile cache write failed", withError(fields, err))
	}

	return resp, nil
}

func (s *tileService) Invalidate(ctx context.Context, layer models.Layer, codes ...string) {
	prefixes := map[string]struct{}{}
	if layer == models.LayerDesa {
		prefixes[cache.LayerPrefix(layer)] = struct{}{}
	} else {
		for _, code := range codes {
			if code != "" {
				prefixes[cache.VillagePrefix(layer, models.VillagePrefix(code))] = struct{}{}
			}
		}
	}

	log := s.log.WithLayer(string(layer))
	for prefix := range prefixes {
		n, err := s.cache.DeletePrefix(ctx, prefix)
		if err != nil {
			log.Warn("Tile cache invalidation failed", map[string]interface{}{
				"prefix": prefix,
				"error":  err.Error(),
			})
			continue
		}
		log.Debug("Tile cache invalidated", map[string]interface{}{
			"prefix":  prefix,
			"deleted": n,
		})
	}
}

func cacheKey(format tiles.Format, req tiles.Request) string {
	if req.Tile == nil {
		return cache.DatasetKey(req.Layer, req.Filter, format)
	}
	return cache.TileKey(req.Layer, req.Filter, format, *req.Tile)
}

func cacheTTL(format tiles.Format, req tiles.Request, resp *tiles.Response) time.Duration {
	switch {
	case resp.Empty:
		return emptyCacheTTL
	case format == tiles.FormatMVT:
		return vectorTileCacheTTL
	case req.Tile == nil:
		return datasetCacheTTL
	default:
		return tileCacheTTL
	}
}

func tileFields(format tiles.Format, req tiles.Request) map[string]interface{} {
	fields := map[string]interface{}{
		"format": string(format),
		"filter": req.Filter,
	}
	if req.Tile != nil {
		fields["tile"] = req.Tile.String()
	}
	return fields
}

func withError(fields map[string]interface{}, err error) map[string]interface{} {
	out := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["error"] = err.Error()
	return out
}
