package tiles

import (
	"bytes"
	"context"
	"fmt"

	"github.com/klauspost/compress/gzip"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/sipanop/webgis/api/internal/models"
)

// GeoJSONSerializer renders features as a gzip-compressed FeatureCollection.
type GeoJSONSerializer struct {
	empty []byte
}

// NewGeoJSONSerializer creates a GeoJSONSerializer.
func NewGeoJSONSerializer() *GeoJSONSerializer {
	s := &GeoJSONSerializer{}
	body, err := EncodeFeatureCollection(geojson.NewFeatureCollection())
	if err == nil {
		s.empty = body
	}
	return s
}

func (s *GeoJSONSerializer) Format() Format { return FormatGeoJSON }

// Render queries the tile extent simplified for its zoom, or the whole
// filter without simplification when req.Tile is nil.
func (s *GeoJSONSerializer) Render(ctx context.Context, src Source, req Request) (*Response, error) {
	var (
		bbox      *orb.Bound
		tolerance float64
	)
	if req.Tile != nil {
		b := req.Tile.Bounds()
		bbox = &b
		tolerance = GeoJSONTolerance(req.Tile.Z)
	}

	shapes, err := src.FeaturesInBounds(ctx, req.Layer, bbox, tolerance, req.Filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s features: %w", req.Layer, err)
	}
	if len(shapes) == 0 {
		return s.Fallback(), nil
	}

	body, err := EncodeFeatureCollection(Collection(shapes))
	if err != nil {
		return nil, err
	}
	return s.Restore(req, body), nil
}

func (s *GeoJSONSerializer) Restore(req Request, body []byte) *Response {
	policy := CacheTile
	if req.Tile == nil {
		policy = CacheDataset
	}
	return &Response{
		ContentType:     ContentTypeGeoJSON,
		ContentEncoding: "gzip",
		CacheControl:    policy,
		Body:            body,
	}
}

func (s *GeoJSONSerializer) Fallback() *Response {
	return &Response{
		ContentType:     ContentTypeGeoJSON,
		ContentEncoding: "gzip",
		CacheControl:    CacheFallback,
		Body:            s.empty,
		Empty:           true,
	}
}

// Collection wraps shapes in a FeatureCollection.
func Collection(shapes []models.Shape) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for i := range shapes {
		fc.Append(shapes[i].Feature())
	}
	return fc
}

// EncodeFeatureCollection marshals fc and gzips the result.
func EncodeFeatureCollection(fc *geojson.FeatureCollection) ([]byte, error) {
	raw, err := fc.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal feature collection: %w", err)
	}

	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("failed to gzip feature collection: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to gzip feature collection: %w", err)
	}
	return buf.Bytes(), nil
}
