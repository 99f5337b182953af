package tiles

import (
	"context"
	"fmt"
)

// MVT encoding parameters passed to ST_AsMVTGeom.
const (
	MVTExtent = 4096
	MVTBuffer = 64
)

// MVTSerializer serves the protobuf produced by ST_AsMVT unchanged. The body
// is already compact and is never gzip-wrapped.
type MVTSerializer struct{}

// NewMVTSerializer creates an MVTSerializer.
func NewMVTSerializer() *MVTSerializer {
	return &MVTSerializer{}
}

func (s *MVTSerializer) Format() Format { return FormatMVT }

// Render requires req.Tile. Tiles outside the pyramid render empty without
// a query.
func (s *MVTSerializer) Render(ctx context.Context, src Source, req Request) (*Response, error) {
	if req.Tile == nil {
		return nil, fmt.Errorf("%w: vector tiles need z/x/y", ErrInvalidTile)
	}
	if !req.Tile.InPyramid() {
		return s.Fallback(), nil
	}

	body, err := src.VectorTile(ctx, req.Layer, *req.Tile, MVTToleranceMeters(req.Tile.Z), req.Filter)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s tile %s: %w", req.Layer, req.Tile, err)
	}
	if len(body) == 0 {
		return s.Fallback(), nil
	}
	return s.Restore(req, body), nil
}

func (s *MVTSerializer) Restore(_ Request, body []byte) *Response {
	return &Response{
		ContentType:  ContentTypeMVT,
		CacheControl: CacheVectorTile,
		Body:         body,
	}
}

func (s *MVTSerializer) Fallback() *Response {
	return &Response{
		ContentType:  ContentTypeMVT,
		CacheControl: CacheFallback,
		Empty:        true,
		NoContent:    true,
	}
}
