package tiles

import (
	"context"

	"github.com/paulmach/orb"
	"github.com/sipanop/webgis/api/internal/models"
)

// Format is a tile encoding.
type Format string

const (
	FormatGeoJSON Format = "geojson"
	FormatMVT     Format = "mvt"
)

// Cache-Control policies.
const (
	CacheDataset    = "public, max-age=86400"
	CacheTile       = "public, max-age=3600"
	CacheFallback   = "public, max-age=60"
	CacheVectorTile = "public, max-age=604800, stale-while-revalidate=86400"
)

const (
	ContentTypeGeoJSON = "application/json"
	ContentTypeMVT     = "application/x-protobuf"
)

// Source runs the spatial queries behind a tile.
type Source interface {
	FeaturesInBounds(ctx context.Context, layer models.Layer, bbox *orb.Bound, tolerance float64, filter string) ([]models.Shape, error)
	VectorTile(ctx context.Context, layer models.Layer, tile Tile, toleranceMeters float64, filter string) ([]byte, error)
}

// Request selects the features of one layer. A nil Tile asks for every
// feature matching Filter.
type Request struct {
	Tile   *Tile
	Layer  models.Layer
	Filter string
}

// Response is an encoded tile ready to be written.
type Response struct {
	ContentType     string
	ContentEncoding string
	CacheControl    string
	Body            []byte
	// Empty is set when no feature matched.
	Empty bool
	// NoContent responses are written as 204 without a body.
	NoContent bool
}

// TileSerializer encodes the features of a Request in one format.
type TileSerializer interface {
	Format() Format
	// Render queries src and encodes the result. An empty result renders
	// as Fallback.
	Render(ctx context.Context, src Source, req Request) (*Response, error)
	// Restore rebuilds the response for a body produced by Render.
	Restore(req Request, body []byte) *Response
	// Fallback is the response for empty results and failed queries.
	Fallback() *Response
}

// Serializers indexes a set of serializers by format.
type Serializers map[Format]TileSerializer

// NewSerializers returns the GeoJSON and MVT serializers.
func NewSerializers() Serializers {
	return Serializers{
		FormatGeoJSON: NewGeoJSONSerializer(),
		FormatMVT:     NewMVTSerializer(),
	}
}
