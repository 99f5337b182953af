package models

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
)

// SRIDWGS84 is the SRID of every stored geometry column.
const SRIDWGS84 = 4326

// MinRingPositions is the smallest closed ring PostGIS accepts for a polygon.
const MinRingPositions = 4

var ErrInvalidRing = errors.New("invalid polygon ring")

// Geometry holds a geometry read from PostGIS through ST_AsGeoJSON.
type Geometry struct {
	orb.Geometry
}

// Scan implements sql.Scanner for ST_AsGeoJSON output.
func (g *Geometry) Scan(value interface{}) error {
	if value == nil {
		g.Geometry = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("failed to scan Geometry: expected []byte or string, got %T", value)
	}

	parsed, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return fmt.Errorf("failed to unmarshal geometry: %w", err)
	}
	g.Geometry = parsed.Geometry()
	return nil
}

// MarshalJSON renders the geometry as a GeoJSON geometry object.
func (g Geometry) MarshalJSON() ([]byte, error) {
	if g.Geometry == nil {
		return []byte("null"), nil
	}
	return geojson.NewGeometry(g.Geometry).MarshalJSON()
}

// NewRing builds a polygon exterior ring from client [lng, lat] pairs.
// An open ring is closed by repeating its first position.
func NewRing(coords [][]float64) (orb.Ring, error) {
	if len(coords) < MinRingPositions-1 {
		return nil, fmt.Errorf("%w: need at least %d positions, got %d",
			ErrInvalidRing, MinRingPositions-1, len(coords))
	}

	ring := make(orb.Ring, 0, len(coords)+1)
	for i, c := range coords {
		if len(c) != 2 {
			return nil, fmt.Errorf("%w: position %d must be [lng, lat], got %d values",
				ErrInvalidRing, i, len(c))
		}
		lng, lat := c[0], c[1]
		if math.IsNaN(lng) || math.IsNaN(lat) || math.IsInf(lng, 0) || math.IsInf(lat, 0) {
			return nil, fmt.Errorf("%w: position %d is not a finite number", ErrInvalidRing, i)
		}
		if lng < -180 || lng > 180 {
			return nil, fmt.Errorf("%w: position %d longitude %f out of range", ErrInvalidRing, i, lng)
		}
		if lat < -90 || lat > 90 {
			return nil, fmt.Errorf("%w: position %d latitude %f out of range", ErrInvalidRing, i, lat)
		}
		ring = append(ring, orb.Point{lng, lat})
	}

	if !ring.Closed() {
		ring = append(ring, ring[0])
	}
	if len(ring) < MinRingPositions {
		return nil, fmt.Errorf("%w: closed ring needs %d positions, got %d",
			ErrInvalidRing, MinRingPositions, len(ring))
	}

	distinct := make(map[orb.Point]struct{}, len(ring))
	for _, p := range ring[:len(ring)-1] {
		distinct[p] = struct{}{}
	}
	if len(distinct) < 3 {
		return nil, fmt.Errorf("%w: ring has only %d distinct positions", ErrInvalidRing, len(distinct))
	}

	return ring, nil
}

// PolygonWKT serializes ring as POLYGON((lng lat, ...)) for ST_GeomFromText.
func PolygonWKT(ring orb.Ring) string {
	return wkt.MarshalString(orb.Polygon{ring})
}

// ExteriorRings returns the outer ring of every polygon in g.
func ExteriorRings(g orb.Geometry) []orb.Ring {
	switch geom := g.(type) {
	case orb.Polygon:
		if len(geom) == 0 {
			return nil
		}
		return []orb.Ring{geom[0]}
	case orb.MultiPolygon:
		rings := make([]orb.Ring, 0, len(geom))
		for _, p := range geom {
			if len(p) > 0 {
				rings = append(rings, p[0])
			}
		}
		return rings
	default:
		return nil
	}
}
