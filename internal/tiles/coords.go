// Package tiles maps XYZ tile indexes to geographic extents and encodes
// layer features as GeoJSON or Mapbox Vector Tiles.
package tiles

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
)

// MaxZoom is the deepest zoom level served.
const MaxZoom = 22

var ErrInvalidTile = errors.New("invalid tile coordinates")

// Tile is an XYZ tile index.
type Tile struct {
	Z int
	X int
	Y int
}

// ParseTile parses path parameters into a Tile. y may carry a .mvt or .pbf
// suffix. An x or y too large for int parses as math.MaxInt, which lies
// outside every zoom level.
func ParseTile(zs, xs, ys string) (Tile, error) {
	ys = strings.TrimSuffix(strings.TrimSuffix(ys, ".mvt"), ".pbf")

	z, err := strconv.Atoi(zs)
	if err != nil {
		return Tile{}, fmt.Errorf("%w: z=%q", ErrInvalidTile, zs)
	}
	x, err := parseIndex(xs)
	if err != nil {
		return Tile{}, fmt.Errorf("%w: x=%q", ErrInvalidTile, xs)
	}
	y, err := parseIndex(ys)
	if err != nil {
		return Tile{}, fmt.Errorf("%w: y=%q", ErrInvalidTile, ys)
	}

	if z < 0 || z > MaxZoom || x < 0 || y < 0 {
		return Tile{}, fmt.Errorf("%w: z=%d x=%d y=%d", ErrInvalidTile, z, x, y)
	}
	return Tile{Z: z, X: x, Y: y}, nil
}

func parseIndex(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if errors.Is(err, strconv.ErrRange) && n == math.MaxInt {
		return n, nil
	}
	return n, err
}

// InPyramid reports whether x and y exist at zoom z.
func (t Tile) InPyramid() bool {
	n := 1 << uint(t.Z)
	return t.X >= 0 && t.Y >= 0 && t.X < n && t.Y < n
}

// Bounds returns the WGS84 extent of t.
func (t Tile) Bounds() orb.Bound {
	return TileBounds(t.Z, t.X, t.Y)
}

func (t Tile) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}

// TileBounds converts a tile index into its WGS84 bounding box using the
// inverse spherical Mercator projection. Min is the south-west corner.
func TileBounds(z, x, y int) orb.Bound {
	n := math.Exp2(float64(z))

	lonMin := float64(x)/n*360 - 180
	lonMax := float64(x+1)/n*360 - 180
	latMax := tileLat(float64(y), n)
	latMin := tileLat(float64(y+1), n)

	return orb.Bound{
		Min: orb.Point{lonMin, latMin},
		Max: orb.Point{lonMax, latMax},
	}
}

func tileLat(y, n float64) float64 {
	return math.Atan(math.Sinh(math.Pi*(1-2*y/n))) * 180 / math.Pi
}

// BoundsWKT returns b as a closed POLYGON ring for ST_GeomFromText.
func BoundsWKT(b orb.Bound) string {
	return wkt.MarshalString(b.ToPolygon())
}
