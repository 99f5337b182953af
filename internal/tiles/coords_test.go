package tiles

import (
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTileBounds_NonDegenerate(t *testing.T) {
	for z := 0; z <= MaxZoom; z++ {
		last := (1 << uint(z)) - 1
		for _, x := range []int{0, last / 2, last} {
			for _, y := range []int{0, last / 3, last} {
				b := TileBounds(z, x, y)
				assert.Less(t, b.Min[0], b.Max[0], "lon z=%d x=%d y=%d", z, x, y)
				assert.Less(t, b.Min[1], b.Max[1], "lat z=%d x=%d y=%d", z, x, y)
			}
		}
	}
}

func TestTileBounds_World(t *testing.T) {
	b := TileBounds(0, 0, 0)
	assert.InDelta(t, -180.0, b.Min[0], 1e-9)
	assert.InDelta(t, 180.0, b.Max[0], 1e-9)
	assert.InDelta(t, 85.0511287798, b.Max[1], 1e-9)
	assert.InDelta(t, -85.0511287798, b.Min[1], 1e-9)
}

func TestTileBounds_MatchesMaptile(t *testing.T) {
	cases := []Tile{
		{Z: 1, X: 1, Y: 0},
		{Z: 12, X: 3329, Y: 2175},
		{Z: 16, X: 53283, Y: 34840},
		{Z: 18, X: 213133, Y: 139363},
	}

	for _, tc := range cases {
		t.Run(tc.String(), func(t *testing.T) {
			want := maptile.New(uint32(tc.X), uint32(tc.Y), maptile.Zoom(tc.Z)).Bound()
			got := tc.Bounds()
			assert.InDelta(t, want.Min[0], got.Min[0], 1e-7)
			assert.InDelta(t, want.Min[1], got.Min[1], 1e-7)
			assert.InDelta(t, want.Max[0], got.Max[0], 1e-7)
			assert.InDelta(t, want.Max[1], got.Max[1], 1e-7)
		})
	}
}

func TestTileBounds_ContainsKnownPoint(t *testing.T) {
	// Tile containing a point in Pasuruan, East Java.
	p := orb.Point{112.705, -7.605}
	mt := maptile.At(p, 16)

	b := TileBounds(16, int(mt.X), int(mt.Y))
	assert.True(t, b.Contains(p))
}

func TestBoundsWKT(t *testing.T) {
	b := orb.Bound{Min: orb.Point{112, -8}, Max: orb.Point{113, -7}}
	s := BoundsWKT(b)
	assert.Equal(t, "POLYGON((112 -8,113 -8,113 -7,112 -7,112 -8))", s)

	poly, err := wkt.UnmarshalPolygon(s)
	require.NoError(t, err)
	require.Len(t, poly, 1)
	assert.True(t, poly[0].Closed())
}

func TestParseTile(t *testing.T) {
	tests := []struct {
		name    string
		z, x, y string
		want    Tile
		wantErr bool
	}{
		{name: "plain", z: "14", x: "13330", y: "8700", want: Tile{14, 13330, 8700}},
		{name: "mvt suffix", z: "14", x: "13330", y: "8700.mvt", want: Tile{14, 13330, 8700}},
		{name: "pbf suffix", z: "3", x: "1", y: "2.pbf", want: Tile{3, 1, 2}},
		{name: "max zoom", z: "22", x: "0", y: "0", want: Tile{22, 0, 0}},
		{name: "zoom too deep", z: "23", x: "0", y: "0", wantErr: true},
		{name: "negative x", z: "3", x: "-1", y: "0", wantErr: true},
		{name: "negative zoom", z: "-1", x: "0", y: "0", wantErr: true},
		{name: "non numeric", z: "a", x: "0", y: "0", wantErr: true},
		{name: "empty y", z: "1", x: "0", y: "", wantErr: true},
		{name: "float", z: "1.5", x: "0", y: "0", wantErr: true},
		{name: "x overflows int", z: "22", x: "99999999999999999999999", y: "1", want: Tile{22, math.MaxInt, 1}},
		{name: "y overflows int", z: "22", x: "1", y: "99999999999999999999999.pbf", want: Tile{22, 1, math.MaxInt}},
		{name: "negative overflow", z: "22", x: "-99999999999999999999999", y: "1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTile(tt.z, tt.x, tt.y)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidTile))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInPyramid(t *testing.T) {
	assert.True(t, Tile{Z: 0, X: 0, Y: 0}.InPyramid())
	assert.False(t, Tile{Z: 0, X: 1, Y: 0}.InPyramid())
	assert.True(t, Tile{Z: 22, X: 4194303, Y: 4194303}.InPyramid())
	assert.False(t, Tile{Z: 22, X: math.MaxInt32, Y: math.MaxInt32}.InPyramid())
	assert.False(t, Tile{Z: 22, X: math.MaxInt, Y: 0}.InPyramid())
}
