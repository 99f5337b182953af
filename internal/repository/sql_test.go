package repository

import (
	"context"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/sipanop/webgis/api/internal/logger"
	"github.com/sipanop/webgis/api/internal/models"
	"github.com/sipanop/webgis/api/internal/tiles"
	"github.com/stretchr/testify/assert"
)

var testRing = orb.Ring{{112.7, -7.6}, {112.71, -7.6}, {112.71, -7.61}, {112.7, -7.6}}

func TestBuildFeaturesQuery_Tile(t *testing.T) {
	bbox := orb.Bound{Min: orb.Point{112, -8}, Max: orb.Point{113, -7}}
	query, args := buildFeaturesQuery(models.LayerNop.Spec(), &bbox, 0.5, "3575030002")

	assert.Contains(t, query, "ST_AsGeoJSON(ST_SimplifyPreserveTopology(geom, $1)) AS geometry")
	assert.Contains(t, query, "ST_Intersects(geom, ST_GeomFromText($2, 4326))")
	assert.Contains(t, query, "SUBSTRING(d_nop, 1, 10) = $3")
	assert.Contains(t, query, "COALESCE(d_luas, '')")
	assert.Contains(t, query, "FROM nops")
	assert.True(t, strings.HasSuffix(query, "LIMIT 500"))
	assert.Equal(t, []interface{}{0.5, tiles.BoundsWKT(bbox), "3575030002"}, args)
}

func TestBuildFeaturesQuery_NoSimplification(t *testing.T) {
	query, args := buildFeaturesQuery(models.LayerDesa.Spec(), nil, 0, "")

	assert.NotContains(t, query, "ST_SimplifyPreserveTopology")
	assert.NotContains(t, query, "WHERE")
	assert.Contains(t, query, "ST_AsGeoJSON(geom)")
	assert.Contains(t, query, "COALESCE(d_nm_kel, '')")
	assert.Empty(t, args)
}

func TestBuildFeaturesQuery_DatasetIsUncapped(t *testing.T) {
	query, _ := buildFeaturesQuery(models.LayerDesa.Spec(), nil, 0, "")
	assert.NotContains(t, query, "LIMIT")
	assert.True(t, strings.HasSuffix(query, "ORDER BY id"))

	query, args := buildFeaturesQuery(models.LayerBlok.Spec(), nil, 0, "3575030002")
	assert.NotContains(t, query, "LIMIT")
	assert.Contains(t, query, "SUBSTRING(d_blok, 1, 10) = $1")
	assert.Equal(t, []interface{}{"3575030002"}, args)
}

func TestBuildVectorTileQuery_View(t *testing.T) {
	tile := tiles.Tile{Z: 16, X: 53283, Y: 34840}
	query, args := buildVectorTileQuery(models.LayerNop.Spec(), tile, 3.4, "3575030002", true)

	assert.Contains(t, query, "ST_AsMVT(q, 'nops', 4096, 'geom')")
	assert.Contains(t, query, "FROM nops_mvt")
	assert.Contains(t, query, "ST_AsMVTGeom(ST_SimplifyPreserveTopology(geom, $4), ST_TileEnvelope($1, $2, $3), 4096, 64, true)")
	assert.Contains(t, query, "geom && ST_TileEnvelope($1, $2, $3)")
	assert.Contains(t, query, "SUBSTRING(d_nop, 1, 10) = $5")
	assert.Contains(t, query, "SELECT id, d_nop, d_luas,")
	assert.NotContains(t, query, "ST_Transform")
	assert.Equal(t, []interface{}{16, 53283, 34840, 3.4, "3575030002"}, args)
}

func TestBuildVectorTileQuery_TableFallback(t *testing.T) {
	tile := tiles.Tile{Z: 19, X: 1, Y: 2}
	query, args := buildVectorTileQuery(models.LayerBangunan.Spec(), tile, 0, "", false)

	assert.Contains(t, query, "FROM bangunans\n")
	assert.Contains(t, query, "ST_AsMVTGeom(ST_Transform(geom, 3857), ST_TileEnvelope($1, $2, $3), 4096, 64, true)")
	assert.Contains(t, query, "geom && ST_Transform(ST_TileEnvelope($1, $2, $3), 4326)")
	assert.NotContains(t, query, "SUBSTRING")
	assert.NotContains(t, query, "ST_SimplifyPreserveTopology")
	assert.Equal(t, []interface{}{19, 1, 2}, args)
}

func TestBuildInsert(t *testing.T) {
	query, args := buildInsert(models.LayerNop.Spec(), models.ShapeInput{
		Layer:      models.LayerNop,
		Code:       "357503000200080150",
		Attributes: map[string]string{"d_luas": "120", "ignored": "x"},
		Ring:       testRing,
	})

	assert.Equal(t,
		"INSERT INTO nops (d_nop, d_luas, geom) VALUES ($1, $2, ST_Multi(ST_GeomFromText($3, 4326))) RETURNING id",
		query)
	assert.Equal(t, []interface{}{
		"357503000200080150", "120",
		"POLYGON((112.7 -7.6,112.71 -7.6,112.71 -7.61,112.7 -7.6))",
	}, args)

	query, _ = buildInsert(models.LayerBlok.Spec(), models.ShapeInput{Layer: models.LayerBlok, Code: "3575030002001", Ring: testRing})
	assert.Contains(t, query, "VALUES ($1, ST_GeomFromText($2, 4326))")
}

func TestBuildUpdate(t *testing.T) {
	query, args := buildUpdate(models.LayerNop.Spec(),
		ShapeRef{Layer: models.LayerNop, Code: "357503000200080150"},
		ShapeChange{Code: "357503000200080151", Attributes: map[string]string{"d_luas": "99"}, Ring: testRing})

	assert.Contains(t, query, "SELECT id, d_nop AS old_code FROM nops WHERE d_nop = $1")
	assert.Contains(t, query, "SET d_nop = $2, d_luas = $3, geom = ST_Multi(ST_GeomFromText($4, 4326)), updated_at = NOW()")
	assert.Contains(t, query, "RETURNING t.id, target.old_code, t.d_nop")
	assert.Len(t, args, 4)

	query, args = buildUpdate(models.LayerBlok.Spec(), ShapeRef{Layer: models.LayerBlok, ID: 12}, ShapeChange{})
	assert.Contains(t, query, "WHERE id = $1")
	assert.Contains(t, query, "SET updated_at = NOW()")
	assert.Equal(t, []interface{}{int64(12)}, args)
}

func TestRefreshVectorView_SkipsNonVectorLayers(t *testing.T) {
	repo := &tileRepository{log: logger.New("test")}

	for _, layer := range []models.Layer{models.LayerDesa, models.LayerBlok} {
		assert.NotContains(t, tiles.VectorLayers(), layer)
		assert.NoError(t, repo.RefreshVectorView(context.Background(), layer), "no database access for %s", layer)
	}
	assert.Contains(t, tiles.VectorLayers(), models.LayerNop)
}
