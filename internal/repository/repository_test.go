package repository

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"
	"github.com/sipanop/webgis/api/internal/config"
	"github.com/sipanop/webgis/api/internal/database"
	"github.com/sipanop/webgis/api/internal/logger"
	"github.com/sipanop/webgis/api/internal/models"
	"github.com/sipanop/webgis/api/internal/tiles"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Codes under this village never collide with real data.
const testVillage = "9999999999"

// getTestConfig returns database configuration for integration tests.
func getTestConfig() config.DatabaseConfig {
	return config.DatabaseConfig{
		Host:           getEnvOrDefault("DB_HOST", "localhost"),
		Port:           getEnvOrDefault("DB_PORT", "5432"),
		Name:           getEnvOrDefault("DB_NAME", "webgis"),
		User:           getEnvOrDefault("DB_USER", "postgres"),
		Password:       getEnvOrDefault("DB_PASSWORD", "postgres"),
		MigrationsPath: getEnvOrDefault("DB_MIGRATIONS_PATH", "../../migrations"),
		PoolMin:        2,
		PoolMax:        5,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// setupTestDatabase connects, migrates and removes test rows afterwards.
func setupTestDatabase(t *testing.T) *database.Database {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := getTestConfig()
	db, err := database.NewPostgresPool(ctx, cfg)
	if err != nil {
		t.Skipf("PostGIS not reachable: %v", err)
	}
	_, err = database.RunMigrations(cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		for _, l := range models.Layers() {
			spec := l.Spec()
			_, _ = db.Pool.Exec(context.Background(),
				"DELETE FROM "+spec.Table+" WHERE "+spec.CodeColumn+" LIKE '"+testVillage+"%'")
		}
		db.Close()
	})
	return db
}

func quietLogger() *logger.Logger {
	return logger.NewWithWriter(io.Discard, zerolog.Disabled)
}

func TestPolygonRepository_SaveFetchRoundTrip(t *testing.T) {
	db := setupTestDatabase(t)
	repo := NewPolygonRepository(db)
	ctx := context.Background()

	id, err := repo.Insert(ctx, models.ShapeInput{
		Layer:      models.LayerNop,
		Code:       testVillage + "00080150",
		Attributes: map[string]string{"d_luas": "120"},
		Ring:       testRing,
	})
	require.NoError(t, err)
	assert.Positive(t, id)

	shape, err := repo.FindByID(ctx, models.LayerNop, id)
	require.NoError(t, err)
	require.NotNil(t, shape)
	assert.Equal(t, "120", shape.Attributes["d_luas"])

	rings := models.ExteriorRings(shape.Geometry.Geometry)
	require.Len(t, rings, 1)
	require.Len(t, rings[0], len(testRing))
	for i, p := range testRing {
		assert.InDelta(t, p[0], rings[0][i][0], 1e-9)
		assert.InDelta(t, p[1], rings[0][i][1], 1e-9)
	}
}

func TestPolygonRepository_UpdateByCode(t *testing.T) {
	db := setupTestDatabase(t)
	repo := NewPolygonRepository(db)
	ctx := context.Background()
	code := testVillage + "00080150"

	_, err := repo.Insert(ctx, models.ShapeInput{Layer: models.LayerNop, Code: code, Ring: testRing})
	require.NoError(t, err)

	moved := orb.Ring{{112.8, -7.6}, {112.81, -7.6}, {112.81, -7.61}, {112.8, -7.6}}
	result, err := repo.Update(ctx, ShapeRef{Layer: models.LayerNop, Code: code}, ShapeChange{
		Code:       testVillage + "00080151",
		Attributes: map[string]string{"d_luas": "99"},
		Ring:       moved,
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, code, result.OldCode)
	assert.Equal(t, testVillage+"00080151", result.Code)
	assert.Len(t, result.IDs, 1)

	shape, err := repo.FindByCode(ctx, models.LayerNop, testVillage+"00080151")
	require.NoError(t, err)
	require.NotNil(t, shape)
	assert.Equal(t, "99", shape.Attributes["d_luas"])
	assert.InDelta(t, 112.8, models.ExteriorRings(shape.Geometry.Geometry)[0][0][0], 1e-9)

	missing, err := repo.Update(ctx, ShapeRef{Layer: models.LayerNop, Code: code}, ShapeChange{Ring: moved})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPolygonRepository_Delete(t *testing.T) {
	db := setupTestDatabase(t)
	repo := NewPolygonRepository(db)
	ctx := context.Background()

	id, err := repo.Insert(ctx, models.ShapeInput{Layer: models.LayerBlok, Code: testVillage + "001", Ring: testRing})
	require.NoError(t, err)

	deleted, err := repo.Delete(ctx, models.LayerBlok, id)
	require.NoError(t, err)
	require.NotNil(t, deleted)
	assert.Equal(t, testVillage+"001", deleted.Code)

	again, err := repo.Delete(ctx, models.LayerBlok, id)
	require.NoError(t, err)
	assert.Nil(t, again)

	shape, err := repo.FindByID(ctx, models.LayerBlok, id)
	require.NoError(t, err)
	assert.Nil(t, shape)
}

func TestTileRepository_FeaturesInBounds(t *testing.T) {
	db := setupTestDatabase(t)
	polygons := NewPolygonRepository(db)
	repo := NewTileRepository(db, quietLogger())
	ctx := context.Background()

	_, err := polygons.Insert(ctx, models.ShapeInput{Layer: models.LayerBlok, Code: testVillage + "001", Ring: testRing})
	require.NoError(t, err)

	bbox := orb.Bound{Min: orb.Point{112.69, -7.62}, Max: orb.Point{112.72, -7.59}}
	shapes, err := repo.FeaturesInBounds(ctx, models.LayerBlok, &bbox, tiles.GeoJSONTolerance(18), testVillage)
	require.NoError(t, err)
	require.Len(t, shapes, 1)
	assert.Equal(t, testVillage+"001", shapes[0].Code)

	far := orb.Bound{Min: orb.Point{100, 0}, Max: orb.Point{101, 1}}
	shapes, err = repo.FeaturesInBounds(ctx, models.LayerBlok, &far, 0, testVillage)
	require.NoError(t, err)
	assert.NotNil(t, shapes)
	assert.Empty(t, shapes)
}

func TestTileRepository_VectorTile(t *testing.T) {
	db := setupTestDatabase(t)
	polygons := NewPolygonRepository(db)
	repo := NewTileRepository(db, quietLogger())
	ctx := context.Background()

	_, err := polygons.Insert(ctx, models.ShapeInput{Layer: models.LayerNop, Code: testVillage + "00080150", Ring: testRing})
	require.NoError(t, err)
	require.NoError(t, repo.RefreshVectorView(ctx, models.LayerNop))

	tile := tiles.Tile{Z: 14, X: 13321, Y: 8538}
	first, err := repo.VectorTile(ctx, models.LayerNop, tile, tiles.MVTToleranceMeters(14), testVillage)
	require.NoError(t, err)
	second, err := repo.VectorTile(ctx, models.LayerNop, tile, tiles.MVTToleranceMeters(14), testVillage)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	empty, err := repo.VectorTile(ctx, models.LayerNop, tiles.Tile{Z: 22, X: 0, Y: 0}, 0, testVillage)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestTileRepository_FallsBackWithoutView(t *testing.T) {
	db := setupTestDatabase(t)
	repo := NewTileRepository(db, quietLogger())
	ctx := context.Background()

	views, err := os.ReadFile(getTestConfig().MigrationsPath + "/000002_create_mvt_views.up.sql")
	require.NoError(t, err)

	_, err = db.Pool.Exec(ctx, "DROP MATERIALIZED VIEW IF EXISTS bangunans_mvt")
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = db.Pool.Exec(context.Background(), string(views))
	})

	_, err = repo.VectorTile(ctx, models.LayerBangunan, tiles.Tile{Z: 14, X: 13321, Y: 8538}, 0, testVillage)
	assert.NoError(t, err)

	assert.NoError(t, repo.RefreshVectorView(ctx, models.LayerBangunan))
	assert.NoError(t, repo.RefreshVectorView(ctx, models.LayerDesa))
}
