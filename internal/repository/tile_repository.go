package repository

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/paulmach/orb"
	"github.com/sipanop/webgis/api/internal/database"
	"github.com/sipanop/webgis/api/internal/logger"
	"github.com/sipanop/webgis/api/internal/models"
	"github.com/sipanop/webgis/api/internal/tiles"
)

// TileRepository runs the spatial queries behind tile requests.
type TileRepository interface {
	// FeaturesInBounds returns the shapes of layer intersecting bbox, at
	// most 500 per tile. A nil bbox matches everything, an empty filter skips the village
	// prefix predicate and a zero tolerance disables simplification.
	FeaturesInBounds(ctx context.Context, layer models.Layer, bbox *orb.Bound, tolerance float64, filter string) ([]models.Shape, error)

	// VectorTile returns the ST_AsMVT encoding of layer inside tile. An
	// empty tile returns an empty slice.
	VectorTile(ctx context.Context, layer models.Layer, tile tiles.Tile, toleranceMeters float64, filter string) ([]byte, error)

	// RefreshVectorView refreshes the Web-Mercator view of layer. Layers
	// without a view, or a view that does not exist, are a no-op.
	RefreshVectorView(ctx context.Context, layer models.Layer) error
}

// tileRepository is the concrete implementation of TileRepository.
type tileRepository struct {
	db  *database.Database
	log *logger.Logger
}

// NewTileRepository creates a new instance of TileRepository.
func NewTileRepository(db *database.Database, log *logger.Logger) TileRepository {
	return &tileRepository{
		db:  db,
		log: log,
	}
}

// FeaturesInBounds runs a single ST_Intersects query on the stored 4326
// geometry.
func (r *tileRepository) FeaturesInBounds(ctx context.Context, layer models.Layer, bbox *orb.Bound, tolerance float64, filter string) ([]models.Shape, error) {
	spec := layer.Spec()
	query, args := buildFeaturesQuery(spec, bbox, tolerance, filter)

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s features (filter=%q): %w", layer, filter, err)
	}
	defer rows.Close()

	shapes := []models.Shape{}
	for rows.Next() {
		shape, err := scanShape(rows, spec)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", layer, err)
		}
		shapes = append(shapes, *shape)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s rows: %w", layer, err)
	}

	return shapes, nil
}

func buildFeaturesQuery(spec models.LayerSpec, bbox *orb.Bound, tolerance float64, filter string) (string, []interface{}) {
	var args queryArgs

	geomExpr := "geom"
	if tolerance > 0 {
		geomExpr = fmt.Sprintf("ST_SimplifyPreserveTopology(geom, %s)", args.add(tolerance))
	}

	var where []string
	if bbox != nil {
		where = append(where, fmt.Sprintf("ST_Intersects(geom, ST_GeomFromText(%s, %d))",
			args.add(tiles.BoundsWKT(*bbox)), models.SRIDWGS84))
	}
	if filter != "" {
		where = append(where, villageFilter(spec, args.add(filter)))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", shapeColumns(spec, geomExpr), spec.Table)
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY id")
	if bbox != nil {
		fmt.Fprintf(&sb, " LIMIT %d", maxTileFeatures)
	}

	return sb.String(), args
}

// VectorTile queries the pre-transformed <table>_mvt view first. When the
// view or one of its columns is missing it falls back to the table with an
// inline ST_Transform. Any other error is returned.
func (r *tileRepository) VectorTile(ctx context.Context, layer models.Layer, tile tiles.Tile, toleranceMeters float64, filter string) ([]byte, error) {
	spec := layer.Spec()

	query, args := buildVectorTileQuery(spec, tile, toleranceMeters, filter, true)
	var body []byte
	err := r.db.Pool.QueryRow(ctx, query, args...).Scan(&body)
	if err == nil {
		return nonNil(body), nil
	}
	if !database.IsUndefinedRelation(err) {
		return nil, fmt.Errorf("failed to build %s tile %s: %w", layer, tile, err)
	}

	r.log.Warn("Vector view unavailable, falling back to table", map[string]interface{}{
		"layer": string(layer),
		"view":  vectorView(spec),
		"tile":  tile.String(),
		"error": err.Error(),
	})

	query, args = buildVectorTileQuery(spec, tile, toleranceMeters, filter, false)
	if err := r.db.Pool.QueryRow(ctx, query, args...).Scan(&body); err != nil {
		return nil, fmt.Errorf("failed to build %s tile %s from table: %w", layer, tile, err)
	}
	return nonNil(body), nil
}

func vectorView(spec models.LayerSpec) string {
	return spec.Table + "_mvt"
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

func buildVectorTileQuery(spec models.LayerSpec, tile tiles.Tile, toleranceMeters float64, filter string, fromView bool) (string, []interface{}) {
	var args queryArgs
	envelope := fmt.Sprintf("ST_TileEnvelope(%s, %s, %s)", args.add(tile.Z), args.add(tile.X), args.add(tile.Y))

	source := spec.Table
	geomExpr := "ST_Transform(geom, 3857)"
	where := []string{fmt.Sprintf("geom && ST_Transform(%s, %d)", envelope, models.SRIDWGS84)}
	if fromView {
		source = vectorView(spec)
		geomExpr = "geom"
		where = []string{"geom && " + envelope}
	}

	if toleranceMeters > 0 {
		geomExpr = fmt.Sprintf("ST_SimplifyPreserveTopology(%s, %s)", geomExpr, args.add(toleranceMeters))
	}
	if filter != "" {
		where = append(where, villageFilter(spec, args.add(filter)))
	}

	cols := append([]string{"id", spec.CodeColumn}, spec.Attributes...)
	query := fmt.Sprintf(`SELECT ST_AsMVT(q, '%s', %d, 'geom') FROM (
			SELECT %s,
				ST_AsMVTGeom(%s, %s, %d, %d, true) AS geom
			FROM %s
			WHERE %s
		) q
		WHERE geom IS NOT NULL`,
		spec.Layer, tiles.MVTExtent,
		strings.Join(cols, ", "),
		geomExpr, envelope, tiles.MVTExtent, tiles.MVTBuffer,
		source,
		strings.Join(where, " AND "),
	)
	return query, args
}

// RefreshVectorView rebuilds <table>_mvt without blocking readers.
func (r *tileRepository) RefreshVectorView(ctx context.Context, layer models.Layer) error {
	if !slices.Contains(tiles.VectorLayers(), layer) {
		return nil
	}

	view := vectorView(layer.Spec())
	if _, err := r.db.Pool.Exec(ctx, "REFRESH MATERIALIZED VIEW CONCURRENTLY "+view); err != nil {
		if database.IsUndefinedRelation(err) {
			return nil
		}
		return fmt.Errorf("failed to refresh %s: %w", view, err)
	}
	return nil
}
