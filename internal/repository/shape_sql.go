package repository

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/sipanop/webgis/api/internal/models"
)

// Hard cap on rows returned by one GeoJSON tile query. Whole-filter
// fetches without a bbox are not capped.
const maxTileFeatures = 500

// queryArgs collects positional arguments while a statement is built.
type queryArgs []interface{}

// add appends v and returns its placeholder.
func (a *queryArgs) add(v interface{}) string {
	*a = append(*a, v)
	return fmt.Sprintf("$%d", len(*a))
}

// shapeColumns lists the select list shared by every shape query. geomExpr
// is wrapped in ST_AsGeoJSON.
func shapeColumns(spec models.LayerSpec, geomExpr string) string {
	cols := []string{"id", spec.CodeColumn}
	for _, a := range spec.Attributes {
		cols = append(cols, fmt.Sprintf("COALESCE(%s, '')", a))
	}
	cols = append(cols,
		fmt.Sprintf("ST_AsGeoJSON(%s) AS geometry", geomExpr),
		"created_at",
		"updated_at",
	)
	return strings.Join(cols, ", ")
}

// scanShape reads one row selected with shapeColumns.
func scanShape(row pgx.Row, spec models.LayerSpec) (*models.Shape, error) {
	shape := models.Shape{
		Layer:      spec.Layer,
		Attributes: make(map[string]string, len(spec.Attributes)),
	}
	attrs := make([]string, len(spec.Attributes))
	var geomJSON []byte

	dest := []interface{}{&shape.ID, &shape.Code}
	for i := range attrs {
		dest = append(dest, &attrs[i])
	}
	dest = append(dest, &geomJSON, &shape.CreatedAt, &shape.UpdatedAt)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	for i, a := range spec.Attributes {
		shape.Attributes[a] = attrs[i]
	}

	if err := shape.Geometry.Scan(geomJSON); err != nil {
		return nil, fmt.Errorf("failed to parse geometry for %s %d: %w", spec.Layer, shape.ID, err)
	}
	return &shape, nil
}

// geomFromWKT returns the expression that turns a WKT placeholder into the
// column's geometry type.
func geomFromWKT(spec models.LayerSpec, placeholder string) string {
	expr := fmt.Sprintf("ST_GeomFromText(%s, %d)", placeholder, models.SRIDWGS84)
	if spec.Multi {
		return "ST_Multi(" + expr + ")"
	}
	return expr
}

// villageFilter compares the village prefix of the code column.
func villageFilter(spec models.LayerSpec, placeholder string) string {
	return fmt.Sprintf("SUBSTRING(%s, 1, %d) = %s", spec.CodeColumn, models.VillageCodeLength, placeholder)
}
