package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/paulmach/orb"
	"github.com/sipanop/webgis/api/internal/database"
	"github.com/sipanop/webgis/api/internal/models"
)

// ShapeRef identifies rows of a layer by id, or by business code when ID is 0.
type ShapeRef struct {
	Layer models.Layer
	Code  string
	ID    int64
}

// ShapeChange lists the columns an update replaces. Zero fields are kept.
type ShapeChange struct {
	// Attributes holds only the attribute columns to overwrite.
	Attributes map[string]string
	Code       string
	Ring       orb.Ring
}

// UpdateResult describes the rows touched by an update.
type UpdateResult struct {
	OldCode string
	Code    string
	IDs     []int64
}

// PolygonRepository defines the data access operations behind polygon
// mutations. Every method is a single autocommit statement.
type PolygonRepository interface {
	// Insert stores a new row and returns its id.
	Insert(ctx context.Context, in models.ShapeInput) (int64, error)

	// Update applies change to every row matching ref.
	// Returns nil, nil if no row matched.
	Update(ctx context.Context, ref ShapeRef, change ShapeChange) (*UpdateResult, error)

	// Delete removes one row and returns its id and code.
	// Returns nil, nil if no row matched.
	Delete(ctx context.Context, layer models.Layer, id int64) (*models.Shape, error)

	// FindByID returns the unsimplified row. Returns nil, nil if not found.
	FindByID(ctx context.Context, layer models.Layer, id int64) (*models.Shape, error)

	// FindByCode returns the lowest-id row with code. Returns nil, nil if not found.
	FindByCode(ctx context.Context, layer models.Layer, code string) (*models.Shape, error)
}

// polygonRepository is the concrete implementation of PolygonRepository.
type polygonRepository struct {
	db *database.Database
}

// NewPolygonRepository creates a new instance of PolygonRepository.
func NewPolygonRepository(db *database.Database) PolygonRepository {
	return &polygonRepository{
		db: db,
	}
}

func (r *polygonRepository) Insert(ctx context.Context, in models.ShapeInput) (int64, error) {
	spec := in.Layer.Spec()
	query, args := buildInsert(spec, in)

	var id int64
	if err := r.db.Pool.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to insert %s %q: %w", in.Layer, in.Code, err)
	}
	return id, nil
}

func buildInsert(spec models.LayerSpec, in models.ShapeInput) (string, []interface{}) {
	var args queryArgs
	cols := []string{spec.CodeColumn}
	vals := []string{args.add(in.Code)}

	for _, a := range spec.Attributes {
		v, ok := in.Attributes[a]
		if !ok {
			continue
		}
		cols = append(cols, a)
		vals = append(vals, args.add(v))
	}

	cols = append(cols, "geom")
	vals = append(vals, geomFromWKT(spec, args.add(models.PolygonWKT(in.Ring))))

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		spec.Table, strings.Join(cols, ", "), strings.Join(vals, ", "))
	return query, args
}

func (r *polygonRepository) Update(ctx context.Context, ref ShapeRef, change ShapeChange) (*UpdateResult, error) {
	spec := ref.Layer.Spec()
	query, args := buildUpdate(spec, ref, change)

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update %s: %w", ref.Layer, err)
	}
	defer rows.Close()

	var result *UpdateResult
	for rows.Next() {
		var id int64
		var oldCode, code string
		if err := rows.Scan(&id, &oldCode, &code); err != nil {
			return nil, fmt.Errorf("failed to scan updated %s row: %w", ref.Layer, err)
		}
		if result == nil {
			result = &UpdateResult{OldCode: oldCode, Code: code}
		}
		result.IDs = append(result.IDs, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to update %s: %w", ref.Layer, err)
	}
	return result, nil
}

// buildUpdate captures the old code in a CTE so a code change and the
// rename of dependent resources can be driven by one statement.
func buildUpdate(spec models.LayerSpec, ref ShapeRef, change ShapeChange) (string, []interface{}) {
	var args queryArgs

	var match string
	if ref.ID > 0 {
		match = "id = " + args.add(ref.ID)
	} else {
		match = spec.CodeColumn + " = " + args.add(ref.Code)
	}

	sets := []string{}
	if change.Code != "" {
		sets = append(sets, fmt.Sprintf("%s = %s", spec.CodeColumn, args.add(change.Code)))
	}
	for _, a := range spec.Attributes {
		if v, ok := change.Attributes[a]; ok {
			sets = append(sets, fmt.Sprintf("%s = %s", a, args.add(v)))
		}
	}
	if len(change.Ring) > 0 {
		sets = append(sets, "geom = "+geomFromWKT(spec, args.add(models.PolygonWKT(change.Ring))))
	}
	sets = append(sets, "updated_at = NOW()")

	query := fmt.Sprintf(`WITH target AS (
			SELECT id, %[2]s AS old_code FROM %[1]s WHERE %[3]s
		)
		UPDATE %[1]s t SET %[4]s
		FROM target
		WHERE t.id = target.id
		RETURNING t.id, target.old_code, t.%[2]s`,
		spec.Table, spec.CodeColumn, match, strings.Join(sets, ", "))
	return query, args
}

func (r *polygonRepository) Delete(ctx context.Context, layer models.Layer, id int64) (*models.Shape, error) {
	spec := layer.Spec()
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1 RETURNING id, %s", spec.Table, spec.CodeColumn)

	shape := models.Shape{Layer: layer}
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(&shape.ID, &shape.Code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to delete %s %d: %w", layer, id, err)
	}
	return &shape, nil
}

func (r *polygonRepository) FindByID(ctx context.Context, layer models.Layer, id int64) (*models.Shape, error) {
	spec := layer.Spec()
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", shapeColumns(spec, "geom"), spec.Table)

	shape, err := scanShape(r.db.Pool.QueryRow(ctx, query, id), spec)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query %s %d: %w", layer, id, err)
	}
	return shape, nil
}

func (r *polygonRepository) FindByCode(ctx context.Context, layer models.Layer, code string) (*models.Shape, error) {
	spec := layer.Spec()
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 ORDER BY id LIMIT 1",
		shapeColumns(spec, "geom"), spec.Table, spec.CodeColumn)

	shape, err := scanShape(r.db.Pool.QueryRow(ctx, query, code), spec)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query %s %q: %w", layer, code, err)
	}
	return shape, nil
}
