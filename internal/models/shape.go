package models

import (
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Shape is one stored row of any polygon layer.
type Shape struct {
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Geometry   Geometry
	Attributes map[string]string
	Layer      Layer
	Code       string
	ID         int64
}

// Feature renders the shape as a GeoJSON Feature. Properties carry the id,
// the business code under its column name and every attribute column.
func (s *Shape) Feature() *geojson.Feature {
	f := geojson.NewFeature(s.Geometry.Geometry)
	f.ID = s.ID

	spec := s.Layer.Spec()
	f.Properties["id"] = s.ID
	f.Properties[spec.CodeColumn] = s.Code
	for _, column := range spec.Attributes {
		f.Properties[column] = s.Attributes[column]
	}
	f.Properties["updated_at"] = s.UpdatedAt.UTC().Format(time.RFC3339)
	return f
}

// Parcel is a row of the nops layer together with its photo URLs.
type Parcel struct {
	Shape
	Images []string
}

// Feature renders the parcel with an "images" property.
func (p *Parcel) Feature() *geojson.Feature {
	f := p.Shape.Feature()
	images := p.Images
	if images == nil {
		images = []string{}
	}
	f.Properties["images"] = images
	return f
}

// ShapeInput is a validated create or update request for one layer.
type ShapeInput struct {
	Attributes map[string]string
	Layer      Layer
	Code       string
	Ring       orb.Ring
}
