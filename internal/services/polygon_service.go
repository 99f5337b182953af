package services

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sipanop/webgis/api/internal/logger"
	"github.com/sipanop/webgis/api/internal/models"
	"github.com/sipanop/webgis/api/internal/repository"
)

// Service-level errors
var (
	ErrShapeNotFound      = errors.New("shape not found")
	ErrMissingIdentifier  = errors.New("id or code is required")
	ErrPhotosNotSupported = errors.New("layer does not store photos")
	ErrMissingCoordinates = errors.New("coordinates are required")
)

// Upload is one uploaded photo.
type Upload struct {
	Open     func() (io.ReadCloser, error)
	Filename string
}

// PhotoStorage keeps the photo directory of each parcel.
type PhotoStorage interface {
	List(nop string) ([]string, error)
	Save(nop, filename string, r io.Reader) (string, error)
	Delete(nop string, names ...string) error
	Move(from, to string) error
	RemoveAll(nop string) error
}

// VectorViewRefresher rebuilds the vector tile view of a layer.
type VectorViewRefresher interface {
	RefreshVectorView(ctx context.Context, layer models.Layer) error
}

// TileInvalidator drops cached tiles after a write.
type TileInvalidator interface {
	Invalidate(ctx context.Context, layer models.Layer, codes ...string)
}

// SaveInput is a request to create a polygon.
type SaveInput struct {
	Attributes  map[string]string
	Layer       models.Layer
	Code        string
	Coordinates [][]float64
	Photos      []Upload
}

// UpdateInput is a request to change a polygon identified by ID, or by
// Code when ID is 0. Empty fields are kept.
type UpdateInput struct {
	Attributes   map[string]string
	Layer        models.Layer
	Code         string
	NewCode      string
	Coordinates  [][]float64
	DeletePhotos []string
	Photos       []Upload
	ID           int64
}

// MutationReport describes the filesystem side of a write. The database
// write has always succeeded when a report is returned.
type MutationReport struct {
	Images   []string `json:"images,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Partial  bool     `json:"partial,omitempty"`
}

func (r *MutationReport) warn(msg string, err error) {
	r.Partial = true
	r.Warnings = append(r.Warnings, fmt.Sprintf("%s: %v", msg, err))
}

// SaveResult is the outcome of Save.
type SaveResult struct {
	MutationReport
	ID int64
}

// UpdateResult is the outcome of Update.
type UpdateResult struct {
	MutationReport
	Code string
	IDs  []int64
}

// PolygonService defines the interface for polygon mutation operations.
type PolygonService interface {
	// Save validates the ring and inserts a row. Photos are written after
	// the row for layers that store them.
	// Returns models.ErrInvalidRing, models.ErrInvalidCode or
	// ErrPhotosNotSupported for bad input.
	Save(ctx context.Context, in SaveInput) (*SaveResult, error)

	// Update replaces the geometry, code and attributes of the matching rows
	// and applies photo changes.
	// Returns ErrMissingIdentifier without id and code and ErrShapeNotFound
	// if nothing matched.
	Update(ctx context.Context, in UpdateInput) (*UpdateResult, error)

	// Delete removes a row and, for parcels, its photo directory.
	// Returns ErrShapeNotFound if the row does not exist.
	Delete(ctx context.Context, layer models.Layer, id int64) (*MutationReport, error)

	// GetShape returns a row by id without simplification.
	// Returns ErrShapeNotFound if the row does not exist.
	GetShape(ctx context.Context, layer models.Layer, id int64) (*models.Shape, error)

	// GetParcel returns a parcel by d_nop with its photo URLs.
	// Returns ErrShapeNotFound if the parcel does not exist.
	GetParcel(ctx context.Context, nop string) (*models.Parcel, error)
}

// polygonService is the concrete implementation of PolygonService.
type polygonService struct {
	repo   repository.PolygonRepository
	views  VectorViewRefresher
	tiles  TileInvalidator
	photos PhotoStorage
	log    *logger.Logger
}

// NewPolygonService creates a new instance of PolygonService.
func NewPolygonService(
	repo repository.PolygonRepository,
	views VectorViewRefresher,
	tiles TileInvalidator,
	photos PhotoStorage,
	log *logger.Logger,
) PolygonService {
	return &polygonService{
		repo:   repo,
		views:  views,
		tiles:  tiles,
		photos: photos,
		log:    log,
	}
}

func (s *polygonService) Save(ctx context.Context, in SaveInput) (*SaveResult, error) {
	spec := in.Layer.Spec()
	fields := map[string]interface{}{
		"layer": string(in.Layer),
		"code":  in.Code,
	}

	if err := models.ValidateCode(in.Code); err != nil {
		s.log.Warn("Invalid code provided", fields)
		return nil, err
	}
	if len(in.Coordinates) == 0 {
		return nil, ErrMissingCoordinates
	}
	ring, err := models.NewRing(in.Coordinates)
	if err != nil {
		s.log.Warn("Invalid polygon ring provided", withError(fields, err))
		return nil, err
	}
	if len(in.Photos) > 0 && !spec.HasPhotos {
		return nil, fmt.Errorf("%w: %s", ErrPhotosNotSupported, in.Layer)
	}

	id, err := s.repo.Insert(ctx, models.ShapeInput{
		Layer:      in.Layer,
		Code:       in.Code,
		Attributes: in.Attributes,
		Ring:       ring,
	})
	if err != nil {
		s.log.Error("Failed to insert polygon", err, fields)
		return nil, fmt.Errorf("failed to save polygon: %w", err)
	}

	result := &SaveResult{ID: id}
	if spec.HasPhotos {
		s.writePhotos(in.Code, in.Photos, &result.MutationReport)
		s.listPhotos(in.Code, &result.MutationReport)
	}
	s.afterWrite(ctx, in.Layer, in.Code)

	fields["id"] = id
	fields["partial"] = result.Partial
	s.log.Info("Polygon saved", fields)

	return result, nil
}

func (s *polygonService) Update(ctx context.Context, in UpdateInput) (*UpdateResult, error) {
	spec := in.Layer.Spec()
	fields := map[string]interface{}{
		"layer": string(in.Layer),
		"id":    in.ID,
		"code":  in.Code,
	}

	if in.ID <= 0 && in.Code == "" {
		s.log.Warn("Update without identifier", fields)
		return nil, ErrMissingIdentifier
	}
	if in.ID <= 0 {
		if err := models.ValidateCode(in.Code); err != nil {
			return nil, err
		}
	}
	if in.NewCode != "" {
		if err := models.ValidateCode(in.NewCode); err != nil {
			return nil, err
		}
	}
	if (len(in.Photos) > 0 || len(in.DeletePhotos) > 0) && !spec.HasPhotos {
		return nil, fmt.Errorf("%w: %s", ErrPhotosNotSupported, in.Layer)
	}

	change := repository.ShapeChange{
		Code:       in.NewCode,
		Attributes: in.Attributes,
	}
	if in.Coordinates != nil {
		ring, err := models.NewRing(in.Coordinates)
		if err != nil {
			s.log.Warn("Invalid polygon ring provided", withError(fields, err))
			return nil, err
		}
		change.Ring = ring
	}

	updated, err := s.repo.Update(ctx, repository.ShapeRef{Layer: in.Layer, ID: in.ID, Code: in.Code}, change)
	if err != nil {
		s.log.Error("Failed to update polygon", err, fields)
		return nil, fmt.Errorf("failed to update polygon: %w", err)
	}
	if updated == nil {
		s.log.Debug("No polygon matched update", fields)
		return nil, ErrShapeNotFound
	}

	result := &UpdateResult{Code: updated.Code, IDs: updated.IDs}
	if spec.HasPhotos {
		report := &result.MutationReport
		if updated.OldCode != updated.Code {
			if err := s.photos.Move(updated.OldCode, updated.Code); err != nil {
				report.warn("failed to move photo directory", err)
			}
		}
		if len(in.DeletePhotos) > 0 {
			if err := s.photos.Delete(updated.Code, in.DeletePhotos...); err != nil {
				report.warn("failed to delete photos", err)
			}
		}
		s.writePhotos(updated.Code, in.Photos, report)
		s.listPhotos(updated.Code, report)
	}
	s.afterWrite(ctx, in.Layer, updated.OldCode, updated.Code)

	fields["rows"] = len(updated.IDs)
	fields["new_code"] = updated.Code
	fields["partial"] = result.Partial
	s.log.Info("Polygon updated", fields)

	return result, nil
}

func (s *polygonService) Delete(ctx context.Context, layer models.Layer, id int64) (*MutationReport, error) {
	fields := map[string]interface{}{
		"layer": string(layer),
		"id":    id,
	}

	deleted, err := s.repo.Delete(ctx, layer, id)
	if err != nil {
		s.log.Error("Failed to delete polygon", err, fields)
		return nil, fmt.Errorf("failed to delete polygon: %w", err)
	}
	if deleted == nil {
		return nil, ErrShapeNotFound
	}

	report := &MutationReport{}
	if layer.Spec().HasPhotos {
		if err := s.photos.RemoveAll(deleted.Code); err != nil {
			report.warn("failed to remove photo directory", err)
		}
	}
	s.afterWrite(ctx, layer, deleted.Code)

	fields["code"] = deleted.Code
	fields["partial"] = report.Partial
	s.log.Info("Polygon deleted", fields)

	return report, nil
}

func (s *polygonService) GetShape(ctx context.Context, layer models.Layer, id int64) (*models.Shape, error) {
	shape, err := s.repo.FindByID(ctx, layer, id)
	if err != nil {
		s.log.Error("Failed to query polygon", err, map[string]interface{}{
			"layer": string(layer),
			"id":    id,
		})
		return nil, fmt.Errorf("failed to query polygon: %w", err)
	}
	if shape == nil {
		return nil, ErrShapeNotFound
	}
	return shape, nil
}

func (s *polygonService) GetParcel(ctx context.Context, nop string) (*models.Parcel, error) {
	if err := models.ValidateCode(nop); err != nil {
		return nil, err
	}

	shape, err := s.repo.FindByCode(ctx, models.LayerNop, nop)
	if err != nil {
		s.log.Error("Failed to query parcel", err, map[string]interface{}{"nop": nop})
		return nil, fmt.Errorf("failed to query parcel: %w", err)
	}
	if shape == nil {
		return nil, ErrShapeNotFound
	}

	images, err := s.photos.List(nop)
	if err != nil {
		s.log.Warn("Failed to list parcel photos", map[string]interface{}{
			"nop":   nop,
			"error": err.Error(),
		})
		images = []string{}
	}

	return &models.Parcel{Shape: *shape, Images: images}, nil
}

func (s *polygonService) writePhotos(nop string, uploads []Upload, report *MutationReport) {
	for _, u := range uploads {
		if err := s.savePhoto(nop, u); err != nil {
			s.log.Warn("Failed to store photo", map[string]interface{}{
				"nop":      nop,
				"filename": u.Filename,
				"error":    err.Error(),
			})
			report.warn("failed to store "+u.Filename, err)
		}
	}
}

func (s *polygonService) savePhoto(nop string, u Upload) error {
	rc, err := u.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	_, err = s.photos.Save(nop, u.Filename, rc)
	return err
}

func (s *polygonService) listPhotos(nop string, report *MutationReport) {
	images, err := s.photos.List(nop)
	if err != nil {
		report.warn("failed to list photos", err)
		return
	}
	report.Images = images
}

// afterWrite drops cached tiles and refreshes the vector view. Failures are
// logged only.
func (s *polygonService) afterWrite(ctx context.Context, layer models.Layer, codes ...string) {
	s.tiles.Invalidate(ctx, layer, codes...)

	if err := s.views.RefreshVectorView(ctx, layer); err != nil {
		s.log.Warn("Failed to refresh vector view", map[string]interface{}{
			"layer": string(layer),
			"error": err.Error(),
		})
	}
}
