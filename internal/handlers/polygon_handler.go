package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	apierrors "github.com/sipanop/webgis/api/internal/errors"
	"github.com/sipanop/webgis/api/internal/middleware"
	"github.com/sipanop/webgis/api/internal/models"
	"github.com/sipanop/webgis/api/internal/services"
)

const (
	// layerKey is the gin context key holding the layer of a per-layer route.
	layerKey = "layer"
	// photoField is the multipart field carrying parcel photos.
	photoField = "images"
	// multipartMemory is the part of a multipart body kept in memory.
	multipartMemory = 8 << 20
)

var errInvalidPayload = errors.New("invalid request payload")

// PolygonHandler handles polygon create, update, fetch and delete requests.
type PolygonHandler struct {
	service  services.PolygonService
	maxBytes int64
}

// NewPolygonHandler creates a new PolygonHandler instance. maxBytes is the
// body limit reported back on 413 responses.
func NewPolygonHandler(service services.PolygonService, maxBytes int64) *PolygonHandler {
	return &PolygonHandler{
		service:  service,
		maxBytes: maxBytes,
	}
}

// SaveRequest is the body of POST /api/polygons/save. In multipart form
// coordinates and attributes are JSON strings and attribute columns may also
// be sent as plain fields.
type SaveRequest struct {
	Attributes  map[string]string `json:"attributes" form:"-"`
	Layer       string            `json:"layer" form:"layer" binding:"required,oneof=desas bloks nops bangunans"`
	Code        string            `json:"code" form:"code" binding:"omitempty,numeric"`
	Nop         string            `json:"nop" form:"nop" binding:"omitempty,numeric"`
	Coordinates [][]float64       `json:"coordinates" form:"-"`
}

// UpdateRequest is the body of PUT /api/<layer>/update. The row is chosen by
// id, or by code (nop for parcels and buildings) when id is absent.
type UpdateRequest struct {
	Attributes   map[string]string `json:"attributes" form:"-"`
	Code         string            `json:"code" form:"code" binding:"omitempty,numeric"`
	Nop          string            `json:"nop" form:"nop" binding:"omitempty,numeric"`
	NewCode      string            `json:"newCode" form:"newCode" binding:"omitempty,numeric"`
	Coordinates  [][]float64       `json:"coordinates" form:"-"`
	DeleteImages []string          `json:"deleteImages" form:"deleteImages"`
	ID           int64             `json:"id" form:"id" binding:"omitempty,min=1"`
}

// SaveResponse is returned by Save.
type SaveResponse struct {
	services.MutationReport
	Success bool  `json:"success"`
	ID      int64 `json:"id"`
}

// MutationResponse is returned by Update and Delete.
type MutationResponse struct {
	services.MutationReport
	Message string  `json:"message"`
	Code    string  `json:"code,omitempty"`
	IDs     []int64 `json:"ids,omitempty"`
	Success bool    `json:"success"`
}

// FeatureResponse wraps a single GeoJSON feature.
type FeatureResponse struct {
	Data    interface{} `json:"data"`
	Success bool        `json:"success"`
}

// RegisterLayerRoutes registers the per-layer update, fetch and delete
// routes and the parcel lookup under api.
func (h *PolygonHandler) RegisterLayerRoutes(api *gin.RouterGroup) {
	api.POST("/polygons/save", h.Save)

	for _, layer := range models.Layers() {
		group := api.Group("/"+string(layer), scopeLayer(layer))
		group.PUT("/update", h.Update)
		group.GET("/id/:id", h.GetByID)
		group.DELETE("/id/:id", h.Delete)
	}

	api.GET("/nops/:nop", h.GetParcel)
}

func scopeLayer(layer models.Layer) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(layerKey, layer)
		c.Next()
	}
}

func layerFrom(c *gin.Context) (models.Layer, bool) {
	v, ok := c.Get(layerKey)
	if !ok {
		return "", false
	}
	layer, ok := v.(models.Layer)
	return layer, ok
}

// Save handles POST /api/polygons/save.
func (h *PolygonHandler) Save(c *gin.Context) {
	var req SaveRequest
	if !h.bind(c, &req) {
		return
	}

	layer, err := models.ParseLayer(req.Layer)
	if err != nil {
		apierrors.BadRequest(c, err.Error(), nil)
		return
	}
	if isMultipart(c) {
		if err := decodeFormJSON(c, &req.Coordinates, &req.Attributes, layer); err != nil {
			apierrors.BadRequest(c, err.Error(), nil)
			return
		}
	}

	in := services.SaveInput{
		Layer:       layer,
		Code:        firstNonEmpty(req.Code, req.Nop),
		Attributes:  knownAttributes(layer, req.Attributes),
		Coordinates: req.Coordinates,
		Photos:      uploads(c),
	}

	if log := middleware.GetLogger(c); log != nil {
		log.Info("Processing save request", map[string]interface{}{
			"layer":  string(layer),
			"code":   in.Code,
			"photos": len(in.Photos),
		})
	}

	result, err := h.service.Save(c.Request.Context(), in)
	if err != nil {
		h.writeError(c, "Failed to save polygon", err)
		return
	}

	c.JSON(http.StatusOK, SaveResponse{
		MutationReport: result.MutationReport,
		Success:        true,
		ID:             result.ID,
	})
}

// Update handles PUT /api/<layer>/update.
func (h *PolygonHandler) Update(c *gin.Context) {
	layer, ok := layerFrom(c)
	if !ok {
		apierrors.NotFound(c, models.ErrUnknownLayer.Error())
		return
	}

	var req UpdateRequest
	if !h.bind(c, &req) {
		return
	}
	if isMultipart(c) {
		if err := decodeFormJSON(c, &req.Coordinates, &req.Attributes, layer); err != nil {
			apierrors.BadRequest(c, err.Error(), nil)
			return
		}
	}

	in := services.UpdateInput{
		Layer:        layer,
		ID:           req.ID,
		Code:         firstNonEmpty(req.Code, req.Nop),
		NewCode:      req.NewCode,
		Attributes:   knownAttributes(layer, req.Attributes),
		Coordinates:  req.Coordinates,
		DeletePhotos: req.DeleteImages,
		Photos:       uploads(c),
	}

	result, err := h.service.Update(c.Request.Context(), in)
	if err != nil {
		h.writeError(c, "Failed to update polygon", err)
		return
	}

	c.JSON(http.StatusOK, MutationResponse{
		MutationReport: result.MutationReport,
		Message:        "Polygon updated",
		Code:           result.Code,
		IDs:            result.IDs,
		Success:        true,
	})
}

// GetByID handles GET /api/<layer>/id/:id.
func (h *PolygonHandler) GetByID(c *gin.Context) {
	layer, id, ok := layerAndID(c)
	if !ok {
		return
	}

	shape, err := h.service.GetShape(c.Request.Context(), layer, id)
	if err != nil {
		h.writeError(c, "Failed to query polygon", err)
		return
	}

	c.JSON(http.StatusOK, FeatureResponse{Data: shape.Feature(), Success: true})
}

// Delete handles DELETE /api/<layer>/id/:id.
func (h *PolygonHandler) Delete(c *gin.Context) {
	layer, id, ok := layerAndID(c)
	if !ok {
		return
	}

	report, err := h.service.Delete(c.Request.Context(), layer, id)
	if err != nil {
		h.writeError(c, "Failed to delete polygon", err)
		return
	}

	c.JSON(http.StatusOK, MutationResponse{
		MutationReport: *report,
		Message:        "Polygon deleted",
		Success:        true,
	})
}

// GetParcel handles GET /api/nops/:nop.
func (h *PolygonHandler) GetParcel(c *gin.Context) {
	parcel, err := h.service.GetParcel(c.Request.Context(), c.Param("nop"))
	if err != nil {
		h.writeError(c, "Failed to query parcel", err)
		return
	}

	c.JSON(http.StatusOK, FeatureResponse{Data: parcel.Feature(), Success: true})
}

// bind decodes a JSON or multipart body into obj and writes the error
// response when that fails.
func (h *PolygonHandler) bind(c *gin.Context, obj interface{}) bool {
	var err error
	if isMultipart(c) {
		err = c.Request.ParseMultipartForm(multipartMemory)
		if err == nil {
			err = c.ShouldBindWith(obj, binding.FormMultipart)
		}
	} else {
		err = c.ShouldBindJSON(obj)
	}
	if err == nil {
		return true
	}

	var validationErrors validator.ValidationErrors
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &validationErrors):
		apierrors.ValidationError(c, validationErrors)
	case errors.As(err, &maxErr):
		apierrors.PayloadTooLarge(c, h.maxBytes)
	default:
		apierrors.BadRequest(c, errInvalidPayload.Error(), map[string]interface{}{
			"reason": err.Error(),
		})
	}
	return false
}

func (h *PolygonHandler) writeError(c *gin.Context, message string, err error) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, models.ErrInvalidRing),
		errors.Is(err, models.ErrInvalidCode),
		errors.Is(err, services.ErrMissingIdentifier),
		errors.Is(err, services.ErrMissingCoordinates),
		errors.Is(err, services.ErrPhotosNotSupported):
		apierrors.BadRequest(c, err.Error(), nil)
	case errors.Is(err, services.ErrShapeNotFound):
		apierrors.NotFound(c, err.Error())
	case errors.As(err, &maxErr):
		apierrors.PayloadTooLarge(c, h.maxBytes)
	default:
		apierrors.InternalServerError(c, message, err)
	}
}

func layerAndID(c *gin.Context) (models.Layer, int64, bool) {
	layer, ok := layerFrom(c)
	if !ok {
		apierrors.NotFound(c, models.ErrUnknownLayer.Error())
		return "", 0, false
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		apierrors.BadRequest(c, "id must be a positive integer", map[string]interface{}{
			"id": c.Param("id"),
		})
		return "", 0, false
	}
	return layer, id, true
}

func isMultipart(c *gin.Context) bool {
	return strings.HasPrefix(c.ContentType(), binding.MIMEMultipartPOSTForm)
}

// decodeFormJSON reads the JSON-encoded coordinates and attributes fields of
// a multipart form. Attribute columns of layer sent as plain fields are
// merged in.
func decodeFormJSON(c *gin.Context, coords *[][]float64, attrs *map[string]string, layer models.Layer) error {
	if raw := c.PostForm("coordinates"); raw != "" {
		if err := json.Unmarshal([]byte(raw), coords); err != nil {
			return errors.New("coordinates must be a JSON array of [lng, lat] pairs")
		}
	}
	if raw := c.PostForm("attributes"); raw != "" {
		if err := json.Unmarshal([]byte(raw), attrs); err != nil {
			return errors.New("attributes must be a JSON object of strings")
		}
	}

	for _, column := range layer.Spec().Attributes {
		v, ok := c.GetPostForm(column)
		if !ok {
			continue
		}
		if *attrs == nil {
			*attrs = map[string]string{}
		}
		(*attrs)[column] = v
	}
	return nil
}

// knownAttributes drops the keys of attrs that are not attribute columns of
// layer.
func knownAttributes(layer models.Layer, attrs map[string]string) map[string]string {
	if attrs == nil {
		return nil
	}
	spec := layer.Spec()
	out := make(map[string]string, len(attrs))
	for column, v := range attrs {
		if spec.HasAttribute(column) {
			out[column] = v
		}
	}
	return out
}

// uploads returns the photos of a multipart request.
func uploads(c *gin.Context) []services.Upload {
	if !isMultipart(c) {
		return nil
	}
	form, err := c.MultipartForm()
	if err != nil || form == nil {
		return nil
	}

	files := form.File[photoField]
	out := make([]services.Upload, 0, len(files))
	for _, fh := range files {
		out = append(out, services.Upload{
			Filename: fh.Filename,
			Open:     opener(fh),
		})
	}
	return out
}

func opener(fh *multipart.FileHeader) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		return fh.Open()
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
