package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	apierrors "github.com/sipanop/webgis/api/internal/errors"
	"github.com/sipanop/webgis/api/internal/models"
	"github.com/sipanop/webgis/api/internal/services"
	"github.com/sipanop/webgis/api/internal/tiles"
)

// TileHandler serves GeoJSON and vector tiles.
type TileHandler struct {
	service services.TileService
}

// NewTileHandler creates a new TileHandler instance.
func NewTileHandler(service services.TileService) *TileHandler {
	return &TileHandler{
		service: service,
	}
}

// TileQuery represents the query parameters of the GeoJSON tile endpoint.
// z, x and y are optional but must be given together.
type TileQuery struct {
	Z        *int   `form:"z" binding:"omitempty,min=0,max=22"`
	X        *int   `form:"x" binding:"omitempty,min=0"`
	Y        *int   `form:"y" binding:"omitempty,min=0"`
	DesaKode string `form:"desaKode" binding:"omitempty,numeric,max=10"`
}

// VectorTileQuery represents the query parameters of the MVT endpoint.
type VectorTileQuery struct {
	DesaKode string `form:"desaKode" binding:"omitempty,numeric,max=10"`
}

// GeoJSON handles GET /api/tiles/:layer.
// Without z/x/y the whole filtered layer is returned.
func (h *TileHandler) GeoJSON(c *gin.Context) {
	layer, err := models.ParseLayer(c.Param("layer"))
	if err != nil {
		apierrors.NotFound(c, err.Error())
		return
	}

	var query TileQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			apierrors.ValidationError(c, validationErrors)
			return
		}
		apierrors.BadRequest(c, "Invalid query parameters", nil)
		return
	}

	req := tiles.Request{Layer: layer, Filter: query.DesaKode}
	switch given := countSet(query.Z, query.X, query.Y); given {
	case 0:
	case 3:
		tile := tiles.Tile{Z: *query.Z, X: *query.X, Y: *query.Y}
		if !tile.InPyramid() {
			apierrors.BadRequest(c, "Tile is outside the pyramid", map[string]interface{}{
				"tile": tile.String(),
			})
			return
		}
		req.Tile = &tile
	default:
		apierrors.BadRequest(c, "z, x and y must be given together", nil)
		return
	}

	h.serve(c, tiles.FormatGeoJSON, req)
}

// VectorTile handles GET /api/tiles/:layer/mvt/:z/:x/:y.
// Empty tiles are answered with 204.
func (h *TileHandler) VectorTile(c *gin.Context) {
	layer, err := models.ParseLayer(c.Param("layer"))
	if err != nil {
		apierrors.NotFound(c, err.Error())
		return
	}

	tile, err := tiles.ParseTile(c.Param("z"), c.Param("x"), c.Param("y"))
	if err != nil {
		apierrors.BadRequest(c, err.Error(), nil)
		return
	}

	var query VectorTileQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			apierrors.ValidationError(c, validationErrors)
			return
		}
		apierrors.BadRequest(c, "Invalid query parameters", nil)
		return
	}

	h.serve(c, tiles.FormatMVT, tiles.Request{Layer: layer, Filter: query.DesaKode, Tile: &tile})
}

func (h *TileHandler) serve(c *gin.Context, format tiles.Format, req tiles.Request) {
	resp, err := h.service.Tile(c.Request.Context(), format, req)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrUnsupportedFormat):
			apierrors.NotFound(c, err.Error())
		case errors.Is(err, tiles.ErrInvalidTile):
			apierrors.BadRequest(c, err.Error(), nil)
		default:
			apierrors.InternalServerError(c, "Failed to render tile", err)
		}
		return
	}

	writeTile(c, resp)
}

func writeTile(c *gin.Context, resp *tiles.Response) {
	header := c.Writer.Header()
	header.Set("Cache-Control", resp.CacheControl)

	if resp.NoContent {
		c.Status(http.StatusNoContent)
		return
	}

	if resp.ContentEncoding != "" {
		header.Set("Content-Encoding", resp.ContentEncoding)
		header.Add("Vary", "Accept-Encoding")
	}
	c.Data(http.StatusOK, resp.ContentType, resp.Body)
}

func countSet(values ...*int) int {
	n := 0
	for _, v := range values {
		if v != nil {
			n++
		}
	}
	return n
}
