package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/sipanop/webgis/api/internal/models"
	"github.com/sipanop/webgis/api/internal/services"
	"github.com/sipanop/webgis/api/internal/tiles"
	"github.com/stretchr/testify/mock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// MockTileService is a mock implementation of services.TileService
type MockTileService struct {
	mock.Mock
}

func (m *MockTileService) Tile(ctx context.Context, format tiles.Format, req tiles.Request) (*tiles.Response, error) {
	args := m.Called(ctx, format, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tiles.Response), args.Error(1)
}

func (m *MockTileService) Invalidate(ctx context.Context, layer models.Layer, codes ...string) {
	m.Called(ctx, layer, codes)
}

// MockPolygonService is a mock implementation of services.PolygonService
type MockPolygonService struct {
	mock.Mock
}

func (m *MockPolygonService) Save(ctx context.Context, in services.SaveInput) (*services.SaveResult, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.SaveResult), args.Error(1)
}

func (m *MockPolygonService) Update(ctx context.Context, in services.UpdateInput) (*services.UpdateResult, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.UpdateResult), args.Error(1)
}

func (m *MockPolygonService) Delete(ctx context.Context, layer models.Layer, id int64) (*services.MutationReport, error) {
	args := m.Called(ctx, layer, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.MutationReport), args.Error(1)
}

func (m *MockPolygonService) GetShape(ctx context.Context, layer models.Layer, id int64) (*models.Shape, error) {
	args := m.Called(ctx, layer, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Shape), args.Error(1)
}

func (m *MockPolygonService) GetParcel(ctx context.Context, nop string) (*models.Parcel, error) {
	args := m.Called(ctx, nop)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Parcel), args.Error(1)
}
