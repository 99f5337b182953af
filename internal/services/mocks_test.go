package services

import (
	"context"
	"io"
	"time"

	"github.com/paulmach/orb"
	"github.com/sipanop/webgis/api/internal/models"
	"github.com/sipanop/webgis/api/internal/repository"
	"github.com/sipanop/webgis/api/internal/tiles"
	"github.com/stretchr/testify/mock"
)

// MockPolygonRepository is a mock implementation of PolygonRepository for testing
type MockPolygonRepository struct {
	mock.Mock
}

func (m *MockPolygonRepository) Insert(ctx context.Context, in models.ShapeInput) (int64, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockPolygonRepository) Update(ctx context.Context, ref repository.ShapeRef, change repository.ShapeChange) (*repository.UpdateResult, error) {
	args := m.Called(ctx, ref, change)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.UpdateResult), args.Error(1)
}

func (m *MockPolygonRepository) Delete(ctx context.Context, layer models.Layer, id int64) (*models.Shape, error) {
	args := m.Called(ctx, layer, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Shape), args.Error(1)
}

func (m *MockPolygonRepository) FindByID(ctx context.Context, layer models.Layer, id int64) (*models.Shape, error) {
	args := m.Called(ctx, layer, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Shape), args.Error(1)
}

func (m *MockPolygonRepository) FindByCode(ctx context.Context, layer models.Layer, code string) (*models.Shape, error) {
	args := m.Called(ctx, layer, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Shape), args.Error(1)
}

// MockViewRefresher is a mock implementation of VectorViewRefresher
type MockViewRefresher struct {
	mock.Mock
}

func (m *MockViewRefresher) RefreshVectorView(ctx context.Context, layer models.Layer) error {
	return m.Called(ctx, layer).Error(0)
}

// MockTileInvalidator is a mock implementation of TileInvalidator
type MockTileInvalidator struct {
	mock.Mock
}

func (m *MockTileInvalidator) Invalidate(ctx context.Context, layer models.Layer, codes ...string) {
	m.Called(ctx, layer, codes)
}

// MockPhotoStorage is a mock implementation of PhotoStorage
type MockPhotoStorage struct {
	mock.Mock
}

func (m *MockPhotoStorage) List(nop string) ([]string, error) {
	args := m.Called(nop)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockPhotoStorage) Save(nop, filename string, r io.Reader) (string, error) {
	args := m.Called(nop, filename, r)
	return args.String(0), args.Error(1)
}

func (m *MockPhotoStorage) Delete(nop string, names ...string) error {
	return m.Called(nop, names).Error(0)
}

func (m *MockPhotoStorage) Move(from, to string) error {
	return m.Called(from, to).Error(0)
}

func (m *MockPhotoStorage) RemoveAll(nop string) error {
	return m.Called(nop).Error(0)
}

// MockTileSource is a mock implementation of tiles.Source
type MockTileSource struct {
	mock.Mock
}

func (m *MockTileSource) FeaturesInBounds(ctx context.Context, layer models.Layer, bbox *orb.Bound, tolerance float64, filter string) ([]models.Shape, error) {
	args := m.Called(ctx, layer, bbox, tolerance, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Shape), args.Error(1)
}

func (m *MockTileSource) VectorTile(ctx context.Context, layer models.Layer, tile tiles.Tile, toleranceMeters float64, filter string) ([]byte, error) {
	args := m.Called(ctx, layer, tile, toleranceMeters, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// memoryCache is an in-memory TileCache recording what was stored.
type memoryCache struct {
	entries map[string][]byte
	ttls    map[string]time.Duration
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (c *memoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, ok := c.entries[key]
	return b, ok, nil
}

func (c *memoryCache) Set(_ context.Context, key string, body []byte, ttl time.Duration) error {
	c.entries[key] = body
	c.ttls[key] = ttl
	return nil
}

func (c *memoryCache) DeletePrefix(_ context.Context, prefix string) (int, error) {
	n := 0
	for k := range c.entries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(c.entries, k)
			n++
		}
	}
	return n, nil
}

func (c *memoryCache) Ping(context.Context) error { return nil }
