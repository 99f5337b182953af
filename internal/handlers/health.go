package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sipanop/webgis/api/internal/database"
	"github.com/sipanop/webgis/api/internal/middleware"
)

const (
	// APIVersion is the current version of the API
	APIVersion = "0.1.0"
	// HealthCheckTimeout is the timeout for dependency health checks
	HealthCheckTimeout = 2 * time.Second
)

// Pinger is a dependency that can report whether it is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// poolReporter is implemented by a database Pinger that exposes pool counters.
type poolReporter interface {
	Stats() database.PoolStats
}

// HealthHandler handles health check and readiness endpoints.
type HealthHandler struct {
	db        Pinger
	cache     Pinger
	startTime time.Time
	env       string
}

// NewHealthHandler creates a new HealthHandler instance. cache may be nil
// when the tile cache is disabled.
func NewHealthHandler(db Pinger, cache Pinger, env string) *HealthHandler {
	return &HealthHandler{
		db:        db,
		cache:     cache,
		startTime: time.Now(),
		env:       env,
	}
}

// HealthResponse represents the basic health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	Status   string              `json:"status"`
	Database string              `json:"database"`
	Cache    string              `json:"cache"`
	Pool     *database.PoolStats `json:"pool,omitempty"`
}

// InfoResponse represents the API information response.
type InfoResponse struct {
	Version     string `json:"version"`
	Environment string `json:"environment"`
	Uptime      string `json:"uptime"`
}

// Health handles GET /health endpoint.
// This is a basic health check that always returns 200 OK.
// It does not check any dependencies and is used for basic liveness checks.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status: "healthy",
	})
}

// Ready handles GET /health/ready endpoint.
// Returns 200 OK if the database is connected, 503 Service Unavailable
// otherwise. The tile cache is optional: an unreachable cache is reported
// but does not fail readiness because tiles are then rendered uncached.
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), HealthCheckTimeout)
	defer cancel()

	log := middleware.GetLogger(c)
	response := ReadyResponse{
		Status:   "ready",
		Database: "connected",
		Cache:    "disabled",
	}

	if h.cache != nil {
		response.Cache = "connected"
		if err := h.cache.Ping(ctx); err != nil {
			if log != nil {
				log.Warn("Tile cache health check failed", map[string]interface{}{
					"timeout": HealthCheckTimeout.String(),
					"error":   err.Error(),
				})
			}
			response.Cache = "unavailable"
		}
	}

	if err := h.db.Ping(ctx); err != nil {
		if log != nil {
			log.Error("Database health check failed", err, map[string]interface{}{
				"timeout": HealthCheckTimeout.String(),
			})
		}

		response.Status = "not_ready"
		response.Database = "disconnected"
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	if reporter, ok := h.db.(poolReporter); ok {
		stats := reporter.Stats()
		response.Pool = &stats
	}

	c.JSON(http.StatusOK, response)
}

// Info handles GET /api/v1/info endpoint.
// Returns API metadata including version, environment, and uptime.
func (h *HealthHandler) Info(c *gin.Context) {
	uptime := time.Since(h.startTime)

	c.JSON(http.StatusOK, InfoResponse{
		Version:     APIVersion,
		Environment: h.env,
		Uptime:      formatUptime(uptime),
	})
}

// formatUptime formats a duration into a human-readable string.
func formatUptime(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
}
