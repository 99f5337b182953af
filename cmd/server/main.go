package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sipanop/webgis/api/internal/cache"
	"github.com/sipanop/webgis/api/internal/config"
	"github.com/sipanop/webgis/api/internal/database"
	"github.com/sipanop/webgis/api/internal/handlers"
	"github.com/sipanop/webgis/api/internal/logger"
	"github.com/sipanop/webgis/api/internal/middleware"
	"github.com/sipanop/webgis/api/internal/repository"
	"github.com/sipanop/webgis/api/internal/services"
	"github.com/sipanop/webgis/api/internal/storage"
	"github.com/sipanop/webgis/api/internal/tiles"
	"github.com/spf13/afero"
)

const (
	shutdownTimeout   = 30 * time.Second
	readHeaderTimeout = 10 * time.Second
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	log := logger.New(cfg.Server.Env)
	log.Info("Starting WebGIS API", map[string]interface{}{
		"version":     handlers.APIVersion,
		"environment": cfg.Server.Env,
		"port":        cfg.Server.Port,
	})

	if cfg.Database.AutoMigrate {
		applied, err := database.RunMigrations(cfg.Database)
		if err != nil {
			log.Fatal("Failed to run migrations", err, map[string]interface{}{
				"path": cfg.Database.MigrationsPath,
			})
		}
		log.Info("Migrations checked", map[string]interface{}{
			"path":    cfg.Database.MigrationsPath,
			"applied": applied,
		})
	}

	// Create database connection pool
	ctx := context.Background()
	db, err := database.NewPostgresPool(ctx, cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", err, map[string]interface{}{
			"host": cfg.Database.Host,
			"port": cfg.Database.Port,
			"name": cfg.Database.Name,
		})
	}
	defer db.Close()

	log.Info("Database connection established", map[string]interface{}{
		"host":     cfg.Database.Host,
		"port":     cfg.Database.Port,
		"database": cfg.Database.Name,
		"pool_min": cfg.Database.PoolMin,
		"pool_max": cfg.Database.PoolMax,
	})

	// Optional Redis tile cache
	var (
		tileCache   cache.TileCache = cache.NoopCache{}
		cachePinger handlers.Pinger
		redisClient *redis.Client
	)
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			log.Warn("Redis unavailable, serving tiles uncached", map[string]interface{}{
				"addr":  cfg.Redis.Addr(),
				"error": err.Error(),
			})
		} else {
			defer redisClient.Close()
			redisCache := cache.NewRedisTileCache(redisClient)
			tileCache = redisCache
			cachePinger = redisCache
			log.Info("Tile cache connected", map[string]interface{}{
				"addr": cfg.Redis.Addr(),
				"db":   cfg.Redis.DB,
			})
		}
	}

	// Parcel photo storage rooted at the upload directory
	if err := os.MkdirAll(cfg.Storage.UploadDir, 0o755); err != nil {
		log.Fatal("Failed to create upload directory", err, map[string]interface{}{
			"dir": cfg.Storage.UploadDir,
		})
	}
	photoStore := storage.NewPhotoStore(
		afero.NewBasePathFs(afero.NewOsFs(), cfg.Storage.UploadDir),
		cfg.Storage.URLPrefix,
	)

	// Initialize repository and service layers
	tileRepo := repository.NewTileRepository(db, log)
	polygonRepo := repository.NewPolygonRepository(db)
	tileService := services.NewTileService(tileRepo, tiles.NewSerializers(), tileCache, log)
	polygonService := services.NewPolygonService(polygonRepo, tileRepo, tileService, photoStore, log)

	// Initialize handlers
	maxBody := int64(cfg.Storage.MaxUploadMB) << 20
	healthHandler := handlers.NewHealthHandler(db, cachePinger, cfg.Server.Env)
	tileHandler := handlers.NewTileHandler(tileService)
	polygonHandler := handlers.NewPolygonHandler(polygonService, maxBody)

	// Setup Gin router
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware in order: RequestID -> Logger -> Recovery -> CORS
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS(cfg.CORS.Origins))

	// Register health check routes
	router.GET("/health", healthHandler.Health)
	router.GET("/health/ready", healthHandler.Ready)
	router.GET("/api/v1/info", healthHandler.Info)

	// Uploaded parcel photos
	router.StaticFS(cfg.Storage.URLPrefix, afero.NewHttpFs(photoStore.Fs()).Dir("/"))

	api := router.Group("/api")
	{
		tileRoutes := api.Group("/tiles")
		{
			tileRoutes.GET("/:layer", tileHandler.GeoJSON)
			tileRoutes.GET("/:layer/mvt/:z/:x/:y", tileHandler.VectorTile)
		}

		mutations := api.Group("", middleware.BodyLimit(maxBody))
		polygonHandler.RegisterLayerRoutes(mutations)
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server listening", map[string]interface{}{
			"port": cfg.Server.Port,
			"addr": srv.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", err, nil)
		}
	}()

	// Wait for interrupt signal (SIGINT or SIGTERM)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Graceful shutdown
	log.Info("Shutting down server...", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", err, map[string]interface{}{
			"timeout": shutdownTimeout.String(),
		})
	}

	log.Info("Server exited", nil)
}
