package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sipanop/webgis/api/internal/config"
)

// SQLSTATE codes for relations or columns that do not exist.
const (
	codeUndefinedTable  = "42P01"
	codeUndefinedColumn = "42703"
)

// Database wraps the pgx connection pool shared by every repository.
type Database struct {
	Pool *pgxpool.Pool
}

// NewPostgresPool creates a PostGIS connection pool using pgx.
// It configures the pool from cfg, pings the server and returns a Database.
func NewPostgresPool(ctx context.Context, cfg config.DatabaseConfig) (*Database, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MinConns = int32(cfg.PoolMin)
	poolConfig.MaxConns = int32(cfg.PoolMax)

	poolConfig.ConnConfig.ConnectTimeout = 5 * time.Second
	poolConfig.MaxConnIdleTime = 30 * time.Second
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{Pool: pool}, nil
}

// RunMigrations applies every pending migration under cfg.MigrationsPath.
// It reports whether anything was applied.
func RunMigrations(cfg config.DatabaseConfig) (bool, error) {
	m, err := migrate.New("file://"+cfg.MigrationsPath, cfg.DSN())
	if err != nil {
		return false, fmt.Errorf("failed to open migrations at %s: %w", cfg.MigrationsPath, err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return false, nil
		}
		return false, fmt.Errorf("failed to apply migrations: %w", err)
	}
	return true, nil
}

// IsUndefinedRelation reports whether err is a PostgreSQL error for a missing
// table, view or column.
func IsUndefinedRelation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeUndefinedTable || pgErr.Code == codeUndefinedColumn
}

// Ping checks if the database connection is alive.
func (db *Database) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Close closes the pool once all acquired connections are released.
func (db *Database) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// PoolStats is a snapshot of the connection pool counters.
type PoolStats struct {
	Total    int32 `json:"total"`
	Idle     int32 `json:"idle"`
	Acquired int32 `json:"acquired"`
	Max      int32 `json:"max"`
}

// Stats returns statistics about the connection pool. A closed or
// unconnected Database reports zeros.
func (db *Database) Stats() PoolStats {
	if db.Pool == nil {
		return PoolStats{}
	}
	stat := db.Pool.Stat()
	return PoolStats{
		Total:    stat.TotalConns(),
		Idle:     stat.IdleConns(),
		Acquired: stat.AcquiredConns(),
		Max:      stat.MaxConns(),
	}
}
