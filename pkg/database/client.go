// Package database provides the pooled PostgreSQL gateway and migration
// utilities for the application database.
package database

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for golang-migrate
)

// Client wraps the application database pool. Callers borrow a connection
// for the lifetime of one operation via Acquire and must release it on all
// exit paths; most callers go through pool-level Query/Exec helpers which do
// this implicitly.
type Client struct {
	pool *pgxpool.Pool
	db   *stdsql.DB // shared database/sql handle for migrations and health
	cfg  Config
}

// Pool returns the underlying pgx pool.
func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

// DB returns the database/sql handle used by migrations and health checks.
func (c *Client) DB() *stdsql.DB {
	return c.db
}

// Config returns the configuration the client was opened with.
func (c *Client) Config() Config {
	return c.cfg
}

// poolConfig builds the pgxpool configuration. The command timeout is
// applied as a per-connection statement_timeout so runaway queries are
// killed server-side.
func poolConfig(cfg Config) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	if cfg.CommandTimeout > 0 {
		poolCfg.ConnConfig.RuntimeParams["statement_timeout"] =
			strconv.FormatInt(cfg.CommandTimeout.Milliseconds(), 10)
	}
	return poolCfg, nil
}

// NewClient opens the pool, verifies connectivity, and applies pending
// migrations.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	poolCfg, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Separate database/sql handle for golang-migrate; a single connection
	// suffices since it is only used at startup and for health pings.
	db, err := stdsql.Open("pgx", cfg.DSN())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to open migration connection: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := runMigrations(db, cfg); err != nil {
		_ = db.Close()
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Client{pool: pool, db: db, cfg: cfg}, nil
}

// Close releases the pool and the migration connection.
func (c *Client) Close() error {
	c.pool.Close()
	return c.db.Close()
}
