// Package database opens the pgx connection pool behind the postgres
// state backend.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolOptions tunes NewPool. Zero values take the defaults below.
type PoolOptions struct {
	URL            string
	MaxConns       int32
	ConnectTimeout time.Duration
}

const (
	defaultMaxConns       = 4
	defaultConnectTimeout = 10 * time.Second
	applicationName       = "civicpulse"
)

// parseConfig applies the pool settings without connecting.
func parseConfig(opts PoolOptions) (*pgxpool.Config, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("database URL is empty")
	}
	cfg, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid database URL: %w", err)
	}

	// One row is rewritten per snapshot, so the pool stays small.
	cfg.MaxConns = opts.MaxConns
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = defaultMaxConns
	}
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second
	if _, ok := cfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		cfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	}
	return cfg, nil
}

// NewPool connects to Postgres and verifies the connection with a ping.
func NewPool(ctx context.Context, opts PoolOptions) (*pgxpool.Pool, error) {
	cfg, err := parseConfig(opts)
	if err != nil {
		return nil, err
	}

	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return pool, nil
}
