package client

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresClient holds the connection pool backing the analysis journal.
type PostgresClient struct {
	Pool *pgxpool.Pool
}

// NewPostgresClient opens a pool against databaseURL and verifies it with a
// ping. maxConns <= 0 keeps the pgx default.
func NewPostgresClient(ctx context.Context, databaseURL string, maxConns int32) (*PostgresClient, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	// Journal writes are bursty, idle connections are not worth holding.
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}

	return &PostgresClient{Pool: pool}, nil
}

// Ping is used by the readiness check.
func (c *PostgresClient) Ping(ctx context.Context) error {
	return c.Pool.Ping(ctx)
}

// Close releases every pooled connection.
func (c *PostgresClient) Close() {
	c.Pool.Close()
}
