// Package redis journals opportunities to Redis and guards live submission
// with a single-instance lease.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	// Addr is host:port of the server.
	Addr string

	// Password is optional. Empty means no AUTH.
	Password string

	// DB selects the logical database.
	DB int

	// PoolSize caps open connections. Zero uses the go-redis default of ten
	// per CPU.
	PoolSize int

	// MaxRetries is how often a failed command is retried before the error
	// reaches the caller. Lease renewals and journal writes inherit it.
	MaxRetries int

	// TLSEnabled turns on TLS 1.2+ for managed Redis offerings.
	TLSEnabled bool
}

// Client wraps a go-redis client. The journal, lease and rate limiter in this
// package share one Client and therefore one connection pool.
type Client struct {
	rdb *redis.Client
}

// New builds the client and pings the server once so that a bad address or
// password fails at startup rather than on the first opportunity. The
// client is closed again when the ping fails.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// Ping checks the connection. It backs the redis health check.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying returns the raw driver client for the scripts and streams
// used elsewhere in this package.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
