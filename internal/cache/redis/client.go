// Package redis implements the event mirror, distributed locks, and
// rate limiting using go-redis/v9. Everything here is optional fan-out
// and coordination; the pipeline's record of truth stays on disk.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ClientConfig carries the connection settings the advisor needs; the
// driver's remaining knobs keep their defaults.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

// Client wraps the driver so the rest of the code never imports
// go-redis directly outside this package.
type Client struct {
	rdb *redis.Client
}

// New connects and pings once so a bad address fails at startup rather
// than on the first mirrored event.
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

// Ping reports current connectivity, surfaced by the status endpoint.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

func (c *Client) Close() error { return c.rdb.Close() }

// Underlying hands the raw driver to the mirror, lock, and limiter
// constructors in this package.
func (c *Client) Underlying() *redis.Client { return c.rdb }
