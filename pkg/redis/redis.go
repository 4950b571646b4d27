package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ghalitsar-coder/eschool-app-sub001/pkg/config"
)

// Config holds the connection settings for the shared rate limit store
type Config struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// ConnectRetries is how many extra pings NewClient tries before giving up
	ConnectRetries int
	ConnectBackoff time.Duration
}

// DefaultConfig returns settings for a local redis
func DefaultConfig() *Config {
	return &Config{
		Host:           "localhost",
		Port:           6379,
		PoolSize:       20,
		MinIdleConns:   2,
		DialTimeout:    5 * time.Second,
		ReadTimeout:    3 * time.Second,
		WriteTimeout:   3 * time.Second,
		ConnectRetries: 3,
		ConnectBackoff: 2 * time.Second,
	}
}

// ConfigFrom maps application configuration onto connection settings
func ConfigFrom(rc config.RedisConfig) *Config {
	cfg := DefaultConfig()
	cfg.Host = rc.Host
	cfg.Port = rc.Port
	cfg.Password = rc.Password
	cfg.DB = rc.DB
	if rc.PoolSize > 0 {
		cfg.PoolSize = rc.PoolSize
	}
	cfg.MinIdleConns = rc.MinIdleConns
	if rc.DialTimeout > 0 {
		cfg.DialTimeout = rc.DialTimeout
	}
	if rc.ReadTimeout > 0 {
		cfg.ReadTimeout = rc.ReadTimeout
	}
	if rc.WriteTimeout > 0 {
		cfg.WriteTimeout = rc.WriteTimeout
	}
	return cfg
}

// Addr returns host:port
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *Config) options() *redis.Options {
	return &redis.Options{
		Addr:         c.Addr(),
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
	}
}

// Client is a connected redis handle
type Client struct {
	rdb  *redis.Client
	addr string
}

// NewClient connects and pings, retrying with a fixed backoff until ctx is done
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	rdb := redis.NewClient(cfg.options())
	if err := waitReady(ctx, rdb, cfg.ConnectRetries, cfg.ConnectBackoff); err != nil {
		_ = rdb.Close()
		return nil, err
	}

	return &Client{rdb: rdb, addr: cfg.Addr()}, nil
}

func waitReady(ctx context.Context, rdb *redis.Client, retries int, backoff time.Duration) error {
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("redis connect cancelled: %w", ctx.Err())
			case <-timer.C:
			}
		}
		if err = rdb.Ping(ctx).Err(); err == nil {
			return nil
		}
	}
	return fmt.Errorf("redis unreachable after %d attempts: %w", retries+1, err)
}

// Redis exposes the go-redis client, e.g. for running scripts
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

// Addr returns the server address the client talks to
func (c *Client) Addr() string {
	return c.addr
}

// Close releases the connection pool
func (c *Client) Close() error {
	return c.rdb.Close()
}

// HealthCheck pings with a short deadline
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	pong, err := c.rdb.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("redis ping %s: %w", c.addr, err)
	}
	if pong != "PONG" {
		return fmt.Errorf("redis ping %s: unexpected reply %q", c.addr, pong)
	}
	return nil
}
