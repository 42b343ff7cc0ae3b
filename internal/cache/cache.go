// Package cache mirrors the latest feed state into Redis so other services
// can read it without going through the API.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/rewired-gh/firewatch/internal/feed"
)

// DefaultKey holds the latest state JSON.
const DefaultKey = "firewatch:latest"

// ErrMiss is returned when no state is cached.
var ErrMiss = errors.New("no cached state")

// Config holds Redis settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	Key      string
	TTL      time.Duration
}

// NewRedisClient creates a Redis client.
func NewRedisClient(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// LatestCache stores the latest state under a single key.
type LatestCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	logger *zap.Logger
}

// NewLatestCache wraps a client. A zero TTL keeps the key forever.
func NewLatestCache(client *redis.Client, key string, ttl time.Duration, logger *zap.Logger) *LatestCache {
	if key == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LatestCache{client: client, key: key, ttl: ttl, logger: logger}
}

// Ping checks the connection.
func (c *LatestCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Put replaces the cached state.
func (c *LatestCache) Put(ctx context.Context, st feed.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := c.client.Set(ctx, c.key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache state: %w", err)
	}
	c.logger.Debug("Cached latest state",
		zap.String("key", c.key),
		zap.String("level", st.Assessment.Level.String()),
	)
	return nil
}

// Get returns the cached state or ErrMiss.
func (c *LatestCache) Get(ctx context.Context) (feed.State, error) {
	data, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return feed.State{}, ErrMiss
	}
	if err != nil {
		return feed.State{}, fmt.Errorf("failed to read cached state: %w", err)
	}
	var st feed.State
	if err := json.Unmarshal(data, &st); err != nil {
		return feed.State{}, fmt.Errorf("failed to unmarshal cached state: %w", err)
	}
	return st, nil
}

// Close closes the client.
func (c *LatestCache) Close() error {
	return c.client.Close()
}
