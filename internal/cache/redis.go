package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/hyperjump/setsumei/internal/models"
)

// RedisClient is the subset of the Redis client the cache uses.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// Redis shares explanations between server instances through Redis.
type Redis struct {
	client RedisClient
	ttl    time.Duration
}

// redisEntry carries the fidelity block that the public JSON form omits.
type redisEntry struct {
	Explanation *models.Explanation `json:"explanation"`
	Fidelity    *models.Fidelity    `json:"fidelity,omitempty"`
}

// NewRedis connects to addr and verifies the connection with PING.
func NewRedis(ctx context.Context, addr string, db int, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return NewRedisWithClient(client, ttl), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client RedisClient, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// Get fetches and decodes an explanation; a missing key is a miss, not an error.
func (r *Redis) Get(ctx context.Context, key string) (*models.Explanation, bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	var entry redisEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, fmt.Errorf("decode cached explanation: %w", err)
	}
	if entry.Explanation == nil {
		return nil, false, nil
	}
	entry.Explanation.Fidelity = entry.Fidelity
	return entry.Explanation, true, nil
}

// Set encodes and stores e with the configured TTL.
func (r *Redis) Set(ctx context.Context, key string, e *models.Explanation) error {
	data, err := json.Marshal(redisEntry{Explanation: e, Fidelity: e.Fidelity})
	if err != nil {
		return fmt.Errorf("encode explanation: %w", err)
	}
	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}
