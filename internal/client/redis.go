package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// outcomeKeyPrefix namespaces relayed correlation outcomes.
const outcomeKeyPrefix = "analysis:outcome:"

// ErrNoOutcome is returned by AwaitOutcome when nothing arrived in time.
var ErrNoOutcome = fmt.Errorf("no outcome relayed")

// RedisClient relays terminal correlation outcomes between service instances.
//
// Pattern: the instance that owns a tracking id RPUSHes the outcome JSON to
// "analysis:outcome:{id}" and sets a TTL. Any instance asked to wait on an id
// it does not own BLPOPs that key.
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient creates a new Redis client from URL.
// URL format: redis://[:password@]host:port/db
func NewRedisClient(url string) (*RedisClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisClient{client: client}, nil
}

// NewRedisClientFrom wraps an existing go-redis client.
func NewRedisClientFrom(client *redis.Client) *RedisClient {
	return &RedisClient{client: client}
}

// Close closes the Redis connection.
func (r *RedisClient) Close() error {
	return r.client.Close()
}

// OutcomeKey returns the list key for id.
func OutcomeKey(id string) string {
	return outcomeKeyPrefix + id
}

// PublishOutcome pushes value for id and bounds the key's lifetime with ttl.
func (r *RedisClient) PublishOutcome(ctx context.Context, id string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}

	key := OutcomeKey(id)
	if err := r.client.RPush(ctx, key, string(data)).Err(); err != nil {
		return fmt.Errorf("failed to push outcome: %w", err)
	}
	if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set outcome expiry: %w", err)
	}
	return nil
}

// AwaitOutcome blocks for up to timeout waiting for the outcome of id and
// returns its raw JSON. It returns ErrNoOutcome when the wait expires.
func (r *RedisClient) AwaitOutcome(ctx context.Context, id string, timeout time.Duration) ([]byte, error) {
	result, err := r.client.BLPop(ctx, timeout, OutcomeKey(id)).Result()
	if err == redis.Nil {
		return nil, ErrNoOutcome
	}
	if err != nil {
		return nil, err
	}

	// BLPop returns [key, value] pair
	if len(result) < 2 {
		return nil, fmt.Errorf("unexpected blpop result format")
	}
	return []byte(result[1]), nil
}

// Ping checks Redis connectivity.
func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
