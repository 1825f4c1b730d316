package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opspulse/opspulse/pkg/config"
	"github.com/opspulse/opspulse/pkg/errors"
)

// Client wraps the Redis client used by the notification queue and the log
// event stream. All stream and sorted-set access in the platform goes
// through this wrapper so error translation stays in one place.
type Client struct {
	client *redis.Client
	config *config.RedisConfig
}

// NewClient creates a Redis client and verifies connectivity with a ping.
func NewClient(cfg *config.RedisConfig) (*Client, error) {
	if cfg == nil {
		return nil, errors.NewValidationError("Redis configuration is required")
	}

	client := redis.NewClient(clientOptions(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.NewStoreUnavailableError("redis").WithCause(err)
	}

	return &Client{
		client: client,
		config: cfg,
	}, nil
}

// NewClientLazy creates a Redis client without verifying connectivity.
// Callers that can operate degraded (local fallback queue) use this so a
// Redis outage at startup does not take the process down with it.
func NewClientLazy(cfg *config.RedisConfig) (*Client, error) {
	if cfg == nil {
		return nil, errors.NewValidationError("Redis configuration is required")
	}

	return &Client{
		client: redis.NewClient(clientOptions(cfg)),
		config: cfg,
	}, nil
}

func clientOptions(cfg *config.RedisConfig) *redis.Options {
	return &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,

		// Connection timeouts
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		// Pool timeouts
		PoolTimeout:     4 * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,

		// Retry configuration
		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	}
}

// NewClientFromRedis wraps an existing Redis client. Used by tests that run
// against an in-process Redis.
func NewClientFromRedis(client *redis.Client) *Client {
	return &Client{client: client}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Health checks the Redis connection health
func (c *Client) Health(ctx context.Context) error {
	if c.client == nil {
		return errors.NewInternalError("Redis client is nil")
	}

	if err := c.client.Ping(ctx).Err(); err != nil {
		return errors.NewStoreUnavailableError("redis").WithCause(err)
	}

	return nil
}

// Client returns the underlying Redis client
func (c *Client) Client() *redis.Client {
	return c.client
}

// Stats returns Redis connection statistics
func (c *Client) Stats() *redis.PoolStats {
	return c.client.PoolStats()
}

// Get gets a value by key
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", errors.NewNotFoundError("key")
		}
		return "", errors.NewStoreUnavailableError("redis").WithCause(err)
	}
	return val, nil
}

// Set sets a key-value pair with optional expiration
func (c *Client) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if err := c.client.Set(ctx, key, value, expiration).Err(); err != nil {
		return errors.NewStoreUnavailableError("redis").WithCause(err)
	}
	return nil
}

// Del deletes keys
func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	count, err := c.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, errors.NewStoreUnavailableError("redis").WithCause(err)
	}
	return count, nil
}

// Incr increments a counter key
func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, errors.NewStoreUnavailableError("redis").WithCause(err)
	}
	return count, nil
}

// LPush pushes elements to the left of a list
func (c *Client) LPush(ctx context.Context, key string, values ...interface{}) error {
	if err := c.client.LPush(ctx, key, values...).Err(); err != nil {
		return errors.NewStoreUnavailableError("redis").WithCause(err)
	}
	return nil
}

// LLen returns the length of a list
func (c *Client) LLen(ctx context.Context, key string) (int64, error) {
	length, err := c.client.LLen(ctx, key).Result()
	if err != nil {
		return 0, errors.NewStoreUnavailableError("redis").WithCause(err)
	}
	return length, nil
}

// LRange returns a range of list elements
func (c *Client) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vals, err := c.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, errors.NewStoreUnavailableError("redis").WithCause(err)
	}
	return vals, nil
}

// ZAdd adds elements to a sorted set
func (c *Client) ZAdd(ctx context.Context, key string, members ...redis.Z) error {
	if err := c.client.ZAdd(ctx, key, members...).Err(); err != nil {
		return errors.NewStoreUnavailableError("redis").WithCause(err)
	}
	return nil
}

// ZPopMin pops the lowest-scored elements from a sorted set
func (c *Client) ZPopMin(ctx context.Context, key string, count ...int64) ([]redis.Z, error) {
	val, err := c.client.ZPopMin(ctx, key, count...).Result()
	if err != nil {
		return nil, errors.NewStoreUnavailableError("redis").WithCause(err)
	}
	return val, nil
}

// ZCard returns the cardinality of a sorted set
func (c *Client) ZCard(ctx context.Context, key string) (int64, error) {
	count, err := c.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, errors.NewStoreUnavailableError("redis").WithCause(err)
	}
	return count, nil
}

// ZRangeByScore returns sorted-set members within a score range
func (c *Client) ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) ([]string, error) {
	vals, err := c.client.ZRangeByScore(ctx, key, opt).Result()
	if err != nil {
		return nil, errors.NewStoreUnavailableError("redis").WithCause(err)
	}
	return vals, nil
}

// ZRem removes members from a sorted set, returning how many were removed
func (c *Client) ZRem(ctx context.Context, key string, members ...interface{}) (int64, error) {
	removed, err := c.client.ZRem(ctx, key, members...).Result()
	if err != nil {
		return 0, errors.NewStoreUnavailableError("redis").WithCause(err)
	}
	return removed, nil
}

// XAdd appends an entry to a stream, trimming approximately to maxLen
func (c *Client) XAdd(ctx context.Context, stream string, maxLen int64, values map[string]interface{}) (string, error) {
	id, err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return "", errors.NewStoreUnavailableError("redis").WithCause(err)
	}
	return id, nil
}

// XGroupCreateMkStream creates a consumer group, creating the stream if it
// does not exist yet
func (c *Client) XGroupCreateMkStream(ctx context.Context, stream, group, start string) error {
	return c.client.XGroupCreateMkStream(ctx, stream, group, start).Err()
}

// XReadGroup reads pending entries for a consumer group
func (c *Client) XReadGroup(ctx context.Context, args *redis.XReadGroupArgs) ([]redis.XStream, error) {
	return c.client.XReadGroup(ctx, args).Result()
}

// XAck acknowledges processed stream entries
func (c *Client) XAck(ctx context.Context, stream, group string, ids ...string) error {
	if err := c.client.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return errors.NewStoreUnavailableError("redis").WithCause(err)
	}
	return nil
}

// XLen returns the number of entries in a stream
func (c *Client) XLen(ctx context.Context, stream string) (int64, error) {
	length, err := c.client.XLen(ctx, stream).Result()
	if err != nil {
		return 0, errors.NewStoreUnavailableError("redis").WithCause(err)
	}
	return length, nil
}

// XPending returns the pending-entry summary for a consumer group
func (c *Client) XPending(ctx context.Context, stream, group string) (*redis.XPending, error) {
	pending, err := c.client.XPending(ctx, stream, group).Result()
	if err != nil {
		return nil, errors.NewStoreUnavailableError("redis").WithCause(err)
	}
	return pending, nil
}

// XInfoGroups returns the consumer groups attached to a stream
func (c *Client) XInfoGroups(ctx context.Context, stream string) ([]redis.XInfoGroup, error) {
	groups, err := c.client.XInfoGroups(ctx, stream).Result()
	if err != nil {
		return nil, errors.NewStoreUnavailableError("redis").WithCause(err)
	}
	return groups, nil
}

// XAutoClaim reclaims entries whose consumer has been idle longer than
// minIdle, handing them to the given consumer
func (c *Client) XAutoClaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, start string, count int64) ([]redis.XMessage, string, error) {
	msgs, next, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    start,
		Count:    count,
	}).Result()
	if err != nil {
		return nil, "", errors.NewStoreUnavailableError("redis").WithCause(err)
	}
	return msgs, next, nil
}

// Pipeline returns a new pipeline on the underlying client
func (c *Client) Pipeline() redis.Pipeliner {
	return c.client.Pipeline()
}
