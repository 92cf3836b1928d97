// Package session keeps short-lived per-chat state in Redis: command rate
// limits and the set of webhook messages already handled.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements ephemeral chat state on Redis. Every key carries a TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "chat:",
	}
}

func (s *RedisStore) key(kind, id string) string {
	return s.prefix + kind + ":" + id
}

// Usage is the outcome of one rate-limited call.
type Usage struct {
	Allowed    bool
	Count      int64
	Limit      int64
	RetryAfter time.Duration
}

// Hit counts one use of name in chatID within a fixed window and reports
// whether it stays within limit. A limit <= 0 disables the check.
func (s *RedisStore) Hit(ctx context.Context, name, chatID string, limit int64, window time.Duration) (Usage, error) {
	if limit <= 0 {
		return Usage{Allowed: true, Limit: limit}, nil
	}
	key := s.key("limit:"+name, chatID)

	var (
		incr *redis.IntCmd
		ttl  *redis.DurationCmd
	)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		ttl = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		return Usage{}, fmt.Errorf("count %s: %w", name, err)
	}

	remaining := ttl.Val()
	if remaining < 0 {
		// First hit in this window, or a key that lost its TTL.
		if err := s.client.PExpire(ctx, key, window).Err(); err != nil {
			return Usage{}, fmt.Errorf("expire %s: %w", name, err)
		}
		remaining = window
	}

	count := incr.Val()
	usage := Usage{Allowed: count <= limit, Count: count, Limit: limit}
	if !usage.Allowed {
		usage.RetryAfter = remaining
	}
	return usage, nil
}

// MarkSeen records a webhook message id and reports whether it was new.
// Platforms redeliver on timeouts; the second delivery returns false.
func (s *RedisStore) MarkSeen(ctx context.Context, messageID string, ttl time.Duration) (bool, error) {
	if messageID == "" {
		return true, nil
	}
	ok, err := s.client.SetNX(ctx, s.key("seen", messageID), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark seen: %w", err)
	}
	return ok, nil
}

// Forget clears a MarkSeen entry so a failed delivery can be retried.
func (s *RedisStore) Forget(ctx context.Context, messageID string) error {
	if messageID == "" {
		return nil
	}
	if err := s.client.Del(ctx, s.key("seen", messageID)).Err(); err != nil {
		return fmt.Errorf("forget seen: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
