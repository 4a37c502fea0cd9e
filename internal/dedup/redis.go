// Package dedup reserves webhook event keys in Redis so that replicas
// sharing a Redis instance process each redelivered event once.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chatrelay/chatrelay/internal/config"
)

const KeyPrefix = "chatrelay:dedup:"

// RedisClaimer implements inbound.Claimer with SET NX.
type RedisClaimer struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewClient builds a go-redis client from cfg and verifies it with PING.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

func NewRedisClaimer(log *slog.Logger, client *redis.Client, ttl time.Duration) *RedisClaimer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisClaimer{
		client: client,
		ttl:    ttl,
		logger: log.With(slog.String("component", "dedup")),
	}
}

// Claim returns true when the caller is the first to reserve key. Redis
// errors are returned together with true so callers can fail open.
func (c *RedisClaimer) Claim(ctx context.Context, key string) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return true, nil
	}
	ok, err := c.client.SetNX(ctx, KeyPrefix+key, time.Now().UTC().Format(time.RFC3339Nano), c.ttl).Result()
	if err != nil {
		c.logger.Warn("redis claim failed, failing open", slog.String("key", key), slog.Any("error", err))
		return true, err
	}
	return ok, nil
}

// Release drops a reservation so a failed event can be retried on redelivery.
func (c *RedisClaimer) Release(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	if err := c.client.Del(ctx, KeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}
