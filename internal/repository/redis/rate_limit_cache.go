package redis

import (
	"context"
	"fmt"
	"time"

	"webgrave/internal/client"
	"webgrave/internal/util"
)

const rateLimitPrefix = "rate_limit:"

type RateLimitCache struct {
	client *client.RedisClient
}

func NewRateLimitCache(client *client.RedisClient) *RateLimitCache {
	return &RateLimitCache{client: client}
}

// IncrementCounter bumps the fixed-window counter for key and returns the
// new count together with the time left in the window.
func (c *RateLimitCache) IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	rateLimitKey := rateLimitPrefix + key

	pipe := c.client.Client.TxPipeline()
	pipe.SetNX(ctx, rateLimitKey, 0, window)
	incr := pipe.Incr(ctx, rateLimitKey)
	ttl := pipe.PTTL(ctx, rateLimitKey)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to increment rate limit counter",
			util.String("key", key),
			util.ErrorField(err))
		return 0, 0, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	remaining := ttl.Val()
	if remaining < 0 {
		remaining = window
	}
	return incr.Val(), remaining, nil
}

// Allow reports whether another request under key fits in limit per window.
// Redis errors fail open.
func (c *RateLimitCache) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration) {
	count, remaining, err := c.IncrementCounter(ctx, key, window)
	if err != nil {
		util.Warn("Rate limiter unavailable, allowing request", util.String("key", key))
		return true, 0
	}
	if count > int64(limit) {
		util.Debug("Rate limit exceeded",
			util.String("key", key),
			util.Int64("count", count),
			util.Int("limit", limit))
		return false, remaining
	}
	return true, 0
}
