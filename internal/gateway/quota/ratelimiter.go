package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RateLimiter provides per-user sliding-window request smoothing backed by
// Redis sorted sets. It sits in front of the durable ledger: the ledger's
// rate_limited flag handles sustained upstream pressure, this handles bursts.
type RateLimiter struct {
	client  redis.Cmdable
	maxReqs int
	window  time.Duration
}

// NewRateLimiter creates a limiter that allows maxReqs per window.
func NewRateLimiter(client redis.Cmdable, maxReqs int, window time.Duration) *RateLimiter {
	return &RateLimiter{client: client, maxReqs: maxReqs, window: window}
}

// Allow records one request for the user and reports whether it stays within
// the window. Redis errors are returned so the caller can decide to fail open.
func (rl *RateLimiter) Allow(ctx context.Context, userID uuid.UUID) (bool, error) {
	key := "ai:ratelimit:" + userID.String()
	now := time.Now()
	windowStart := float64(now.Add(-rl.window).UnixMilli())
	member := fmt.Sprintf("%d", now.UnixNano())

	pipe := rl.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%f", windowStart))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: member})
	pipe.Expire(ctx, key, rl.window+time.Second)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("checking request window: %w", err)
	}

	return countCmd.Val() < int64(rl.maxReqs), nil
}

// Window returns the limiter's window size, used for Retry-After hints.
func (rl *RateLimiter) Window() time.Duration {
	return rl.window
}
