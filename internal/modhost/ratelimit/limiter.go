// Package ratelimit throttles expensive routes per tenant and caller with a
// Redis sliding window shared by every modhost replica.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "modhost:ratelimit:"

type Limiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	now    func() time.Time
	seq    atomic.Uint64
}

// NewLimiter connects to redisURL (redis://host:port/db) and allows
// perMinute requests per key in any sliding minute.
func NewLimiter(ctx context.Context, redisURL string, perMinute int) (*Limiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewLimiterWithClient(client, perMinute), nil
}

func NewLimiterWithClient(client *redis.Client, perMinute int) *Limiter {
	return &Limiter{client: client, limit: perMinute, window: time.Minute, now: time.Now}
}

func (l *Limiter) Close() error {
	return l.client.Close()
}

// Allow records a request for key. When the window is full it returns false
// and how long until the oldest request leaves it.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	now := l.now()
	k := keyPrefix + key
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + strconv.FormatUint(l.seq.Add(1), 10)
	windowStart := now.Add(-l.window).UnixMilli()

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, k, "-inf", strconv.FormatInt(windowStart, 10))
	count := pipe.ZCard(ctx, k)
	pipe.ZAdd(ctx, k, &redis.Z{Score: float64(now.UnixMilli()), Member: member})
	pipe.Expire(ctx, k, 2*l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, err
	}
	if count.Val() < int64(l.limit) {
		return true, 0, nil
	}

	// denied requests do not occupy the window
	if err := l.client.ZRem(ctx, k, member).Err(); err != nil {
		return false, 0, err
	}
	oldest, err := l.client.ZRangeWithScores(ctx, k, 0, 0).Result()
	if err != nil {
		return false, 0, err
	}
	retry := l.window
	if len(oldest) > 0 {
		retry = time.UnixMilli(int64(oldest[0].Score)).Add(l.window).Sub(now)
	}
	if retry < time.Second {
		retry = time.Second
	}
	return false, retry, nil
}
