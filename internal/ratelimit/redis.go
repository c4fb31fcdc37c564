package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a fixed-window limiter: each key may pass limit times per window.
// The counter key embeds the window start, so windows never need resetting.
type Redis struct {
	client redis.UniversalClient
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

// NewRedis returns a limiter allowing limit requests per window.
func NewRedis(client redis.UniversalClient, limit int, window time.Duration) *Redis {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &Redis{client: client, limit: limit, window: window, prefix: "ratelimit", now: time.Now}
}

// Allow increments the caller's counter for the current window.
func (r *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	now := r.now()
	start := now.Truncate(r.window)
	k := r.prefix + ":" + key + ":" + strconv.FormatInt(start.UnixMilli(), 10)

	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.PExpire(ctx, k, r.window+time.Second)
		return nil
	})
	if err != nil {
		return Decision{Allowed: true}, err
	}
	if incr.Val() > int64(r.limit) {
		return Decision{Allowed: false, RetryAfter: start.Add(r.window).Sub(now)}, nil
	}
	return Decision{Allowed: true}, nil
}
