// Package ratelimit provides injectable request limiters keyed by an
// arbitrary identity string (user, partner, workspace or client IP).
//
// Two implementations exist:
//   - Memory: per-key token buckets using golang.org/x/time/rate. Limits are
//     process-local.
//   - Redis: fixed-window counters shared by every replica.
//
// Callers depend on the Limiter interface only, so the HTTP layer and tests
// can swap backends without touching handlers.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tbourn/go-lead-exchange/internal/config"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter decides whether the caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// New builds the limiter selected by cfg.Backend. client is required for the
// redis backend and ignored otherwise.
func New(cfg config.RateLimitConfig, client redis.UniversalClient) (Limiter, error) {
	switch cfg.Backend {
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("redis rate limiter requires a client")
		}
		return NewRedis(client, WindowLimit(cfg.RPS, cfg.Burst, cfg.Window), cfg.Window), nil
	case "memory", "":
		return NewMemory(cfg.RPS, cfg.Burst), nil
	default:
		return nil, fmt.Errorf("unsupported RATE_LIMIT_BACKEND %q", cfg.Backend)
	}
}

// WindowLimit converts a token-bucket setting into a fixed-window count:
// the larger of burst and rps*window.
func WindowLimit(rps float64, burst int, window time.Duration) int {
	n := int(math.Ceil(rps * window.Seconds()))
	if n < burst {
		n = burst
	}
	if n < 1 {
		n = 1
	}
	return n
}
