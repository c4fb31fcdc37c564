package ratelimit

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/tbourn/go-lead-exchange/internal/config"
)

func TestMemory_BurstThenDeny(t *testing.T) {
	m := NewMemory(1, 2)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if d, _ := m.Allow(ctx, "u1"); !d.Allowed {
			t.Fatalf("request %d should pass", i)
		}
	}
	d, _ := m.Allow(ctx, "u1")
	if d.Allowed || d.RetryAfter <= 0 {
		t.Fatalf("third request should be denied with a retry hint, got %+v", d)
	}
	// Keys are independent.
	if d, _ := m.Allow(ctx, "u2"); !d.Allowed {
		t.Fatalf("other key should pass")
	}
}

func TestMemory_ZeroRateDenies(t *testing.T) {
	m := NewMemory(0, 0)
	ctx := context.Background()
	if d, _ := m.Allow(ctx, "k"); !d.Allowed {
		t.Fatalf("first token from burst should pass")
	}
	if d, _ := m.Allow(ctx, "k"); d.Allowed {
		t.Fatalf("zero refill must deny")
	}
}

func TestMemory_EvictsIdleBuckets(t *testing.T) {
	m := NewMemory(1, 1)
	base := time.Now()
	m.now = func() time.Time { return base }
	for i := 0; i < 10; i++ {
		_, _ = m.Allow(context.Background(), "old"+strconv.Itoa(i))
	}
	m.now = func() time.Time { return base.Add(time.Hour) }
	m.cleanupN = 4999
	_, _ = m.Allow(context.Background(), "fresh")
	if got := m.size(); got != 1 {
		t.Fatalf("expected only fresh bucket, got %d", got)
	}
}

func newRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = c.Close() })
	return mr, c
}

func TestRedis_FixedWindow(t *testing.T) {
	_, c := newRedis(t)
	r := NewRedis(c, 3, time.Minute)
	now := time.Date(2025, 1, 1, 12, 0, 10, 0, time.UTC)
	r.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := r.Allow(ctx, "ws1")
		if err != nil || !d.Allowed {
			t.Fatalf("request %d: %+v %v", i, d, err)
		}
	}
	d, err := r.Allow(ctx, "ws1")
	if err != nil || d.Allowed || d.RetryAfter != 50*time.Second {
		t.Fatalf("fourth request = %+v %v", d, err)
	}

	// Next window starts fresh.
	now = now.Add(time.Minute)
	if d, _ := r.Allow(ctx, "ws1"); !d.Allowed {
		t.Fatalf("new window should allow")
	}
}

func TestRedis_SetsExpiry(t *testing.T) {
	mr, c := newRedis(t)
	r := NewRedis(c, 1, time.Second)
	if _, err := r.Allow(context.Background(), "k"); err != nil {
		t.Fatalf("Allow: %v", err)
	}
	keys := mr.Keys()
	if len(keys) != 1 || mr.TTL(keys[0]) <= 0 {
		t.Fatalf("expected one expiring key, got %v", keys)
	}
}

func TestRedis_ErrorFailsOpen(t *testing.T) {
	mr, c := newRedis(t)
	mr.Close()
	d, err := NewRedis(c, 1, time.Second).Allow(context.Background(), "k")
	if err == nil || !d.Allowed {
		t.Fatalf("expected fail-open decision with error, got %+v %v", d, err)
	}
}

func TestNew_SelectsBackend(t *testing.T) {
	if l, err := New(config.RateLimitConfig{Backend: "memory", RPS: 1, Burst: 1}, nil); err != nil {
		t.Fatalf("memory: %v", err)
	} else if _, ok := l.(*Memory); !ok {
		t.Fatalf("expected *Memory, got %T", l)
	}
	if _, err := New(config.RateLimitConfig{Backend: "redis"}, nil); err == nil {
		t.Fatalf("redis without client must fail")
	}
	_, c := newRedis(t)
	if l, err := New(config.RateLimitConfig{Backend: "redis", RPS: 2, Burst: 1, Window: time.Second}, c); err != nil {
		t.Fatalf("redis: %v", err)
	} else if _, ok := l.(*Redis); !ok {
		t.Fatalf("expected *Redis, got %T", l)
	}
	if _, err := New(config.RateLimitConfig{Backend: "nope"}, nil); err == nil {
		t.Fatalf("unknown backend must fail")
	}
}

func TestWindowLimit(t *testing.T) {
	if WindowLimit(5, 10, time.Second) != 10 || WindowLimit(5, 1, 10*time.Second) != 50 || WindowLimit(0, 0, time.Second) != 1 {
		t.Fatalf("unexpected window limits")
	}
}
