package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// visitor holds a single rate limiter and the last time it was seen.
// Used to opportunistically evict idle buckets.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Memory implements a per-key token-bucket limiter.
//
// Buckets are created on demand and stored in a map guarded by a mutex. Idle
// buckets are evicted after a TTL via opportunistic cleanup during lookups.
//
// This type is safe for concurrent use.
type Memory struct {
	rps      rate.Limit
	burst    int
	mu       sync.Mutex
	visitors map[string]*visitor

	ttl      time.Duration
	cleanupN uint64
	now      func() time.Time
}

// NewMemory returns a limiter refilling rps tokens per second up to burst.
// Burst values <= 0 are coerced to 1.
func NewMemory(rps float64, burst int) *Memory {
	if burst <= 0 {
		burst = 1
	}
	return &Memory{
		rps:      rate.Limit(rps),
		burst:    burst,
		visitors: make(map[string]*visitor),
		ttl:      10 * time.Minute,
		now:      time.Now,
	}
}

// getVisitor returns (and updates) the limiter for key, creating it if absent.
// Idle entries are collected every 5000 lookups, before the requested key is
// touched, so a stale bucket can be evicted even when it is the one fetched.
func (m *Memory) getVisitor(key string) *rate.Limiter {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupN++
	if m.cleanupN >= 5000 {
		for k, vv := range m.visitors {
			if now.Sub(vv.lastSeen) >= m.ttl {
				delete(m.visitors, k)
			}
		}
		m.cleanupN = 0
	}

	if v, ok := m.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(m.rps, m.burst)
	m.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// Allow consumes one token for key.
func (m *Memory) Allow(_ context.Context, key string) (Decision, error) {
	lim := m.getVisitor(key)
	now := m.now()
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return Decision{Allowed: false, RetryAfter: time.Second}, nil
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return Decision{Allowed: false, RetryAfter: d}, nil
	}
	return Decision{Allowed: true}, nil
}

// size returns the number of live buckets.
func (m *Memory) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.visitors)
}
