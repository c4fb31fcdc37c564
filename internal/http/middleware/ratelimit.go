package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tbourn/go-lead-exchange/internal/ratelimit"
)

// rateLimited counts rejected requests by caller kind (partner, workspace,
// user, ip). Caller ids are left out of the labels.
var rateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "http_rate_limited_total",
	Help: "Requests rejected by the rate limiter.",
}, []string{"caller"})

func init() {
	prometheus.MustRegister(rateLimited)
}

// keyFunc maps a request to its rate-limit bucket, "<kind>:<id>".
type keyFunc func(*gin.Context) string

// callerIdentities lists who a request can be attributed to, most specific
// first.
var callerIdentities = []struct{ ctxKey, header, kind string }{
	{"partnerID", "X-Partner-ID", "partner"},
	{"workspaceID", "X-Workspace-ID", "workspace"},
	{"userID", "X-User-ID", "user"},
}

// KeyByCallerOrIP buckets requests by the caller set by an auth layer, then
// by the identity headers, then by client IP.
func KeyByCallerOrIP() keyFunc {
	return func(c *gin.Context) string {
		for _, id := range callerIdentities {
			if s, _ := c.Value(id.ctxKey).(string); s != "" {
				return id.kind + ":" + s
			}
		}
		for _, id := range callerIdentities {
			if s := strings.TrimSpace(c.GetHeader(id.header)); s != "" {
				return id.kind + ":" + s
			}
		}
		return "ip:" + c.ClientIP()
	}
}

// RateLimiter adapts a ratelimit.Limiter to Gin so a noisy partner or buyer
// cannot starve the others. It is abuse control, not authorization.
type RateLimiter struct {
	lim   ratelimit.Limiter
	keyFn keyFunc
}

// NewRateLimiter wraps lim. A nil keyFn means KeyByCallerOrIP.
func NewRateLimiter(lim ratelimit.Limiter, keyFn keyFunc) *RateLimiter {
	if keyFn == nil {
		keyFn = KeyByCallerOrIP()
	}
	return &RateLimiter{lim: lim, keyFn: keyFn}
}

// IsRateBypass reports whether IdempotencyValidator recognised the request
// as a replay of a completed purchase.
func IsRateBypass(c *gin.Context) bool {
	b, _ := c.Value(ctxKeyRateBypass).(bool)
	return b
}

// Handler rejects over-budget requests with 429 and a Retry-After in whole
// seconds. Replays skip the limiter. Backend errors fail open.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.lim == nil || IsRateBypass(c) {
			c.Next()
			return
		}

		key := rl.keyFn(c)
		d, err := rl.lim.Allow(c.Request.Context(), key)
		if err != nil {
			LoggerFrom(c).Warn().Err(err).Str("key", key).Msg("rate limiter unavailable, allowing request")
		}
		if d.Allowed {
			c.Next()
			return
		}

		kind, _, _ := strings.Cut(key, ":")
		rateLimited.WithLabelValues(kind).Inc()
		c.Header("Retry-After", retryAfterSeconds(d.RetryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"code":       "too_many_requests",
			"message":    "rate limit exceeded",
		})
	}
}

func retryAfterSeconds(d time.Duration) string {
	return strconv.FormatInt(max(int64(math.Ceil(d.Seconds())), 1), 10)
}
