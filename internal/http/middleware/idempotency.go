package middleware

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey carries the client's key for a retried operation,
// such as opening a payment intent for a lead.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"
)

var defaultKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// GetIdempotencyKey returns the key validated by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	s, _ := c.Value(ctxKeyIdemKey).(string)
	return s, s != ""
}

// IsReplay reports whether the key already completed for this caller and
// scope. Services still resolve the replay themselves from stored records.
func IsReplay(c *gin.Context) bool {
	b, _ := c.Value(ctxKeyIdemReplay).(bool)
	return b
}

// IdempotencyOptions configures IdempotencyValidator.
type IdempotencyOptions struct {
	// MaxLen caps key length; <= 0 means 200.
	MaxLen int
	// Pattern restricts key characters; nil means ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
	// Scope names the operation a key belongs to; nil means the route.
	Scope ScopeFunc
}

// IdempotencyLookup reports whether a still-valid record exists for the key
// of subject (the buyer workspace) within scope. Expiry is its concern.
type IdempotencyLookup func(ctx context.Context, subject, scope, key string, now time.Time) (exists bool, err error)

// ScopeFunc derives the idempotency scope of a request.
type ScopeFunc func(c *gin.Context) string

// ScopeByParam scopes keys to prefix + a path parameter, so reusing a key
// for another lead is a new operation.
func ScopeByParam(prefix, param string) ScopeFunc {
	return func(c *gin.Context) string { return prefix + c.Param(param) }
}

// IdempotencyValidator checks an optional Idempotency-Key header and stores
// it for handlers. A malformed key is rejected with 400. When lookup finds
// a completed record, the request is marked as a replay and exempted from
// rate limiting; lookup failures are logged and ignored.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultKeyPattern
	}
	scope := opts.Scope
	if scope == nil {
		scope = func(c *gin.Context) string { return c.FullPath() }
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			exists, err := lookup(c.Request.Context(), subjectFromCtx(c), scope(c), key, time.Now().UTC())
			switch {
			case err != nil:
				LoggerFrom(c).Warn().Err(err).Msg("idempotency lookup failed")
			case exists:
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}
		c.Next()
	}
}

// subjectFromCtx returns the workspace that owns idempotency keys: the one
// set by an upstream auth layer, else the X-Workspace-ID header.
func subjectFromCtx(c *gin.Context) string {
	if s, _ := c.Value("workspaceID").(string); s != "" {
		return s
	}
	return strings.TrimSpace(c.GetHeader("X-Workspace-ID"))
}
