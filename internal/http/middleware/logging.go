// Package middleware contains the Gin middleware of the lead exchange API:
// correlation ids, access logging, panic recovery, metrics, rate limiting,
// idempotency keys, security headers and operator auth.
package middleware

import (
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"
	loggerKey       = "logger"

	// maxQueryLogLength caps the logged raw query.
	maxQueryLogLength = 2048
)

// RequestID reuses the caller's X-Request-ID or generates a UUID, echoes it
// on the response and stores it in the context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// AccessLogOptions configures AccessLog.
type AccessLogOptions struct {
	// Redact scrubs the query string and header values.
	Redact bool
	// MaskHeaders are masked in addition to Authorization, Cookie,
	// Set-Cookie and Stripe-Signature.
	MaskHeaders []string
	// LogHeaders adds the request headers to each line.
	LogHeaders bool
	// QuietPaths are logged at debug level when they succeed (health checks,
	// scrapes).
	QuietPaths []string
	// SlowThreshold raises successful requests slower than this to warn.
	// Zero disables it.
	SlowThreshold time.Duration
}

// AccessLog writes one structured line per request and attaches a
// request-scoped logger carrying the request and caller ids, available to
// handlers through LoggerFrom.
//
// Level: error for 5xx or recorded gin errors, warn for 4xx and slow
// requests, debug for quiet paths, info otherwise.
func AccessLog(opts AccessLogOptions) gin.HandlerFunc {
	red := NewRedactor(opts.MaskHeaders...)
	quiet := make(map[string]struct{}, len(opts.QuietPaths))
	for _, p := range opts.QuietPaths {
		quiet[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		query := truncate(c.Request.URL.RawQuery, maxQueryLogLength)
		var headers map[string]string
		if opts.Redact {
			query = red.String(query)
		}
		if opts.LogHeaders {
			if opts.Redact {
				headers = red.Headers(c.Request.Header)
			} else {
				headers = flatten(c.Request.Header)
			}
		}

		rid, _ := c.Get(requestIDKey)
		l := log.With().
			Str("request_id", asString(rid)).
			Str("partner_id", callerID(c, "partnerID", "X-Partner-ID")).
			Str("workspace_id", callerID(c, "workspaceID", "X-Workspace-ID")).
			Str("user_id", callerID(c, "userID", "X-User-ID")).
			Str("method", c.Request.Method).
			Str("path", route).
			Logger()
		c.Set(loggerKey, &l)

		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		_, isQuiet := quiet[route]
		slow := opts.SlowThreshold > 0 && latency > opts.SlowThreshold

		var ev *zerolog.Event
		switch {
		case len(c.Errors) > 0 || status >= http.StatusInternalServerError:
			ev = l.Error()
			if len(c.Errors) > 0 {
				ev = ev.Str("errors", c.Errors.String())
			}
		case status >= http.StatusBadRequest:
			ev = l.Warn()
		case slow:
			ev = l.Warn().Bool("slow", true)
		case isQuiet:
			ev = l.Debug()
		default:
			ev = l.Info()
		}
		ev = ev.
			Str("query", query).
			Str("remote_ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent()).
			Int64("bytes_in", c.Request.ContentLength).
			Int("status", status).
			Int("bytes_out", c.Writer.Size()).
			Dur("latency", latency)
		if headers != nil {
			ev = ev.Interface("headers", headers)
		}
		ev.Msg("http_request")
	}
}

// Recovery turns a panic into a JSON 500 carrying the request id, unless
// the handler already started writing.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			rid, _ := c.Get(requestIDKey)
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("request_id", asString(rid)).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header(requestIDHeader, asString(rid))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": asString(rid),
				"code":       "internal_error",
				"message":    "internal server error",
			})
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger, or the global logger when
// AccessLog is not installed.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, found := c.Get(loggerKey); found {
		if lg, isLogger := v.(*zerolog.Logger); isLogger {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// callerID reads an identity from the Gin context, falling back to header.
func callerID(c *gin.Context, ctxKey, header string) string {
	if v, found := c.Get(ctxKey); found {
		if s := asString(v); s != "" {
			return s
		}
	}
	return c.GetHeader(header)
}

func flatten(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		out[k] = strings.Join(vv, ", ")
	}
	return out
}

func asString(v any) string {
	if s, isStr := v.(string); isStr {
		return s
	}
	return ""
}

// truncate cuts s to max bytes plus an ellipsis. max <= 0 disables it.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
