// Package httpapi mounts the lead exchange API on a Gin engine: the
// middleware chain, health and metrics endpoints, the partner, marketplace and
// workspace routes, and the admin routes.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-lead-exchange/docs"
	"github.com/tbourn/go-lead-exchange/internal/config"
	"github.com/tbourn/go-lead-exchange/internal/http/handlers"
	"github.com/tbourn/go-lead-exchange/internal/http/middleware"
	"github.com/tbourn/go-lead-exchange/internal/ratelimit"
	"github.com/tbourn/go-lead-exchange/internal/repo"
)

// defaultBodyLimit caps JSON request bodies. The file upload route has its
// own, larger limit (MAX_UPLOAD_BYTES).
const defaultBodyLimit = 1 << 20

// slowRequestThreshold marks non-upload requests worth a warning.
const slowRequestThreshold = 3 * time.Second

// uploadRoute is the only route exempt from defaultBodyLimit.
const uploadRoute = "/uploads/:batch_id/file"

// Deps are the dependencies RegisterRoutes wires into the router.
type Deps struct {
	// DB backs idempotency lookups and the readiness check.
	DB *gorm.DB
	// Services are the application services behind the handlers.
	Services handlers.Services
	// Limiter enforces per-caller request rates. Nil disables limiting.
	Limiter ratelimit.Limiter
}

// RegisterRoutes attaches the middleware chain and every endpoint to r.
//
// The access log runs after RequestID so each line carries the id, and
// Recovery runs after the access log so panics are logged with it. The
// idempotency validator precedes the rate limiter: replayed purchases are
// not charged against the caller's budget.
func RegisterRoutes(r *gin.Engine, d Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true
	apiBase := cfg.APIBasePath // e.g. "/api/v1"

	// Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// Correlate requests and logs
	r.Use(middleware.RequestID())

	// Structured access log, scrubbed of lead contact data
	r.Use(middleware.AccessLog(middleware.AccessLogOptions{
		Redact:        true,
		LogHeaders:    true,
		MaskHeaders:   []string{"X-API-Key"},
		QuietPaths:    []string{"/health", "/ready", "/metrics"},
		SlowThreshold: slowRequestThreshold,
	}))

	// Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// Global body size limit (1 MiB) except for the file upload route
	r.Use(limitBodyExcept(defaultBodyLimit, joinPath(apiBase, uploadRoute)))

	// Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
			Scope:  purchaseScope,
		},
		idempotencyLookup(d.DB),
	))

	// Per-caller rate limiter
	if d.Limiter != nil {
		r.Use(middleware.NewRateLimiter(d.Limiter, middleware.KeyByCallerOrIP()).Handler())
	}

	// Browser callers: buyer dashboards read listings and exports
	r.Use(corsMiddleware(cfg.CORS))

	// Security headers (HSTS only when enabled and request is HTTPS). Exports,
	// ledgers and signed files must never sit in a shared cache.
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
		NoStorePrefixes: []string{
			joinPath(apiBase, "/marketplace/download"),
			joinPath(apiBase, "/partner"),
			joinPath(apiBase, "/credits"),
			"/files",
		},
		ExposeHeaders: middleware.DefaultExposeHeaders,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/readiness
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/ready", readiness(d.DB))

	// API docs
	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = apiBase
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	d.Services.APIBasePath = apiBase
	h := handlers.New(d.Services)

	// Signed links of the local object store
	r.GET("/files/*key", h.ServeFile)

	// Public API
	api := groupWithPrefix(r, apiBase)
	{
		// Partner uploads
		api.POST("/uploads", h.CreateUpload)
		api.PUT(uploadRoute, limitBody(cfg.MaxUploadBytes), h.UploadFile)
		api.POST("/uploads/:batch_id/complete", h.CompleteUpload)
		api.GET("/uploads/:batch_id/status", h.UploadStatus)

		// Partner ledger
		api.GET("/partner/ledger", h.PartnerLedger)
		api.PUT("/partner/payout-account", h.SetPayoutAccount)
		api.POST("/partner/payouts/request", h.RequestPayout)

		// Marketplace (listings and exports compress well)
		market := api.Group("/marketplace", gzip.Gzip(gzip.DefaultCompression))
		market.GET("/leads", h.ListLeads)
		market.POST("/download/:purchase_id", h.DownloadPurchase)

		// Purchases
		api.POST("/leads/:lead_id/purchase", h.CreatePurchaseIntent)
		api.POST("/leads/:lead_id/confirm-purchase", h.ConfirmPurchase)
		api.POST("/leads/:lead_id/purchase-with-credits", h.PurchaseWithCredits)

		// Credits
		api.POST("/credits/grant-free", h.GrantFreeCredits)
		api.GET("/credits", h.CreditBalance)

		// Provider callbacks
		api.POST("/webhooks/stripe", h.StripeWebhook)
	}

	// Operator routes, only when a token is configured
	if cfg.AdminToken != "" {
		admin := api.Group("/admin", middleware.RequireBearer(cfg.AdminToken))
		admin.POST("/batches/:batch_id/retry", h.RetryBatch)
		admin.POST("/payouts/:payout_id/resolve", h.ResolvePayout)
		admin.POST("/credits/top-up", h.TopUpCredits)
	}
}

// corsMiddleware allows the identity and idempotency headers and exposes
// the headers clients read back. With no configured origins any origin is
// allowed, without credentials.
func corsMiddleware(cfg config.CORSConfig) gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match",
			handlers.HeaderPartnerID, handlers.HeaderWorkspaceID, handlers.HeaderUserID,
			middleware.HeaderIdempotencyKey,
		},
		ExposeHeaders: append([]string{"X-Request-ID", "Content-Length"}, middleware.DefaultExposeHeaders...),
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = cfg.AllowedOrigins
	}
	return cors.New(cc)
}

// purchaseScope scopes Idempotency-Key values to the lead being purchased,
// matching the records written by the purchase service.
func purchaseScope(c *gin.Context) string {
	if id := c.Param("lead_id"); id != "" {
		return "purchase:" + id
	}
	return c.FullPath()
}

// idempotencyLookup reports whether a live idempotency record exists.
// Lookup failures are treated as misses.
func idempotencyLookup(db *gorm.DB) middleware.IdempotencyLookup {
	if db == nil {
		return nil
	}
	return func(ctx context.Context, subject, scope, key string, now time.Time) (bool, error) {
		rec, err := repo.GetIdempotency(ctx, db, subject, scope, key, now)
		if err != nil || rec == nil {
			return false, nil
		}
		return true, nil
	}
}

// readiness pings the database.
func readiness(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		sqlDB, err := db.DB()
		if err == nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			middleware.LoggerFrom(c).Error().Err(err).Msg("readiness: database unreachable")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// limitBody returns a Gin middleware that caps the request body size to
// maxBytes using http.MaxBytesReader. Requests exceeding the cap will cause
// downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// limitBodyExcept applies limitBody to every route but exempt. Nested
// MaxBytesReaders keep the smaller limit, so the exempt route must not be
// wrapped here.
func limitBodyExcept(maxBytes int64, exempt string) gin.HandlerFunc {
	limit := limitBody(maxBytes)
	return func(c *gin.Context) {
		if c.FullPath() == exempt {
			c.Next()
			return
		}
		limit(c)
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

// joinPath prefixes route with base, treating "/" (or empty) as root.
func joinPath(base, route string) string {
	if base == "" || base == "/" {
		return route
	}
	return base + route
}
