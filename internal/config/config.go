// Package config loads the lead exchange settings from the environment.
// A .env file in the working directory is read first by the leadx binary.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// CORSConfig lists browser origins allowed to call the API. Empty allows
// any origin without credentials.
type CORSConfig struct {
	AllowedOrigins []string // CORS_ALLOWED_ORIGINS, comma separated
}

// SecurityConfig controls Strict-Transport-Security.
type SecurityConfig struct {
	EnableHSTS bool          // ENABLE_HSTS
	HSTSMaxAge time.Duration // HSTS_MAX_AGE
}

// OTELConfig selects the OTLP/gRPC trace exporter.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT, host:port
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE, plaintext gRPC
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG
}

// DBConfig selects and tunes the database.
type DBConfig struct {
	Driver       string // DB_DRIVER: sqlite|postgres
	Path         string // DB_PATH (sqlite)
	URL          string // DATABASE_URL (postgres)
	MaxOpenConns int    // DB_MAX_OPEN_CONNS
}

// RedisConfig points at the Redis instance shared by the queue and the
// distributed rate limiter.
type RedisConfig struct {
	URL string // REDIS_URL, empty disables Redis-backed features
}

// QueueConfig tunes background batch processing.
type QueueConfig struct {
	Name              string        // QUEUE_NAME
	Concurrency       int           // WORKER_CONCURRENCY
	ReconcileInterval time.Duration // RECONCILE_INTERVAL
}

// StorageConfig selects the object store for uploads and rejected-row reports.
type StorageConfig struct {
	Backend      string        // STORAGE_BACKEND: local|s3
	Dir          string        // STORAGE_DIR (local)
	PublicURL    string        // STORAGE_PUBLIC_URL (local signed links)
	SigningKey   string        // STORAGE_SIGNING_KEY (local signed links)
	Bucket       string        // S3_BUCKET
	Region       string        // S3_REGION
	Endpoint     string        // S3_ENDPOINT (MinIO, localstack)
	SignedURLTTL time.Duration // SIGNED_URL_TTL
}

// PaymentsConfig configures the payment provider adapter.
type PaymentsConfig struct {
	SecretKey     string        // STRIPE_SECRET_KEY
	APIBase       string        // STRIPE_API_BASE
	WebhookSecret string        // STRIPE_WEBHOOK_SECRET
	Timeout       time.Duration // PAYMENT_TIMEOUT
	Currency      string        // CURRENCY
}

// BatchConfig tunes the batch processor.
type BatchConfig struct {
	Workers       int           // BATCH_WORKERS
	FlushRows     int           // BATCH_FLUSH_ROWS
	FlushInterval time.Duration // BATCH_FLUSH_INTERVAL
	ExpectedRPS   float64       // BATCH_EXPECTED_RPS, used for the initial estimate
	StaleAfter    time.Duration // BATCH_STALE_AFTER, processing batches without progress this long are failed
}

// PricingConfig holds the lead price and the commission tier table.
type PricingConfig struct {
	LeadPriceCents int64   // LEAD_PRICE_CENTS
	SilverMin      int64   // TIER_SILVER_MIN
	GoldMin        int64   // TIER_GOLD_MIN
	BronzeRate     float64 // TIER_BRONZE_RATE
	SilverRate     float64 // TIER_SILVER_RATE
	GoldRate       float64 // TIER_GOLD_RATE
}

// LedgerConfig holds partner payout and workspace credit policy.
type LedgerConfig struct {
	PayoutThresholdCents int64 // PAYOUT_THRESHOLD_CENTS
	FreeTrialCredits     int64 // FREE_TRIAL_CREDITS
}

// RateLimitConfig selects the limiter backend.
type RateLimitConfig struct {
	Backend string        // RATE_LIMIT_BACKEND: memory|redis
	RPS     float64       // RATE_RPS, tokens per second (>= 0)
	Burst   int           // RATE_BURST, bucket size (>= 1)
	Window  time.Duration // RATE_LIMIT_WINDOW (redis fixed window)
}

// Config is the full process configuration shared by every leadx command.
type Config struct {
	Port              string        // PORT
	ReadTimeout       time.Duration // READ_TIMEOUT
	ReadHeaderTimeout time.Duration // READ_HEADER_TIMEOUT
	WriteTimeout      time.Duration // WRITE_TIMEOUT, also bounds upload transfers
	IdleTimeout       time.Duration // IDLE_TIMEOUT
	MaxHeaderBytes    int           // MAX_HEADER_BYTES
	MaxUploadBytes    int64         // MAX_UPLOAD_BYTES, body limit for file uploads
	GinMode           string        // GIN_MODE

	LogLevel       string // LOG_LEVEL
	LogPretty      bool   // LOG_PRETTY, console output for local runs
	SwaggerEnabled bool   // SWAGGER_ENABLED
	APIBasePath    string // API_BASE_PATH

	DB       DBConfig
	Redis    RedisConfig
	Queue    QueueConfig
	Storage  StorageConfig
	Payments PaymentsConfig
	Batch    BatchConfig
	Pricing  PricingConfig
	Ledger   LedgerConfig

	RateLimit RateLimitConfig
	CORS      CORSConfig
	Security  SecurityConfig
	OTEL      OTELConfig

	AdminToken     string        // ADMIN_TOKEN, bearer token for /admin routes; empty disables them
	IdempotencyTTL time.Duration // IDEMPOTENCY_TTL, lifetime of stored purchase keys
}

// MustLoad is Load for tests and tools that cannot proceed without config.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the environment, fills defaults and validates the result.
func Load() (Config, error) {
	cfg := Config{
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		MaxUploadBytes:    getint64("MAX_UPLOAD_BYTES", 50<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		DB: DBConfig{
			Driver:       strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:         getenv("DB_PATH", "app.db"),
			URL:          getenv("DATABASE_URL", ""),
			MaxOpenConns: getint("DB_MAX_OPEN_CONNS", 20),
		},
		Redis: RedisConfig{
			URL: getenv("REDIS_URL", ""),
		},
		Queue: QueueConfig{
			Name:              getenv("QUEUE_NAME", "batches"),
			Concurrency:       getint("WORKER_CONCURRENCY", 4),
			ReconcileInterval: getdur("RECONCILE_INTERVAL", 5*time.Minute),
		},
		Storage: StorageConfig{
			Backend:      strings.ToLower(getenv("STORAGE_BACKEND", "local")),
			Dir:          getenv("STORAGE_DIR", "data/uploads"),
			PublicURL:    strings.TrimRight(getenv("STORAGE_PUBLIC_URL", "http://localhost:8080/files"), "/"),
			SigningKey:   getenv("STORAGE_SIGNING_KEY", "dev-signing-key"),
			Bucket:       getenv("S3_BUCKET", ""),
			Region:       getenv("S3_REGION", "us-east-1"),
			Endpoint:     getenv("S3_ENDPOINT", ""),
			SignedURLTTL: getdur("SIGNED_URL_TTL", 7*24*time.Hour),
		},
		Payments: PaymentsConfig{
			SecretKey:     getenv("STRIPE_SECRET_KEY", ""),
			APIBase:       strings.TrimRight(getenv("STRIPE_API_BASE", "https://api.stripe.com"), "/"),
			WebhookSecret: getenv("STRIPE_WEBHOOK_SECRET", ""),
			Timeout:       getdur("PAYMENT_TIMEOUT", 10*time.Second),
			Currency:      strings.ToLower(getenv("CURRENCY", "usd")),
		},
		Batch: BatchConfig{
			Workers:       getint("BATCH_WORKERS", 8),
			FlushRows:     getint("BATCH_FLUSH_ROWS", 100),
			FlushInterval: getdur("BATCH_FLUSH_INTERVAL", 500*time.Millisecond),
			ExpectedRPS:   getfloat("BATCH_EXPECTED_RPS", 200),
			StaleAfter:    getdur("BATCH_STALE_AFTER", 30*time.Minute),
		},
		Pricing: PricingConfig{
			LeadPriceCents: getint64("LEAD_PRICE_CENTS", 2500),
			SilverMin:      getint64("TIER_SILVER_MIN", 1000),
			GoldMin:        getint64("TIER_GOLD_MIN", 5000),
			BronzeRate:     getfloat("TIER_BRONZE_RATE", 0.40),
			SilverRate:     getfloat("TIER_SILVER_RATE", 0.50),
			GoldRate:       getfloat("TIER_GOLD_RATE", 0.60),
		},
		Ledger: LedgerConfig{
			PayoutThresholdCents: getint64("PAYOUT_THRESHOLD_CENTS", 5000),
			FreeTrialCredits:     getint64("FREE_TRIAL_CREDITS", 10),
		},

		RateLimit: RateLimitConfig{
			Backend: strings.ToLower(getenv("RATE_LIMIT_BACKEND", "memory")),
			RPS:     getfloat("RATE_RPS", 5.0),
			Burst:   getint("RATE_BURST", 10),
			Window:  getdur("RATE_LIMIT_WINDOW", time.Second),
		},

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},
		AdminToken: getenv("ADMIN_TOKEN", ""),

		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "lead-exchange"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	if c.LogLevel == "warning" {
		c.LogLevel = "warn"
	}
	switch c.GinMode {
	case "debug", "release", "test":
	default:
		c.GinMode = "release"
	}
	if c.DB.Driver == "postgresql" {
		c.DB.Driver = "postgres"
	}
}

var (
	mustBeSet      = validation.Required.Error("must be set")
	mustBePositive = validation.Min(0).Exclusive().Error("must be > 0")
	atLeastOne     = validation.Min(1).Error("must be >= 1")
	notNegative    = validation.Min(0).Error("must be >= 0")
	unitInterval   = []validation.Rule{
		validation.Min(0.0).Error("must be in [0,1]"),
		validation.Max(1.0).Error("must be in [0,1]"),
	}
)

// Validate reports every invalid setting at once, keyed by environment
// variable name.
func (c Config) Validate() error {
	sqlite, postgres := c.DB.Driver == "sqlite", c.DB.Driver == "postgres"
	local, s3 := c.Storage.Backend == "local", c.Storage.Backend == "s3"

	return validation.Errors{
		"LOG_LEVEL": validation.Validate(c.LogLevel,
			validation.In("debug", "info", "warn", "error", "fatal", "panic").Error("must be one of debug, info, warn, error, fatal, panic")),
		"PORT":                validation.Validate(strings.TrimSpace(c.Port), mustBeSet),
		"READ_TIMEOUT":        validation.Validate(c.ReadTimeout, mustBeSet, mustBePositive),
		"READ_HEADER_TIMEOUT": validation.Validate(c.ReadHeaderTimeout, mustBeSet, mustBePositive),
		"WRITE_TIMEOUT":       validation.Validate(c.WriteTimeout, mustBeSet, mustBePositive),
		"IDLE_TIMEOUT":        validation.Validate(c.IdleTimeout, mustBeSet, mustBePositive),
		"MAX_HEADER_BYTES":    validation.Validate(c.MaxHeaderBytes, mustBeSet, mustBePositive),
		"MAX_UPLOAD_BYTES":    validation.Validate(c.MaxUploadBytes, mustBeSet, mustBePositive),

		"DB_DRIVER": validation.Validate(c.DB.Driver,
			validation.In("sqlite", "postgres").Error("must be one of sqlite, postgres")),
		"DB_PATH":      validation.Validate(strings.TrimSpace(c.DB.Path), validation.When(sqlite, mustBeSet)),
		"DATABASE_URL": validation.Validate(strings.TrimSpace(c.DB.URL), validation.When(postgres, mustBeSet.Error("must be set when DB_DRIVER=postgres"))),

		"WORKER_CONCURRENCY": validation.Validate(c.Queue.Concurrency, mustBeSet, atLeastOne),
		"RECONCILE_INTERVAL": validation.Validate(c.Queue.ReconcileInterval, mustBeSet, mustBePositive),

		"STORAGE_BACKEND": validation.Validate(c.Storage.Backend,
			validation.In("local", "s3").Error("must be one of local, s3")),
		"STORAGE_DIR":         validation.Validate(strings.TrimSpace(c.Storage.Dir), validation.When(local, mustBeSet)),
		"STORAGE_SIGNING_KEY": validation.Validate(c.Storage.SigningKey, validation.When(local, mustBeSet)),
		"S3_BUCKET":           validation.Validate(strings.TrimSpace(c.Storage.Bucket), validation.When(s3, mustBeSet.Error("must be set when STORAGE_BACKEND=s3"))),
		"SIGNED_URL_TTL":      validation.Validate(c.Storage.SignedURLTTL, mustBeSet, mustBePositive),

		"PAYMENT_TIMEOUT": validation.Validate(c.Payments.Timeout, mustBeSet, mustBePositive),
		"CURRENCY":        validation.Validate(c.Payments.Currency, mustBeSet, validation.Length(3, 3).Error("must be a 3-letter ISO code")),

		"BATCH_WORKERS":        validation.Validate(c.Batch.Workers, mustBeSet, atLeastOne),
		"BATCH_FLUSH_ROWS":     validation.Validate(c.Batch.FlushRows, mustBeSet, atLeastOne),
		"BATCH_FLUSH_INTERVAL": validation.Validate(c.Batch.FlushInterval, mustBeSet, mustBePositive),
		"BATCH_EXPECTED_RPS":   validation.Validate(c.Batch.ExpectedRPS, mustBeSet, validation.Min(0.0).Exclusive().Error("must be > 0")),
		"BATCH_STALE_AFTER":    validation.Validate(c.Batch.StaleAfter, mustBeSet, mustBePositive),

		"LEAD_PRICE_CENTS": validation.Validate(c.Pricing.LeadPriceCents, mustBeSet, mustBePositive),
		"TIER_SILVER_MIN":  validation.Validate(c.Pricing.SilverMin, mustBeSet, mustBePositive),
		"TIER_GOLD_MIN": validation.Validate(c.Pricing.GoldMin,
			validation.Min(c.Pricing.SilverMin).Exclusive().Error("must be above TIER_SILVER_MIN")),
		"TIER_BRONZE_RATE": validation.Validate(c.Pricing.BronzeRate, unitInterval...),
		"TIER_SILVER_RATE": validation.Validate(c.Pricing.SilverRate, unitInterval...),
		"TIER_GOLD_RATE":   validation.Validate(c.Pricing.GoldRate, unitInterval...),

		"PAYOUT_THRESHOLD_CENTS": validation.Validate(c.Ledger.PayoutThresholdCents, notNegative),
		"FREE_TRIAL_CREDITS":     validation.Validate(c.Ledger.FreeTrialCredits, notNegative),

		"RATE_LIMIT_BACKEND": validation.Validate(c.RateLimit.Backend,
			validation.In("memory", "redis").Error("must be one of memory, redis")),
		"REDIS_URL": validation.Validate(strings.TrimSpace(c.Redis.URL),
			validation.When(c.RateLimit.Backend == "redis", mustBeSet.Error("must be set when RATE_LIMIT_BACKEND=redis"))),
		"RATE_RPS":          validation.Validate(c.RateLimit.RPS, validation.Min(0.0).Error("must be >= 0")),
		"RATE_BURST":        validation.Validate(c.RateLimit.Burst, mustBeSet, atLeastOne),
		"RATE_LIMIT_WINDOW": validation.Validate(c.RateLimit.Window, mustBeSet, mustBePositive),

		"HSTS_MAX_AGE":            validation.Validate(c.Security.HSTSMaxAge, notNegative),
		"IDEMPOTENCY_TTL":         validation.Validate(c.IdempotencyTTL, mustBeSet, mustBePositive),
		"OTEL_TRACES_SAMPLER_ARG": validation.Validate(c.OTEL.SampleRatio, unitInterval...),
	}.Filter()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// parsedEnv returns def when k is unset or does not parse.
func parsedEnv[T any](k string, def T, parse func(string) (T, error)) T {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	out, err := parse(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return out
}

func getint(k string, def int) int { return parsedEnv(k, def, strconv.Atoi) }

func getint64(k string, def int64) int64 {
	return parsedEnv(k, def, func(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) })
}

func getfloat(k string, def float64) float64 {
	return parsedEnv(k, def, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

func getdur(k string, def time.Duration) time.Duration {
	return parsedEnv(k, def, time.ParseDuration)
}

func getbool(k string, def bool) bool {
	return parsedEnv(k, def, func(s string) (bool, error) {
		switch strings.ToLower(s) {
		case "1", "true", "yes", "y", "on":
			return true, nil
		case "0", "false", "no", "n", "off":
			return false, nil
		}
		return false, strconv.ErrSyntax
	})
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeBasePath returns p with one leading slash and no trailing slash.
func normalizeBasePath(p string) string {
	return "/" + strings.Trim(strings.TrimSpace(p), "/")
}
