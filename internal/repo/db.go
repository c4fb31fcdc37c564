// Package repo is the GORM persistence layer: connection setup, schema
// migration and the query functions the services compose inside their
// transactions.
package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-lead-exchange/internal/config"
	"github.com/tbourn/go-lead-exchange/internal/domain"
)

// ErrNotFound aliases gorm.ErrRecordNotFound so callers need not import gorm.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates that an insert hit a unique constraint.
var ErrDuplicate = errors.New("duplicate")

// slowQuery is the duration above which statements are logged.
const slowQuery = 250 * time.Millisecond

// gormLog routes GORM's own messages (slow queries, driver errors) into
// zerolog.
type gormLog struct{}

func (gormLog) Printf(format string, args ...any) {
	log.Warn().Str("component", "db").Msgf(format, args...)
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		Logger: logger.New(gormLog{}, logger.Config{
			SlowThreshold:             slowQuery,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		}),
	}
}

// Open connects to the database selected by cfg.Driver. traced installs the
// OpenTelemetry plugin so every statement becomes a span.
func Open(cfg config.DBConfig, traced bool) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Driver {
	case "postgres":
		db, err = OpenPostgres(cfg.URL, cfg.MaxOpenConns)
	case "sqlite", "":
		db, err = OpenSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if traced {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			return nil, fmt.Errorf("db tracing: %w", err)
		}
	}
	return db, nil
}

// OpenSQLite opens or creates the database file at path. The parent
// directory must exist. WAL mode lets listing reads proceed while a batch
// flush writes.
func OpenSQLite(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("sqlite dir: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), gormConfig())
	if err != nil {
		return nil, err
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return db, tunePool(db, 10, 10)
}

// OpenPostgres connects with a DSN or postgres:// URL. maxOpen <= 0 means 20.
func OpenPostgres(dsn string, maxOpen int) (*gorm.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("DATABASE_URL must not be empty for postgres")
	}
	db, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, err
	}
	if maxOpen <= 0 {
		maxOpen = 20
	}
	return db, tunePool(db, maxOpen, maxOpen/2)
}

func tunePool(db *gorm.DB, maxOpen, maxIdle int) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return nil
}

// Models lists every persisted type, in dependency order.
func Models() []any {
	return []any{
		&domain.UploadBatch{},
		&domain.CanonicalLead{},
		&domain.MarketplacePurchase{},
		&domain.PurchaseItem{},
		&domain.CommissionSettlement{},
		&domain.DownloadAudit{},
		&domain.PartnerLedger{},
		&domain.PayoutRequest{},
		&domain.CreditGrant{},
		&domain.WorkspaceCredits{},
		&domain.CreditTransaction{},
		&domain.Idempotency{},
	}
}

// AutoMigrate creates or updates the schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}

// uniqueViolationText matches driver messages that TranslateError misses.
var uniqueViolationText = []string{
	"unique constraint failed",
	"constraint failed: unique",
	"duplicate key",
}

// isUniqueViolation reports whether err came from a unique index, such as
// the fingerprint index that settles concurrent duplicate leads.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	for _, s := range uniqueViolationText {
		if strings.Contains(low, s) {
			return true
		}
	}
	return false
}
