package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tbourn/go-lead-exchange/internal/config"
	"github.com/tbourn/go-lead-exchange/internal/domain"
	"github.com/tbourn/go-lead-exchange/internal/observability"
	"github.com/tbourn/go-lead-exchange/internal/payments"
	"github.com/tbourn/go-lead-exchange/internal/queue"
	"github.com/tbourn/go-lead-exchange/internal/repo"
	"github.com/tbourn/go-lead-exchange/internal/services"
	"github.com/tbourn/go-lead-exchange/internal/storage"
)

// creditsPerLead is the price of one lead in workspace credits.
const creditsPerLead = 1

// app is the dependency graph shared by the serve and worker commands.
type app struct {
	cfg   config.Config
	db    *gorm.DB
	store storage.Store

	// Redis is optional. Without it batches run in-process and the rate
	// limiter stays in memory.
	redisOpt asynq.RedisConnOpt
	rdb      *redis.Client
	inline   *queue.Inline

	uploads     *services.UploadService
	processor   *services.BatchProcessor
	purchases   *services.PurchaseService
	marketplace *services.Marketplace
	partners    *services.PartnerLedger
	credits     *services.CreditLedger
	reconciler  *services.Reconciler

	closers []func(context.Context) error
}

// newApp opens every backing service and wires the domain services. role
// tags traces and logs (serve, worker, ...).
func newApp(ctx context.Context, cfg config.Config, role string) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	shutdown, err := observability.SetupOTel(ctx, cfg.OTEL, version, role)
	if err != nil {
		return nil, fmt.Errorf("otel: %w", err)
	}
	a.closers = append(a.closers, shutdown)

	a.db, err = repo.Open(cfg.DB, cfg.OTEL.Enabled)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error {
		sqlDB, err := a.db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})
	if err := repo.AutoMigrate(a.db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a.store, err = storage.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	if cfg.Redis.URL != "" {
		if a.redisOpt, err = queue.RedisOpt(cfg.Redis.URL); err != nil {
			return nil, fmt.Errorf("redis url: %w", err)
		}
		ropts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("redis url: %w", err)
		}
		a.rdb = redis.NewClient(ropts)
		a.closers = append(a.closers, func(context.Context) error { return a.rdb.Close() })
	}

	tiers, err := domain.DefaultTiers(cfg.Pricing.SilverMin, cfg.Pricing.GoldMin,
		decimal.NewFromFloat(cfg.Pricing.BronzeRate),
		decimal.NewFromFloat(cfg.Pricing.SilverRate),
		decimal.NewFromFloat(cfg.Pricing.GoldRate))
	if err != nil {
		return nil, fmt.Errorf("tiers: %w", err)
	}
	a.partners = services.NewPartnerLedger(a.db, tiers, cfg.Ledger.PayoutThresholdCents)
	a.credits = services.NewCreditLedger(a.db, cfg.Ledger.FreeTrialCredits)
	a.marketplace = services.NewMarketplace(a.db)
	a.reconciler = services.NewReconciler(a.db, a.partners, a.credits)
	a.reconciler.StaleBatchAfter = cfg.Batch.StaleAfter
	a.processor = services.NewBatchProcessor(a.db, a.store, cfg)
	a.purchases = &services.PurchaseService{
		DB:             a.db,
		Provider:       payments.NewStripe(cfg.Payments),
		Webhooks:       payments.NewWebhookVerifier(cfg.Payments.WebhookSecret),
		Ledger:         a.partners,
		Credits:        a.credits,
		Currency:       cfg.Payments.Currency,
		CreditsPerLead: creditsPerLead,
		IdempotencyTTL: cfg.IdempotencyTTL,
	}

	var enq queue.Enqueuer
	if a.redisOpt != nil {
		client := queue.NewClient(a.redisOpt, cfg.Queue.Name)
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		enq = client
	} else {
		// Batches outlive the request that completed them.
		a.inline = queue.NewInline(context.Background(), a.processor)
		enq = a.inline
	}
	a.uploads = services.NewUploadService(a.db, a.store, enq, cfg.Batch.ExpectedRPS)

	log.Info().
		Str("component", "app").
		Str("db", cfg.DB.Driver).
		Str("storage", cfg.Storage.Backend).
		Bool("redis", a.redisOpt != nil).
		Msg("dependencies ready")
	return a, nil
}

// waitInline blocks until in-process batches finish or ctx expires.
func (a *app) waitInline(ctx context.Context) error {
	if a.inline == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		a.inline.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reconcileLoop runs the reconciler every interval until ctx ends. It
// stands in for the asynq scheduler when Redis is absent.
func (a *app) reconcileLoop(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := a.reconciler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("component", "reconciler").Msg("reconcile run failed")
			}
		}
	}
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			log.Warn().Err(err).Str("component", "app").Msg("close")
		}
	}
}
