// Package services – Reconciler
//
// The purchase flow settles commission after the claim commits and the
// credit ledger applies a grant's balance step after the grant commits. Both
// second steps are keyed by a unique reference, so this pass can re-run them
// for anything left behind without risk of applying them twice.
//
// A batch whose worker died mid-run stays processing forever; the pass fails
// it once it has gone StaleBatchAfter without a progress flush, which makes it
// eligible for an operator retry.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	"github.com/tbourn/go-lead-exchange/internal/domain"
	"github.com/tbourn/go-lead-exchange/internal/observability"
	"github.com/tbourn/go-lead-exchange/internal/repo"
)

// Reconciler finishes settlements and grant credits that did not complete
// inline, fails stalled batches, and purges expired idempotency records.
type Reconciler struct {
	DB      *gorm.DB
	Ledger  *PartnerLedger
	Credits *CreditLedger

	// BatchSize caps the rows examined per kind in one run.
	BatchSize int

	// StaleBatchAfter is how long a processing batch may go without a
	// progress flush. Zero disables the sweep.
	StaleBatchAfter time.Duration

	Now func() time.Time
}

// NewReconciler returns a Reconciler examining up to 500 rows per kind and
// failing batches stalled for 30 minutes.
func NewReconciler(db *gorm.DB, ledger *PartnerLedger, credits *CreditLedger) *Reconciler {
	return &Reconciler{DB: db, Ledger: ledger, Credits: credits, BatchSize: 500, StaleBatchAfter: 30 * time.Minute, Now: time.Now}
}

// ReconcileReport counts what one run repaired.
type ReconcileReport struct {
	SettlementsApplied int   `json:"settlements_applied"`
	GrantsApplied      int   `json:"grants_applied"`
	BatchesFailed      int   `json:"batches_failed"`
	IdempotencyPurged  int64 `json:"idempotency_purged"`
	Failures           int   `json:"failures"`
}

// RunReconcile runs one pass; it lets the reconciler serve as a scheduled
// queue handler.
func (r *Reconciler) RunReconcile(ctx context.Context) error {
	_, err := r.Run(ctx)
	return err
}

// Run settles completed purchases without a settlement and applies grants
// without a credit transaction. Individual failures are counted and logged;
// only query errors abort the run.
func (r *Reconciler) Run(ctx context.Context) (*ReconcileReport, error) {
	ctx, span := otel.Tracer("services/Reconciler").Start(ctx, "Run")
	defer span.End()

	logger := log.With().Str("component", "reconciler").Logger()
	rep := &ReconcileReport{}
	limit := r.BatchSize
	if limit <= 0 {
		limit = 500
	}

	purchases, err := repo.ListUnsettledPurchases(ctx, r.DB, limit)
	if err != nil {
		return nil, err
	}
	for i := range purchases {
		applied, err := r.Ledger.Settle(ctx, &purchases[i], domain.SettlementReconcile)
		if err != nil {
			rep.Failures++
			logger.Warn().Err(err).Str("purchase_id", purchases[i].ID).Msg("settle purchase")
			continue
		}
		if applied {
			rep.SettlementsApplied++
		}
	}

	grants, err := repo.ListGrantsMissingCredit(ctx, r.DB, limit)
	if err != nil {
		return nil, err
	}
	for i := range grants {
		applied, err := r.Credits.ApplyGrant(ctx, &grants[i])
		if err != nil {
			rep.Failures++
			logger.Warn().Err(err).Str("grant_id", grants[i].ID).Msg("apply grant")
			continue
		}
		if applied {
			rep.GrantsApplied++
		}
	}

	now := time.Now
	if r.Now != nil {
		now = r.Now
	}

	if r.StaleBatchAfter > 0 {
		at := now().UTC()
		msg := fmt.Sprintf("no progress for %s; worker presumed lost", r.StaleBatchAfter)
		ids, err := repo.FailStalledBatches(ctx, r.DB, at.Add(-r.StaleBatchAfter), at, msg, limit)
		if err != nil {
			rep.Failures++
			logger.Warn().Err(err).Msg("fail stalled batches")
		}
		for _, id := range ids {
			observability.Batches.WithLabelValues(string(domain.BatchFailed)).Inc()
			logger.Warn().Str("batch_id", id).Dur("stale_after", r.StaleBatchAfter).Msg("stalled batch failed")
		}
		rep.BatchesFailed = len(ids)
	}

	n, err := repo.PurgeExpiredIdempotency(ctx, r.DB, now().UTC())
	if err != nil {
		logger.Warn().Err(err).Msg("purge idempotency")
	}
	rep.IdempotencyPurged = n

	logger.Info().
		Int("settlements", rep.SettlementsApplied).
		Int("grants", rep.GrantsApplied).
		Int("batches_failed", rep.BatchesFailed).
		Int64("idempotency_purged", n).
		Int("failures", rep.Failures).
		Msg("reconcile pass finished")
	return rep, nil
}
