// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for partner
// ledgers and payout requests.
//
// Balance changes are single conditional UPDATEs. A debit only applies when
// the balance covers it, and at most one open payout request exists per
// partner because of the open_slot unique index.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-lead-exchange/internal/domain"
)

// EnsurePartnerLedger creates an empty ledger for partnerID if none exists.
func EnsurePartnerLedger(ctx context.Context, db *gorm.DB, partnerID string, thresholdCents int64) error {
	now := time.Now().UTC()
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "partner_id"}},
			DoNothing: true,
		}).
		Create(&domain.PartnerLedger{
			PartnerID:            partnerID,
			PayoutThresholdCents: thresholdCents,
			CreatedAt:            now,
			UpdatedAt:            now,
		}).Error
}

// GetPartnerLedger fetches a ledger, or ErrNotFound.
func GetPartnerLedger(ctx context.Context, db *gorm.DB, partnerID string) (*domain.PartnerLedger, error) {
	var l domain.PartnerLedger
	if err := db.WithContext(ctx).Where("partner_id = ?", partnerID).First(&l).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

// IncrementLifetimeLeads adds n newly listed leads to the partner's count,
// creating the ledger on first use.
func IncrementLifetimeLeads(ctx context.Context, db *gorm.DB, partnerID string, n int64) error {
	now := time.Now().UTC()
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "partner_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"lifetime_leads_uploaded": gorm.Expr("partner_ledgers.lifetime_leads_uploaded + ?", n),
				"updated_at":              now,
			}),
		}).
		Create(&domain.PartnerLedger{
			PartnerID:             partnerID,
			LifetimeLeadsUploaded: n,
			CreatedAt:             now,
			UpdatedAt:             now,
		}).Error
}

// CreditPartner adds a commission to the partner's available balance and
// lifetime earnings.
func CreditPartner(ctx context.Context, db *gorm.DB, partnerID string, cents int64) error {
	res := db.WithContext(ctx).
		Model(&domain.PartnerLedger{}).
		Where("partner_id = ?", partnerID).
		Updates(map[string]any{
			"available_balance_cents": gorm.Expr("available_balance_cents + ?", cents),
			"lifetime_earnings_cents": gorm.Expr("lifetime_earnings_cents + ?", cents),
			"updated_at":              time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DebitPartnerIfCovered removes cents from the available balance only when
// the balance covers it. It reports whether the debit applied.
func DebitPartnerIfCovered(ctx context.Context, db *gorm.DB, partnerID string, cents int64) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.PartnerLedger{}).
		Where("partner_id = ? AND available_balance_cents >= ?", partnerID, cents).
		Updates(map[string]any{
			"available_balance_cents": gorm.Expr("available_balance_cents - ?", cents),
			"updated_at":              time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// RestorePartnerBalance returns a held payout amount to the balance.
func RestorePartnerBalance(ctx context.Context, db *gorm.DB, partnerID string, cents int64) error {
	return db.WithContext(ctx).
		Model(&domain.PartnerLedger{}).
		Where("partner_id = ?", partnerID).
		Updates(map[string]any{
			"available_balance_cents": gorm.Expr("available_balance_cents + ?", cents),
			"updated_at":              time.Now().UTC(),
		}).Error
}

// SetPayoutAccount records the partner's connected payout account.
func SetPayoutAccount(ctx context.Context, db *gorm.DB, partnerID, accountID string, enabled bool) error {
	var acct *string
	if accountID != "" {
		acct = &accountID
	}
	return db.WithContext(ctx).
		Model(&domain.PartnerLedger{}).
		Where("partner_id = ?", partnerID).
		Updates(map[string]any{
			"payout_account_id": acct,
			"payouts_enabled":   enabled,
			"updated_at":        time.Now().UTC(),
		}).Error
}

// CreatePayoutRequest inserts an open payout request. It returns ErrDuplicate
// when the partner already has one open.
func CreatePayoutRequest(ctx context.Context, db *gorm.DB, pr *domain.PayoutRequest) error {
	if pr.ID == "" {
		pr.ID = uuid.NewString()
	}
	pr.Status = domain.PayoutPending
	slot := pr.PartnerID
	pr.OpenSlot = &slot
	now := time.Now().UTC()
	pr.CreatedAt, pr.UpdatedAt = now, now
	if err := db.WithContext(ctx).Create(pr).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetPayoutRequest fetches a payout request, or ErrNotFound.
func GetPayoutRequest(ctx context.Context, db *gorm.DB, id string) (*domain.PayoutRequest, error) {
	var pr domain.PayoutRequest
	if err := db.WithContext(ctx).Where("id = ?", id).First(&pr).Error; err != nil {
		return nil, err
	}
	return &pr, nil
}

// GetOpenPayoutRequest returns the partner's non-terminal request, or
// ErrNotFound.
func GetOpenPayoutRequest(ctx context.Context, db *gorm.DB, partnerID string) (*domain.PayoutRequest, error) {
	var pr domain.PayoutRequest
	err := db.WithContext(ctx).
		Where("partner_id = ? AND status IN ?", partnerID, []domain.PayoutStatus{domain.PayoutPending, domain.PayoutApproved}).
		First(&pr).Error
	if err != nil {
		return nil, err
	}
	return &pr, nil
}

// TransitionPayoutRequest moves a request from one of from to next. Terminal
// targets release the open slot. It reports whether a row changed.
func TransitionPayoutRequest(ctx context.Context, db *gorm.DB, id string, from []domain.PayoutStatus, next domain.PayoutStatus, reason *string) (bool, error) {
	now := time.Now().UTC()
	cols := map[string]any{
		"status":     next,
		"updated_at": now,
	}
	if next.Terminal() {
		cols["open_slot"] = nil
		cols["resolved_at"] = now
	}
	if reason != nil {
		cols["rejection_reason"] = *reason
	}
	res := db.WithContext(ctx).
		Model(&domain.PayoutRequest{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(cols)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
