// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for marketplace
// purchases, their items, commission settlements and download audits.
//
// Error semantics:
//   - CreatePurchase returns ErrDuplicate when the payment intent id was
//     already recorded; callers reload the existing purchase and treat the
//     call as a replay.
//   - InsertSettlementIfAbsent reports false when the purchase was already
//     settled.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-lead-exchange/internal/domain"
)

// CreatePurchase inserts a purchase row. The payment intent id is unique.
func CreatePurchase(ctx context.Context, db *gorm.DB, p *domain.MarketplacePurchase) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = domain.PurchasePending
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	if err := db.WithContext(ctx).Omit(clause.Associations).Create(p).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetPurchase fetches a purchase with its items, or ErrNotFound.
func GetPurchase(ctx context.Context, db *gorm.DB, id string) (*domain.MarketplacePurchase, error) {
	var p domain.MarketplacePurchase
	err := db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", id).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPurchaseByIntent fetches the purchase recorded for a payment intent.
func GetPurchaseByIntent(ctx context.Context, db *gorm.DB, intentID string) (*domain.MarketplacePurchase, error) {
	var p domain.MarketplacePurchase
	err := db.WithContext(ctx).
		Preload("Items").
		Where("stripe_payment_intent_id = ?", intentID).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CompletePurchase marks a pending purchase completed.
func CompletePurchase(ctx context.Context, db *gorm.DB, id string, now time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.MarketplacePurchase{}).
		Where("id = ? AND status = ?", id, domain.PurchasePending).
		Updates(map[string]any{
			"status":       domain.PurchaseCompleted,
			"completed_at": now,
			"updated_at":   now,
		}).Error
}

// FailPurchase marks a pending purchase failed with reason.
func FailPurchase(ctx context.Context, db *gorm.DB, id, reason string) error {
	return db.WithContext(ctx).
		Model(&domain.MarketplacePurchase{}).
		Where("id = ? AND status = ?", id, domain.PurchasePending).
		Updates(map[string]any{
			"status":         domain.PurchaseFailed,
			"failure_reason": reason,
			"updated_at":     time.Now().UTC(),
		}).Error
}

// CreatePurchaseItem links a lead to a purchase. The lead id is unique across
// items.
func CreatePurchaseItem(ctx context.Context, db *gorm.DB, it *domain.PurchaseItem) error {
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	it.CreatedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Create(it).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// InsertSettlementIfAbsent records a settlement unless one exists for the
// purchase. It reports whether a new row was created.
func InsertSettlementIfAbsent(ctx context.Context, db *gorm.DB, s *domain.CommissionSettlement) (bool, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.CreatedAt = time.Now().UTC()
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "purchase_id"}},
			DoNothing: true,
		}).
		Create(s)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// GetSettlement fetches the settlement for a purchase, or ErrNotFound.
func GetSettlement(ctx context.Context, db *gorm.DB, purchaseID string) (*domain.CommissionSettlement, error) {
	var s domain.CommissionSettlement
	if err := db.WithContext(ctx).Where("purchase_id = ?", purchaseID).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// ListUnsettledPurchases returns completed purchases that have no settlement
// row, oldest first, with their items loaded.
func ListUnsettledPurchases(ctx context.Context, db *gorm.DB, limit int) ([]domain.MarketplacePurchase, error) {
	var out []domain.MarketplacePurchase
	err := db.WithContext(ctx).
		Preload("Items").
		Where("status = ?", domain.PurchaseCompleted).
		Where("NOT EXISTS (SELECT 1 FROM commission_settlements cs WHERE cs.purchase_id = marketplace_purchases.id)").
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CreateDownloadAudit records one export of a purchase.
func CreateDownloadAudit(ctx context.Context, db *gorm.DB, a *domain.DownloadAudit) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = time.Now().UTC()
	return db.WithContext(ctx).Create(a).Error
}

// CountDownloadAudits returns how many times a purchase was exported.
func CountDownloadAudits(ctx context.Context, db *gorm.DB, purchaseID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.DownloadAudit{}).
		Where("purchase_id = ?", purchaseID).
		Count(&n).Error
	return n, err
}
