// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for
// conditional responses (ETag generation) on the marketplace listing and for
// the reconciliation pass.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-lead-exchange/internal/domain"
)

// AvailableLeadsStats returns the number of listed leads matching f and the
// greatest UpdatedAt among them. When nothing matches, count is 0 and
// maxUpdatedAt is nil.
func AvailableLeadsStats(ctx context.Context, db *gorm.DB, f LeadFilter) (count int64, maxUpdatedAt *time.Time, err error) {
	if err = availableLeads(ctx, db, f).Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = availableLeads(ctx, db, f).Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// PartnerSales summarizes what a partner has sold.
type PartnerSales struct {
	LeadsSold       int64
	CommissionCents int64
}

// PartnerSalesStats aggregates settlements credited to partnerID.
func PartnerSalesStats(ctx context.Context, db *gorm.DB, partnerID string) (PartnerSales, error) {
	var out PartnerSales
	err := db.WithContext(ctx).
		Model(&domain.CommissionSettlement{}).
		Select("COUNT(*) AS leads_sold, COALESCE(SUM(commission_cents), 0) AS commission_cents").
		Where("partner_id = ?", partnerID).
		Scan(&out).Error
	return out, err
}

// CountAvailableBatchLeads returns how many leads listed by batchID are still
// for sale.
func CountAvailableBatchLeads(ctx context.Context, db *gorm.DB, batchID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.CanonicalLead{}).
		Where("batch_id = ? AND status = ?", batchID, domain.LeadAvailable).
		Count(&n).Error
	return n, err
}
