// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for CanonicalLead.
//
// Two functions carry the pool's invariants:
//
//   - InsertLeadIfAbsent relies on the unique fingerprint index with
//     ON CONFLICT DO NOTHING, so one fingerprint maps to at most one lead even
//     when several batches race on it.
//
//   - ClaimLead is a compare-and-swap on status: exactly one caller can move a
//     lead from available to sold.
package repo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-lead-exchange/internal/domain"
)

// InsertLeadIfAbsent inserts lead unless its fingerprint already exists.
// It reports whether a new row was created.
func InsertLeadIfAbsent(ctx context.Context, db *gorm.DB, lead *domain.CanonicalLead) (bool, error) {
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	if lead.Status == "" {
		lead.Status = domain.LeadAvailable
	}
	now := time.Now().UTC()
	lead.CreatedAt, lead.UpdatedAt = now, now

	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "fingerprint"}},
			DoNothing: true,
		}).
		Create(lead)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// FindLeadIDByFingerprint returns the id of the lead holding fp, or
// ErrNotFound.
func FindLeadIDByFingerprint(ctx context.Context, db *gorm.DB, fp string) (string, error) {
	var row struct{ ID string }
	err := db.WithContext(ctx).
		Model(&domain.CanonicalLead{}).
		Select("id").
		Where("fingerprint = ?", fp).
		Take(&row).Error
	if err != nil {
		return "", err
	}
	return row.ID, nil
}

// GetLead fetches a lead by id, or ErrNotFound.
func GetLead(ctx context.Context, db *gorm.DB, id string) (*domain.CanonicalLead, error) {
	var l domain.CanonicalLead
	if err := db.WithContext(ctx).Where("id = ?", id).First(&l).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

// ClaimLead atomically transfers an available lead to workspaceID. It
// reports false when the lead was not available (already sold or missing).
func ClaimLead(ctx context.Context, db *gorm.DB, leadID, workspaceID string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.CanonicalLead{}).
		Where("id = ? AND status = ?", leadID, domain.LeadAvailable).
		Updates(map[string]any{
			"status":       domain.LeadSold,
			"workspace_id": workspaceID,
			"sold_at":      now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// LeadFilter narrows the marketplace listing. Zero values match everything.
type LeadFilter struct {
	Industry       string
	Country        string
	MinIntentScore int
	Verified       bool
}

func availableLeads(ctx context.Context, db *gorm.DB, f LeadFilter) *gorm.DB {
	q := db.WithContext(ctx).
		Model(&domain.CanonicalLead{}).
		Where("status = ?", domain.LeadAvailable)
	if s := strings.TrimSpace(f.Industry); s != "" {
		q = q.Where("LOWER(industry) = ?", strings.ToLower(s))
	}
	if s := strings.TrimSpace(f.Country); s != "" {
		q = q.Where("LOWER(country) = ?", strings.ToLower(s))
	}
	if f.MinIntentScore > 0 {
		q = q.Where("intent_score >= ?", f.MinIntentScore)
	}
	if f.Verified {
		q = q.Where("verification_status = ?", domain.VerificationVerified)
	}
	return q
}

// CountAvailableLeads returns the number of listed leads matching f.
func CountAvailableLeads(ctx context.Context, db *gorm.DB, f LeadFilter) (int64, error) {
	var n int64
	err := availableLeads(ctx, db, f).Count(&n).Error
	return n, err
}

// ListAvailableLeads returns a page of listed leads, newest first.
func ListAvailableLeads(ctx context.Context, db *gorm.DB, f LeadFilter, offset, limit int) ([]domain.CanonicalLead, error) {
	var out []domain.CanonicalLead
	err := availableLeads(ctx, db, f).
		Order("created_at DESC").
		Order("id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// LeadsForPurchase returns the leads linked to purchaseID through its items.
func LeadsForPurchase(ctx context.Context, db *gorm.DB, purchaseID string) ([]domain.CanonicalLead, error) {
	var out []domain.CanonicalLead
	err := db.WithContext(ctx).
		Model(&domain.CanonicalLead{}).
		Joins("JOIN purchase_items pi ON pi.lead_id = canonical_leads.id").
		Where("pi.purchase_id = ?", purchaseID).
		Order("canonical_leads.company_name ASC").
		Find(&out).Error
	return out, err
}
